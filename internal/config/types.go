package config

// Config is the on-disk shape (JSON or YAML). Durations are Go duration
// strings and are resolved by the component that owns them.
type Config struct {
	Telegram   TelegramConfig    `json:"telegram"`
	Logging    LoggingConfig     `json:"logging"`
	Storage    StorageConfig     `json:"storage"`
	Source     SourceConfig      `json:"source"`
	Pipeline   PipelineConfig    `json:"pipeline"`
	Syndicates []SyndicateConfig `json:"syndicates,omitempty"`
	Decoration DecorationConfig  `json:"decoration"`
	Broadcast  BroadcastConfig   `json:"broadcast"`
	Debug      DebugConfig       `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is "chat_id" or "chat_id:thread_id" for log forwarding.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig points at the sqlite database holding channels,
// subscriptions, live messages and cycle watermarks.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

const (
	SourceHTTP      = "http"
	SourceWebSocket = "websocket"
	SourceKafka     = "kafka"
)

type SourceConfig struct {
	Kind      string   `json:"kind"`
	Platforms []string `json:"platforms"`

	// Schedule drives the http poller: a duration like "60s", a cron
	// expression like "@every 1m" or an "HH:MM" interval.
	Schedule     string      `json:"schedule,omitempty"`
	BaseURL      string      `json:"base_url,omitempty"`
	WebSocketURL string      `json:"websocket_url,omitempty"`
	Kafka        KafkaConfig `json:"kafka,omitempty"`
	Timeout      string      `json:"timeout,omitempty"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	GroupID string   `json:"group_id,omitempty"`
}

type PipelineConfig struct {
	Tolerance      string   `json:"tolerance,omitempty"`
	Concurrency    int      `json:"concurrency,omitempty"`
	Locales        []string `json:"locales,omitempty"`
	DefaultLocale  string   `json:"default_locale,omitempty"`
	FieldCeiling   int      `json:"field_ceiling,omitempty"`
	FieldGroupSize int      `json:"field_group_size,omitempty"`
	QueueSize      int      `json:"queue_size,omitempty"`

	// PersistWatermarks stores each platform's last cycle start so a
	// restart does not replay or skip a window.
	PersistWatermarks bool `json:"persist_watermarks,omitempty"`

	// MaxLookback bounds how old a restored watermark may be; older ones
	// are clamped to now minus this.
	MaxLookback string `json:"max_lookback,omitempty"`
}

type SyndicateConfig struct {
	Key        string `json:"key"`
	Display    string `json:"display"`
	Prefix     string `json:"prefix,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	Notifiable bool   `json:"notifiable"`
}

type DecorationConfig struct {
	Enabled  bool   `json:"enabled"`
	APIBase  string `json:"api_base,omitempty"`
	CDNBase  string `json:"cdn_base,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`
}

type BroadcastConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	// SweepSchedule is a robfig/cron spec for retiring expired messages.
	SweepSchedule string `json:"sweep_schedule,omitempty"`
}

// DebugConfig controls the loopback debug server (pprof and /metrics).
//
// Binding a non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
