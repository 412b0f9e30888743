package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"wsnotifier/internal/broadcast"
	"wsnotifier/internal/commands"
	"wsnotifier/internal/config"
	"wsnotifier/internal/decoration"
	"wsnotifier/internal/envelope"
	"wsnotifier/internal/observability/debugsrv"
	"wsnotifier/internal/pipeline"
	"wsnotifier/internal/source"
	"wsnotifier/internal/storage"
	telegram "wsnotifier/internal/transport/telegram/adapter"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

const (
	defaultStoragePath = "./data/wsnotifier.sqlite"
	defaultLocale      = "en"
	defaultPollTimeout = 10 * time.Second
	defaultStorageBusy = 5 * time.Second
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// parseGroupLog reads telegram.group_log: "chat_id" or "chat_id:thread_id".
// An explicit thread wins over logging.telegram.thread_id.
func parseGroupLog(raw string, fallbackThread int) (chatID int64, threadID int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false
	}
	chatPart, threadPart, hasThread := strings.Cut(raw, ":")
	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	threadID = fallbackThread
	if hasThread {
		if threadID, err = strconv.Atoi(strings.TrimSpace(threadPart)); err != nil {
			return 0, 0, false
		}
	}
	return chatID, threadID, true
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultStorageBusy)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultStoragePath
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapPlatforms(cfg *config.Config) ([]worldstate.Platform, error) {
	return worldstate.ParsePlatforms(cfg.Source.Platforms)
}

func mapSourceConfig(cfg *config.Config, platforms []worldstate.Platform) (source.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, source.DefaultTimeout)
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		Kind:         cfg.Source.Kind,
		Platforms:    platforms,
		Schedule:     cfg.Source.Schedule,
		BaseURL:      cfg.Source.BaseURL,
		WebSocketURL: cfg.Source.WebSocketURL,
		Brokers:      cfg.Source.Kafka.Brokers,
		Topic:        cfg.Source.Kafka.Topic,
		GroupID:      cfg.Source.Kafka.GroupID,
		Timeout:      timeout,
	}, nil
}

// pipelineSettings are the startup-only knobs of the pipeline section.
type pipelineSettings struct {
	tolerance     time.Duration
	concurrency   int
	locales       []string
	defaultLocale string
	ceiling       int
	group         int
	queueSize     int
	persist       bool
	maxLookback   time.Duration
}

func mapPipelineConfig(cfg *config.Config, available []string) (pipelineSettings, error) {
	pc := cfg.Pipeline
	tol, err := config.ParseDurationOrDefault("pipeline.tolerance", pc.Tolerance, pipeline.DefaultTolerance)
	if err != nil {
		return pipelineSettings{}, err
	}
	lookback, err := config.ParseDurationOrDefault("pipeline.max_lookback", pc.MaxLookback, pipeline.DefaultMaxLookback)
	if err != nil {
		return pipelineSettings{}, err
	}
	s := pipelineSettings{
		tolerance:     tol,
		concurrency:   pc.Concurrency,
		locales:       pc.Locales,
		defaultLocale: strings.TrimSpace(pc.DefaultLocale),
		ceiling:       pc.FieldCeiling,
		group:         pc.FieldGroupSize,
		queueSize:     pc.QueueSize,
		persist:       pc.PersistWatermarks,
		maxLookback:   lookback,
	}
	if len(s.locales) == 0 {
		s.locales = available
	}
	if s.defaultLocale == "" {
		s.defaultLocale = defaultLocale
	}
	if s.ceiling <= 0 {
		s.ceiling = envelope.DefaultFieldCeiling
	}
	if s.group <= 0 {
		s.group = envelope.DefaultGroupSize
	}
	if s.group > s.ceiling {
		s.group = s.ceiling
	}
	if s.concurrency <= 0 {
		s.concurrency = pipeline.DefaultConcurrency
	}
	if s.queueSize <= 0 {
		s.queueSize = pipeline.DefaultQueueSize
	}
	return s, nil
}

func mapSyndicates(cfg *config.Config) ([]pipeline.Syndicate, error) {
	eff := cfg.EffectiveSyndicates()
	out := make([]pipeline.Syndicate, 0, len(eff))
	for i, s := range eff {
		timeout, err := config.ParseDurationField(fmt.Sprintf("syndicates[%d].timeout", i), s.Timeout)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.Syndicate{
			Key:        s.Key,
			Display:    s.Display,
			Prefix:     s.Prefix,
			Timeout:    timeout,
			Notifiable: s.Notifiable,
		})
	}
	return out, nil
}

// catalogFor lists the syndicate keys chats may track.
func catalogFor(syns []pipeline.Syndicate) *commands.Catalog {
	keys := make([]string, 0, len(syns))
	for _, s := range syns {
		if s.Notifiable {
			keys = append(keys, s.Prefix+s.Key)
		}
	}
	return commands.NewCatalog(keys)
}

func mapDecorationConfig(cfg *config.Config) (decoration.Config, error) {
	dc := cfg.Decoration
	timeout, err := config.ParseDurationOrDefault("decoration.timeout", dc.Timeout, decoration.DefaultTimeout)
	if err != nil {
		return decoration.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("decoration.cache_ttl", dc.CacheTTL, decoration.DefaultCacheTTL)
	if err != nil {
		return decoration.Config{}, err
	}
	return decoration.Config{Enabled: dc.Enabled, APIBase: dc.APIBase, CDNBase: dc.CDNBase, Timeout: timeout, CacheTTL: ttl}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	if bc.Workers < 0 || bc.QueueSize < 0 || bc.RatePerSec < 0 || bc.RetryMax < 0 {
		return broadcast.Config{}, fmt.Errorf("broadcast: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	base, err := config.ParseDurationField("broadcast.retry_base", bc.RetryBase)
	if err != nil {
		return broadcast.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("broadcast.retry_max_delay", bc.RetryMaxDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("broadcast.send_timeout", bc.SendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Enabled:       bc.Enabled,
		Workers:       bc.Workers,
		QueueSize:     bc.QueueSize,
		RatePerSec:    bc.RatePerSec,
		RetryMax:      bc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
		SweepSchedule: bc.SweepSchedule,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	dc := cfg.Debug
	read, err := config.ParseDurationField("debug.read_timeout", dc.ReadTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	write, err := config.ParseDurationField("debug.write_timeout", dc.WriteTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idle, err := config.ParseDurationField("debug.idle_timeout", dc.IdleTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:       dc.Enabled,
		Addr:          dc.Addr,
		Prefix:        dc.Prefix,
		Token:         dc.Token,
		AllowInsecure: dc.AllowInsecure,
		Metrics:       dc.Metrics,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validateMappings runs every mapper so a reload is rejected before commit.
func validateMappings(cfg *config.Config) error {
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSyndicates(cfg); err != nil {
		return err
	}
	if _, err := mapDecorationConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBroadcastConfig(cfg); err != nil {
		return err
	}
	_, err := mapDebugConfig(cfg)
	return err
}
