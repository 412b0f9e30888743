package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverlay holds the settings that deployments usually inject through the
// environment instead of the config file. Empty values leave the file alone.
type envOverlay struct {
	TelegramToken string   `env:"WSN_TELEGRAM_TOKEN"`
	StoragePath   string   `env:"WSN_STORAGE_PATH"`
	SourceKind    string   `env:"WSN_SOURCE_KIND"`
	SourceBaseURL string   `env:"WSN_SOURCE_BASE_URL"`
	KafkaBrokers  []string `env:"WSN_KAFKA_BROKERS" envSeparator:","`
	LogLevel      string   `env:"WSN_LOG_LEVEL"`
	DebugToken    string   `env:"WSN_DEBUG_TOKEN"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; already-set variables win.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, environ map[string]string) error {
	var o envOverlay
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("env overlay: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Storage.Path, o.StoragePath)
	set(&cfg.Source.Kind, o.SourceKind)
	set(&cfg.Source.BaseURL, o.SourceBaseURL)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Debug.Token, o.DebugToken)
	if len(o.KafkaBrokers) > 0 {
		brokers := make([]string, 0, len(o.KafkaBrokers))
		for _, b := range o.KafkaBrokers {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		if len(brokers) > 0 {
			cfg.Source.Kafka.Brokers = brokers
		}
	}
	return nil
}
