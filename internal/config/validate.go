package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"

	"wsnotifier/internal/schedule"
	"wsnotifier/internal/worldstate"
)

// Validate rejects configs that cannot start the pipeline. It reports every
// problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Kind)) {
	case "", SourceHTTP:
		if strings.TrimSpace(cfg.Source.BaseURL) != "" {
			if _, err := url.ParseRequestURI(cfg.Source.BaseURL); err != nil {
				add("source.base_url: %w", err)
			}
		}
	case SourceWebSocket:
		if strings.TrimSpace(cfg.Source.WebSocketURL) == "" {
			add("source.websocket_url is required for kind %q", SourceWebSocket)
		}
	case SourceKafka:
		if len(cfg.Source.Kafka.Brokers) == 0 || strings.TrimSpace(cfg.Source.Kafka.Topic) == "" {
			add("source.kafka needs brokers and topic")
		}
	default:
		add("source.kind: unknown %q", cfg.Source.Kind)
	}

	for _, p := range cfg.Source.Platforms {
		if _, err := worldstate.ParsePlatform(p); err != nil {
			add("source.platforms: %w", err)
		}
	}
	for _, loc := range cfg.Pipeline.Locales {
		if _, err := language.Parse(loc); err != nil {
			add("pipeline.locales: %q: %w", loc, err)
		}
	}
	if d := strings.TrimSpace(cfg.Pipeline.DefaultLocale); d != "" {
		if _, err := language.Parse(d); err != nil {
			add("pipeline.default_locale: %q: %w", d, err)
		}
	}
	if cfg.Pipeline.FieldCeiling < 0 || cfg.Pipeline.FieldGroupSize < 0 {
		add("pipeline: field sizes must be >= 0")
	}
	if cfg.Pipeline.FieldGroupSize > 0 && cfg.Pipeline.FieldCeiling > 0 && cfg.Pipeline.FieldGroupSize > cfg.Pipeline.FieldCeiling {
		add("pipeline.field_group_size must not exceed field_ceiling")
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":     cfg.Telegram.PollTimeout,
		"storage.busy_timeout":      cfg.Storage.BusyTimeout,
		"source.timeout":            cfg.Source.Timeout,
		"pipeline.tolerance":        cfg.Pipeline.Tolerance,
		"pipeline.max_lookback":     cfg.Pipeline.MaxLookback,
		"decoration.timeout":        cfg.Decoration.Timeout,
		"decoration.cache_ttl":      cfg.Decoration.CacheTTL,
		"broadcast.retry_base":      cfg.Broadcast.RetryBase,
		"broadcast.retry_max_delay": cfg.Broadcast.RetryMaxDelay,
		"broadcast.send_timeout":    cfg.Broadcast.SendTimeout,
		"debug.read_timeout":        cfg.Debug.ReadTimeout,
		"debug.write_timeout":       cfg.Debug.WriteTimeout,
		"debug.idle_timeout":        cfg.Debug.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	for path, raw := range map[string]string{
		"source.schedule":          cfg.Source.Schedule,
		"broadcast.sweep_schedule": cfg.Broadcast.SweepSchedule,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := schedule.Validate(raw); err != nil {
			add("%s: %w", path, err)
		}
	}

	seen := map[string]bool{}
	for i, s := range cfg.Syndicates {
		k := strings.TrimSpace(s.Key)
		if k == "" {
			add("syndicates[%d]: key is required", i)
			continue
		}
		if seen[k] {
			add("syndicates[%d]: duplicate key %q", i, k)
		}
		seen[k] = true
		if _, err := ParseDurationField(fmt.Sprintf("syndicates[%d].timeout", i), s.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
