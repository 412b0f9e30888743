// Package source feeds worldstate snapshots into the pipeline. Three feeds
// are supported: an HTTP poller, a WebSocket stream and a Kafka topic. Each
// decodes snapshots and hands them to a Submitter per platform.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

const (
	KindHTTP      = "http"
	KindWebSocket = "websocket"
	KindKafka     = "kafka"

	DefaultBaseURL  = "https://api.warframestat.us"
	DefaultSchedule = "@every 1m"
	DefaultTimeout  = 30 * time.Second
)

// Submitter accepts decoded snapshots. *pipeline.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, p worldstate.Platform, snap *worldstate.Snapshot) error
}

// Source runs until ctx ends or the feed breaks. A non-nil error asks the
// caller to restart it.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

type Config struct {
	Kind         string
	Platforms    []worldstate.Platform
	Schedule     string
	BaseURL      string
	WebSocketURL string
	Brokers      []string
	Topic        string
	GroupID      string
	Timeout      time.Duration
}

// New builds the source selected by cfg.Kind.
func New(cfg Config, sub Submitter, log logx.Logger) (Source, error) {
	if sub == nil {
		return nil, errors.New("source: submitter is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = worldstate.All()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindHTTP:
		return NewPoller(cfg, sub, log)
	case KindWebSocket:
		return NewStream(cfg, sub, log)
	case KindKafka:
		return NewKafka(cfg, sub, log)
	default:
		return nil, fmt.Errorf("source: unknown kind %q", cfg.Kind)
	}
}

// accepts reports whether p is one of the configured platforms.
func accepts(platforms []worldstate.Platform, p worldstate.Platform) bool {
	for _, q := range platforms {
		if q == p {
			return true
		}
	}
	return false
}

// route decodes one payload for platform name and submits it. Unknown or
// unconfigured platforms are skipped.
func route(ctx context.Context, sub Submitter, platforms []worldstate.Platform, name string, payload []byte) error {
	p, err := worldstate.ParsePlatform(name)
	if err != nil {
		return err
	}
	if !accepts(platforms, p) {
		return nil
	}
	snap, err := worldstate.DecodeBytes(payload)
	if err != nil {
		return fmt.Errorf("decode %s snapshot: %w", p, err)
	}
	return sub.Submit(ctx, p, snap)
}
