package broadcast

import (
	"context"
	"errors"
	"time"

	"wsnotifier/internal/storage"
	"wsnotifier/internal/transport"
)

var (
	ErrQueueFull = errors.New("broadcast queue full")
	ErrStopped   = errors.New("broadcast stopped")
)

const (
	DefaultSweepSchedule = "@every 1m"
	sweepBatch           = 200
	parseModeHTML        = "HTML"
)

// Config controls the delivery pipeline. A disabled service accepts
// broadcasts and discards them.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	SweepSchedule string
}

// Sender is the subset of a chat adapter the service needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	DeleteMessage(ctx context.Context, ref transport.MessageRef) error
}

// Directory resolves subscribers and tracks live messages.
type Directory interface {
	Subscribers(ctx context.Context, platform, key string, tags []string) ([]storage.Channel, error)
	ReplaceLive(ctx context.Context, m storage.LiveMessage) ([]storage.LiveMessage, error)
	ExpiredLive(ctx context.Context, now time.Time, limit int) ([]storage.LiveMessage, error)
	DeleteLive(ctx context.Context, chatID int64, threadID, messageID int) error
}

// LocaleResolver maps a channel's language preference to a configured locale.
type LocaleResolver interface {
	Resolve(code string) string
}

// DeliveryEvent is the payload of broadcast events on the bus.
type DeliveryEvent struct {
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

type job struct {
	target    transport.ChatTarget
	text      string
	preview   bool
	platform  string
	key       string
	locale    string
	group     string
	expiresAt time.Time
}
