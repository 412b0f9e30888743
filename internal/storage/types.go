package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const (
	DefaultPlatform = "pc"
	DefaultLanguage = "en"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Channel is a delivery target and its preferences.
type Channel struct {
	ChatID   int64
	ThreadID int
	Platform string
	Language string
}

// Tracking is what one channel subscribed to.
type Tracking struct {
	Types []string
	Items []string
}

// LiveMessage is a delivered notice that may be replaced or retired later.
// A zero ExpiresAt never expires.
type LiveMessage struct {
	Platform  string
	Key       string
	ChatID    int64
	ThreadID  int
	MessageID int
	Group     string
	ExpiresAt time.Time
}
