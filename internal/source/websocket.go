package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wsnotifier/pkg/logx"
)

const (
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 30 * time.Second
)

// streamMessage is one frame of the snapshot stream.
type streamMessage struct {
	Platform string          `json:"platform"`
	Data     json.RawMessage `json:"data"`
}

// Stream reads snapshots pushed over a WebSocket.
type Stream struct {
	cfg    Config
	dialer *websocket.Dialer
	sub    Submitter
	log    logx.Logger
}

func NewStream(cfg Config, sub Submitter, log logx.Logger) (*Stream, error) {
	if cfg.WebSocketURL == "" {
		return nil, errors.New("source: websocket url is required")
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = cfg.Timeout
	return &Stream{cfg: cfg, dialer: &d, sub: sub, log: log.With(logx.String("source", KindWebSocket))}, nil
}

func (s *Stream) Name() string { return "source." + KindWebSocket }

// Run holds one connection until it breaks or ctx ends.
func (s *Stream) Run(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.WebSocketURL, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.WebSocketURL, err)
	}
	defer conn.Close()
	s.log.Info("stream connected", logx.String("url", s.cfg.WebSocketURL))

	conn.SetReadLimit(maxSnapshotBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("stream closed by peer: %w", err)
			}
			return fmt.Errorf("stream read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := route(ctx, s.sub, s.cfg.Platforms, msg.Platform, msg.Data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("stream message skipped", logx.String("platform", msg.Platform), logx.Err(err))
		}
	}
}
