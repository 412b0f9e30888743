package debugsrv

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wsnotifier/internal/metrics"
	"wsnotifier/pkg/logx"
)

func TestHandlerRoutesAndAuth(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.IncDelivery("sent")
	s := New(Config{}, m.Handler(), func() map[string]any { return map[string]any{"queue": 3} }, logx.Nop())
	h := s.handler(Config{Token: "s3cret", Metrics: true, Prefix: "dbg"})

	cases := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{name: "no token", path: "/healthz", code: http.StatusUnauthorized},
		{name: "wrong token", path: "/healthz?token=nope", code: http.StatusUnauthorized},
		{name: "query token", path: "/healthz?token=s3cret", code: http.StatusOK, body: `"queue":3`},
		{name: "bearer", path: "/metrics", header: "Bearer s3cret", code: http.StatusOK, body: `wsnotifier_deliveries_total{outcome="sent"} 1`},
		{name: "pprof prefix", path: "/dbg/?token=s3cret", code: http.StatusOK, body: "goroutine"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.code {
				t.Fatalf("code=%d, want %d", rec.Code, tc.code)
			}
			if tc.body != "" && !strings.Contains(rec.Body.String(), tc.body) {
				t.Fatalf("body missing %q:\n%s", tc.body, rec.Body.String())
			}
		})
	}
}

func TestMetricsOffByDefault(t *testing.T) {
	t.Parallel()
	s := New(Config{}, metrics.New().Handler(), nil, logx.Nop())
	rec := httptest.NewRecorder()
	s.handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.2:6060":  false,
		"nonsense":       false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q)=%v, want %v", addr, got, want)
		}
	}
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil || got["status"] != "ok" {
		t.Fatalf("healthz body %q err=%v", body, err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatal("listener still set after Stop")
	}
}
