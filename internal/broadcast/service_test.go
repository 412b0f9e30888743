package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wsnotifier/internal/envelope"
	"wsnotifier/internal/storage"
	"wsnotifier/internal/transport"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

type sent struct {
	to   transport.ChatTarget
	text string
	opt  transport.SendOptions
}

type fakeSender struct {
	mu      sync.Mutex
	nextID  int
	sent    []sent
	deleted []transport.MessageRef
	failN   int           // fail this many sends first
	block   chan struct{} // when set, sends wait on it
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return transport.MessageRef{}, errors.New("flood wait")
	}
	f.nextID++
	f.sent = append(f.sent, sent{to: to, text: text, opt: *opt})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeSender) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent), len(f.deleted)
}

type fakeDirectory struct {
	mu   sync.Mutex
	subs []storage.Channel
	live []storage.LiveMessage
}

func (d *fakeDirectory) Subscribers(_ context.Context, platform, key string, _ []string) ([]storage.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []storage.Channel
	for _, c := range d.subs {
		if c.Platform == platform {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) ReplaceLive(_ context.Context, m storage.LiveMessage) ([]storage.LiveMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var keep, old []storage.LiveMessage
	for _, l := range d.live {
		same := l.Platform == m.Platform && l.Key == m.Key && l.ChatID == m.ChatID && l.ThreadID == m.ThreadID
		if same && (l.Group == "" || l.Group != m.Group) {
			old = append(old, l)
			continue
		}
		keep = append(keep, l)
	}
	d.live = append(keep, m)
	return old, nil
}

func (d *fakeDirectory) ExpiredLive(_ context.Context, now time.Time, limit int) ([]storage.LiveMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []storage.LiveMessage
	for _, l := range d.live {
		if !l.ExpiresAt.IsZero() && !l.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, l)
		}
	}
	return out, nil
}

func (d *fakeDirectory) DeleteLive(_ context.Context, chatID int64, threadID, messageID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.live[:0]
	for _, l := range d.live {
		if l.ChatID == chatID && l.ThreadID == threadID && l.MessageID == messageID {
			continue
		}
		out = append(out, l)
	}
	d.live = out
	return nil
}

func (d *fakeDirectory) liveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

type prefixResolver struct{}

func (prefixResolver) Resolve(code string) string {
	if strings.HasPrefix(code, "de") {
		return "de"
	}
	return "en"
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testConfig() Config {
	return Config{Enabled: true, Workers: 1, QueueSize: 16, RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func startService(t *testing.T, cfg Config, s Sender, d Directory, opts ...Option) *Service {
	t.Helper()
	svc := New(cfg, s, d, prefixResolver{}, logx.Nop(), opts...)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func TestBroadcastRoutesByLocaleAndReplaces(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	dir := &fakeDirectory{subs: []storage.Channel{
		{ChatID: 1, Platform: "pc", Language: "en"},
		{ChatID: 2, Platform: "pc", Language: "de-AT"},
		{ChatID: 3, Platform: "ps4", Language: "en"},
	}}
	svc := startService(t, testConfig(), snd, dir)
	env := envelope.Envelope{Locale: "en", Title: "Alert", Description: "Vor's Prize"}

	ctx := context.Background()
	if err := svc.Broadcast(ctx, env, worldstate.PC, "alerts", nil, time.Hour); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first send", func() bool { n, _ := snd.counts(); return n == 1 })
	waitFor(t, "first live record", func() bool { return dir.liveCount() == 1 })

	if err := svc.Broadcast(ctx, env, worldstate.PC, "alerts", nil, time.Hour); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "replacement", func() bool { _, d := snd.counts(); return d == 1 })

	snd.mu.Lock()
	defer snd.mu.Unlock()
	for _, s := range snd.sent {
		if s.to.ChatID != 1 {
			t.Fatalf("sent to chat %d, want only chat 1", s.to.ChatID)
		}
		if s.opt.ParseMode != "HTML" || !s.opt.DisablePreview {
			t.Fatalf("options = %+v", s.opt)
		}
	}
	if snd.deleted[0].MessageID != 1 {
		t.Fatalf("deleted %+v, want the first message", snd.deleted[0])
	}
}

func TestSplitCompanionsAreNotDisplaced(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	dir := &fakeDirectory{subs: []storage.Channel{{ChatID: 1, Platform: "pc", Language: "en"}}}
	svc := startService(t, testConfig(), snd, dir)

	parts := envelope.Split(envelope.Envelope{Locale: "en", Title: "Baro", Fields: make([]envelope.Field, 40)}, 25, 15)
	for _, p := range parts {
		if err := svc.Broadcast(context.Background(), p, worldstate.PC, "baro", nil, 0); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "three parts", func() bool { return dir.liveCount() == 3 })
	if _, d := snd.counts(); d != 0 {
		t.Fatalf("%d companions deleted", d)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{failN: 2}
	dir := &fakeDirectory{subs: []storage.Channel{{ChatID: 7, Platform: "pc", Language: "en"}}}
	svc := startService(t, testConfig(), snd, dir)

	if err := svc.Broadcast(context.Background(), envelope.Envelope{Locale: "en", Title: "x"}, worldstate.PC, "news", nil, 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retried send", func() bool { n, _ := snd.counts(); return n == 1 })
}

func TestBroadcastQueueFull(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{block: make(chan struct{})}
	dir := &fakeDirectory{subs: []storage.Channel{
		{ChatID: 1, Platform: "pc", Language: "en"},
		{ChatID: 2, Platform: "pc", Language: "en"},
		{ChatID: 3, Platform: "pc", Language: "en"},
	}}
	cfg := testConfig()
	cfg.QueueSize = 1
	svc := startService(t, cfg, snd, dir)
	t.Cleanup(func() { close(snd.block) })

	err := svc.Broadcast(context.Background(), envelope.Envelope{Locale: "en", Title: "x"}, worldstate.PC, "alerts", nil, 0)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestBroadcastDisabledAndStopped(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	dir := &fakeDirectory{subs: []storage.Channel{{ChatID: 1, Platform: "pc", Language: "en"}}}
	env := envelope.Envelope{Locale: "en", Title: "x"}

	disabled := New(Config{}, snd, dir, prefixResolver{}, logx.Nop())
	disabled.Start(context.Background())
	if err := disabled.Broadcast(context.Background(), env, worldstate.PC, "alerts", nil, 0); err != nil {
		t.Fatalf("disabled broadcast err = %v", err)
	}

	stopped := New(testConfig(), snd, dir, prefixResolver{}, logx.Nop())
	if err := stopped.Broadcast(context.Background(), env, worldstate.PC, "alerts", nil, 0); !errors.Is(err, ErrStopped) {
		t.Fatalf("unstarted broadcast err = %v, want ErrStopped", err)
	}
	if n, _ := snd.counts(); n != 0 {
		t.Fatalf("%d messages sent", n)
	}
}

func TestSweepRetiresExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snd := &fakeSender{}
	dir := &fakeDirectory{live: []storage.LiveMessage{
		{Platform: "pc", Key: "alerts", ChatID: 1, MessageID: 10, ExpiresAt: now.Add(-time.Second)},
		{Platform: "pc", Key: "alerts", ChatID: 1, MessageID: 11, ExpiresAt: now.Add(time.Hour)},
		{Platform: "pc", Key: "news", ChatID: 1, MessageID: 12},
	}}
	svc := New(testConfig(), snd, dir, prefixResolver{}, logx.Nop(), WithClock(func() time.Time { return now }))

	if n := svc.Sweep(context.Background()); n != 1 {
		t.Fatalf("retired %d, want 1", n)
	}
	if _, d := snd.counts(); d != 1 || snd.deleted[0].MessageID != 10 {
		t.Fatalf("deleted = %+v", snd.deleted)
	}
	if dir.liveCount() != 2 {
		t.Fatalf("live = %d, want 2", dir.liveCount())
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter range", d)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	text, preview := Render(envelope.Envelope{
		Title:       "Baro <Ki'Teer>",
		URL:         "https://example.com/baro",
		Description: "Relay & more",
		Thumbnail:   "https://cdn.example/img/baro.png",
		Footer:      "PC",
		Fields:      []envelope.Field{{Name: "Primed Flow", Value: "350 ducats"}},
		Part:        2,
		Parts:       3,
	})
	if !preview {
		t.Fatal("thumbnail should keep the preview")
	}
	for _, want := range []string{
		`<a href="https://cdn.example/img/baro.png">&#8203;</a>`,
		`<a href="https://example.com/baro"><b>Baro &lt;Ki&#39;Teer&gt;</b></a>`,
		"Relay &amp; more",
		"<b>Primed Flow</b>\n350 ducats",
		"<i>PC (2/3)</i>",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("render missing %q:\n%s", want, text)
		}
	}

	if _, preview := Render(envelope.Envelope{Title: "x"}); preview {
		t.Fatal("no thumbnail should disable the preview")
	}
}
