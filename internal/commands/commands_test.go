package commands

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"wsnotifier/internal/locale"
	"wsnotifier/internal/storage"
	"wsnotifier/internal/transport"
	"wsnotifier/internal/transport/telegram/router"
	"wsnotifier/pkg/logx"
)

type replySender struct {
	mu   sync.Mutex
	last string
}

func (s *replySender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	s.last = text
	s.mu.Unlock()
	return transport.MessageRef{}, nil
}

type harness struct {
	h     *Handlers
	store *storage.Store
	out   *replySender
	cmds  map[string]router.Command
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "wsn.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	x, err := locale.NewExpander([]string{"en", "de", "pt-BR"}, "en")
	if err != nil {
		t.Fatal(err)
	}
	h := New(st, x, NewCatalog([]string{"syndicate.ostrons"}), logx.Nop())
	cmds := map[string]router.Command{}
	for _, c := range h.Commands() {
		cmds[c.Route] = c
	}
	return &harness{h: h, store: st, out: &replySender{}, cmds: cmds}
}

// run calls route with args the way the router would after tokenizing.
func (hs *harness) run(t *testing.T, route string, args ...string) (string, error) {
	t.Helper()
	c, ok := hs.cmds[route]
	if !ok {
		t.Fatalf("no command %q", route)
	}
	req := &router.Request{
		Chat:    transport.ChatTarget{ChatID: 42, ThreadID: 7},
		Command: route,
		Args:    args,
		RawArgs: args,
		Sender:  hs.out,
		Logger:  logx.Nop(),
	}
	err := c.Handle(context.Background(), req)
	hs.out.mu.Lock()
	defer hs.out.mu.Unlock()
	return hs.out.last, err
}

func (hs *harness) tracking(t *testing.T) storage.Tracking {
	t.Helper()
	tr, err := hs.store.ListTracking(context.Background(), 42, 7)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestCatalogNormalize(t *testing.T) {
	t.Parallel()
	c := NewCatalog([]string{"Syndicate.Ostrons"})
	cases := []struct {
		in        string
		norm      string
		ok, known bool
	}{
		{in: "Alerts", norm: "alerts", ok: true, known: true},
		{in: "cetus.night.5", norm: "cetus.night.5", ok: true, known: true},
		{in: "fissures.t4.capture", norm: "fissures.t4.capture", ok: true, known: true},
		{in: "syndicate.ostrons", norm: "syndicate.ostrons", ok: true, known: true},
		{in: "fissures.", norm: "fissures.", ok: false},
		{in: "fissures", norm: "fissures", ok: true, known: false},
		{in: "warframe.tweet", norm: "warframe.tweet", ok: true, known: false},
		{in: "bad key", norm: "bad key", ok: false},
	}
	for _, tc := range cases {
		norm, ok, known := c.Normalize(tc.in)
		if norm != tc.norm || ok != tc.ok || known != tc.known {
			t.Errorf("Normalize(%q) = %q,%v,%v want %q,%v,%v", tc.in, norm, ok, known, tc.norm, tc.ok, tc.known)
		}
	}
	all := c.All()
	if len(all) != len(exactTypes)+len(phaseTypes)+1 {
		t.Fatalf("All() has %d keys", len(all))
	}
}

func TestTrackAndUntrack(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)

	reply, err := hs.run(t, "track", "alerts,Invasions", "cetus.night.5", "warframe.tweet")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "Tracking 4 new") || !strings.Contains(reply, "warframe.tweet") {
		t.Fatalf("reply: %s", reply)
	}
	if got := hs.tracking(t).Types; !reflect.DeepEqual(got, []string{"alerts", "cetus.night.5", "invasions", "warframe.tweet"}) {
		t.Fatalf("types = %v", got)
	}

	if _, err := hs.run(t, "track", "bad key!"); err == nil {
		t.Fatal("expected usage error")
	} else if _, ok := err.(*router.UsageError); !ok {
		t.Fatalf("err = %T %v", err, err)
	}
	if _, err := hs.run(t, "track"); err == nil {
		t.Fatal("expected usage error for no args")
	}

	reply, err = hs.run(t, "untrack", "alerts")
	if err != nil || !strings.Contains(reply, "Stopped tracking 1") {
		t.Fatalf("untrack: %q %v", reply, err)
	}
	if _, err := hs.run(t, "untrack", "all"); err != nil {
		t.Fatal(err)
	}
	if got := hs.tracking(t).Types; len(got) != 0 {
		t.Fatalf("types after untrack all = %v", got)
	}

	if _, err := hs.run(t, "track", "all"); err != nil {
		t.Fatal(err)
	}
	if got := hs.tracking(t).Types; len(got) != len(hs.h.catalog.Load().All()) {
		t.Fatalf("track all stored %d types", len(got))
	}
}

func TestTrackItems(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)

	if _, err := hs.run(t, "track item", "Orokin", "Catalyst,", "nitain", "extract"); err != nil {
		t.Fatal(err)
	}
	if got := hs.tracking(t).Items; !reflect.DeepEqual(got, []string{"nitain extract", "orokin catalyst"}) {
		t.Fatalf("items = %v", got)
	}
	if _, err := hs.run(t, "untrack item", "all"); err != nil {
		t.Fatal(err)
	}
	if got := hs.tracking(t).Items; len(got) != 0 {
		t.Fatalf("items = %v", got)
	}
	if _, err := hs.run(t, "untrack item"); err == nil {
		t.Fatal("expected usage error")
	}
}

func TestPlatformAndLanguage(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	ctx := context.Background()

	reply, err := hs.run(t, "platform")
	if err != nil || !strings.Contains(reply, "<b>PC</b>") {
		t.Fatalf("platform show: %q %v", reply, err)
	}
	if _, err := hs.run(t, "platform", "Switch"); err != nil {
		t.Fatal(err)
	}
	if _, err := hs.run(t, "platform", "dreamcast"); err == nil {
		t.Fatal("expected usage error")
	}
	reply, err = hs.run(t, "language", "pt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "pt-BR") || !strings.Contains(reply, "closest match") {
		t.Fatalf("language reply: %s", reply)
	}

	ch, found, err := hs.store.GetChannel(ctx, 42, 7)
	if err != nil || !found {
		t.Fatalf("GetChannel: found=%v err=%v", found, err)
	}
	if ch.Platform != "swi" || ch.Language != "pt-BR" {
		t.Fatalf("channel = %+v", ch)
	}

	reply, err = hs.run(t, "tracking")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Switch", "pt-BR", "<i>none</i>"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("tracking reply missing %q: %s", want, reply)
		}
	}
}

func TestStartRegistersChannel(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	if _, err := hs.run(t, "start"); err != nil {
		t.Fatal(err)
	}
	if _, found, err := hs.store.GetChannel(context.Background(), 42, 7); err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	hs := newHarness(t)
	if c := hs.cmds["status"]; c.Access != router.AccessOwnerOnly {
		t.Fatalf("status access = %v, want owner only", c.Access)
	}

	out, err := hs.run(t, "status")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "none yet") {
		t.Fatalf("empty status = %q", out)
	}

	hs.h.SetStatus(func() Status {
		return Status{
			Broadcast: true,
			Platforms: []PlatformStatus{
				{Platform: "ps4", Err: "fetch <timeout>"},
				{Platform: "pc", Dispatched: 3},
			},
		}
	})
	out, err = hs.run(t, "status")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"degraded", "Broadcast:</b> on", "3 sent, 0 failed", "fetch &lt;timeout&gt;"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "<code>pc</code>") > strings.Index(out, "<code>ps4</code>") {
		t.Errorf("platforms not sorted:\n%s", out)
	}
}
