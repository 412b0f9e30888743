package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wsnotifier/internal/envelope"
	"wsnotifier/internal/locale"
	"wsnotifier/internal/runtime/supervisor"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type broadcastCall struct {
	env  envelope.Envelope
	key  string
	tags []string
	ttl  time.Duration
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
	err   error
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, env envelope.Envelope, _ worldstate.Platform, key string, tags []string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.calls = append(b.calls, broadcastCall{env: env, key: key, tags: tags, ttl: ttl})
	return nil
}

func (b *fakeBroadcaster) snapshot() []broadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastCall(nil), b.calls...)
}

func (b *fakeBroadcaster) keys() []string {
	var out []string
	for _, c := range b.snapshot() {
		out = append(out, c.key)
	}
	return out
}

// fakeComposer renders the subject's type as the title. fields, when set,
// is the number of fields attached to every envelope.
type fakeComposer struct {
	fields int
}

func (c fakeComposer) Compose(loc string, _ worldstate.Platform, subject any) (envelope.Envelope, error) {
	env := envelope.Envelope{Title: fmt.Sprintf("%T", subject), Description: "body"}
	if v, ok := subject.(worldstate.SyndicateView); ok && len(v.Matching()) == 0 {
		env.Description = envelope.Placeholder
	}
	for i := range c.fields {
		env.Fields = append(env.Fields, envelope.Field{Name: fmt.Sprint(i), Value: "v"})
	}
	return env, nil
}

type decoratorFunc func(ctx context.Context, query string, boss bool) (string, error)

func (f decoratorFunc) Thumbnail(ctx context.Context, query string, boss bool) (string, error) {
	return f(ctx, query, boss)
}

type harness struct {
	clock   *testClock
	tracker *Tracker
	bc      *fakeBroadcaster
	orch    *Orchestrator
}

// newHarness builds a PC-only pipeline whose lastUpdate starts at last.
func newHarness(t *testing.T, last time.Time, comp Composer, opts ...Option) *harness {
	t.Helper()
	clock := newTestClock(last)
	tr := NewTracker([]worldstate.Platform{worldstate.PC}, WithTrackerClock(clock.Now))
	x, err := locale.NewExpander([]string{"en"}, "en")
	if err != nil {
		t.Fatalf("NewExpander: %v", err)
	}
	bc := &fakeBroadcaster{}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &harness{
		clock:   clock,
		tracker: tr,
		bc:      bc,
		orch:    NewOrchestrator(tr, comp, x, bc, opts...),
	}
}

func ms(d int64) time.Duration { return time.Duration(d) * time.Millisecond }

func at(t time.Time) worldstate.Instant { return worldstate.At(t) }

func alert(id string, activation time.Time) worldstate.Alert {
	return worldstate.Alert{
		ID:          id,
		Activation:  at(activation),
		Expiry:      at(activation.Add(time.Hour)),
		Mission:     worldstate.Mission{Node: "Vor's Prize", Reward: worldstate.Reward{ItemString: "Nitain Extract"}},
		RewardTypes: []string{"nitain"},
	}
}

func TestWindowContainsBoundaries(t *testing.T) {
	t.Parallel()

	last := baseTime.Add(-2 * time.Minute)
	w := Window{LastUpdate: last, Start: baseTime, Tolerance: DefaultTolerance}
	lower := last.Add(-DefaultTolerance)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"lower bound excluded", lower, false},
		{"just above lower bound", lower.Add(time.Millisecond), true},
		{"cycle start included", baseTime, true},
		{"just after cycle start", baseTime.Add(time.Millisecond), false},
		{"zero instant", time.Time{}, false},
		{"far past", lower.Add(-time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := w.Contains(tt.at); got != tt.want {
				t.Fatalf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestExtractScenario(t *testing.T) {
	t.Parallel()

	T := baseTime
	w := Window{LastUpdate: T.Add(-ms(120000)), Start: T, Tolerance: DefaultTolerance}
	snap := &worldstate.Snapshot{
		Timestamp: at(T),
		Alerts: []worldstate.Alert{
			alert("new", T.Add(-ms(30000))),
			alert("old", T.Add(-ms(200000))),
		},
	}

	d := Extract(snap, w)
	if len(d.Alerts) != 1 || d.Alerts[0].ID != "new" {
		t.Fatalf("alerts = %+v, want only the recent one", d.Alerts)
	}
}

func TestExtractMissingActivationNeverNew(t *testing.T) {
	t.Parallel()

	snap := &worldstate.Snapshot{
		Timestamp: at(baseTime),
		Alerts:    []worldstate.Alert{{ID: "a", RewardTypes: []string{"nitain"}}},
		Fissures:  []worldstate.Fissure{{ID: "f", TierNum: 1, MissionType: "Capture"}},
		News:      []worldstate.NewsItem{{ID: "n"}, {ID: "s", Stream: true}},
	}
	windows := []Window{
		{LastUpdate: baseTime.Add(-time.Minute), Start: baseTime, Tolerance: DefaultTolerance},
		{LastUpdate: time.Time{}, Start: baseTime, Tolerance: DefaultTolerance},
		{LastUpdate: baseTime.Add(-24 * time.Hour), Start: baseTime.Add(24 * time.Hour), Tolerance: time.Hour},
	}
	for i, w := range windows {
		d := Extract(snap, w)
		if len(d.Alerts)+len(d.Fissures)+len(d.News)+len(d.Streams) != 0 {
			t.Fatalf("window %d classified undated entities as new: %+v", i, d)
		}
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	t.Parallel()

	w := Window{LastUpdate: baseTime.Add(-time.Minute), Start: baseTime, Tolerance: DefaultTolerance}
	snap := &worldstate.Snapshot{
		Timestamp:  at(baseTime),
		Alerts:     []worldstate.Alert{alert("a", baseTime.Add(-time.Second))},
		CetusCycle: &worldstate.CetusCycle{Activation: at(baseTime.Add(-time.Hour)), Expiry: at(baseTime.Add(time.Hour)), IsDay: true},
		SyndicateMissions: []worldstate.SyndicateMission{
			{Syndicate: worldstate.OstronsSyndicate, Activation: at(baseTime.Add(-time.Second)), Expiry: at(baseTime.Add(2 * time.Hour))},
		},
	}
	first := Extract(snap, w)
	second := Extract(snap, w)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("extract not idempotent:\n%+v\n%+v", first, second)
	}
	if snap.CetusCycle.Expiry.IsZero() || len(snap.Alerts) != 1 {
		t.Fatal("snapshot was modified")
	}
	if first.Cetus == nil || first.CetusChanged {
		t.Fatalf("cetus = %+v changed=%v, want present and unchanged", first.Cetus, first.CetusChanged)
	}
	if !first.Cetus.BountyExpiry.Equal(baseTime.Add(2 * time.Hour)) {
		t.Fatalf("bounty expiry = %v", first.Cetus.BountyExpiry)
	}
}

func TestExtractDropsExpiredCycles(t *testing.T) {
	t.Parallel()

	w := Window{LastUpdate: baseTime.Add(-time.Minute), Start: baseTime, Tolerance: DefaultTolerance}
	snap := &worldstate.Snapshot{
		Timestamp:   at(baseTime),
		EarthCycle:  &worldstate.EarthCycle{Activation: at(baseTime.Add(-time.Hour)), Expiry: at(baseTime.Add(-time.Second))},
		VallisCycle: &worldstate.VallisCycle{Activation: at(baseTime.Add(-time.Second)), Expiry: at(baseTime.Add(time.Minute)), Expired: true},
	}
	d := Extract(snap, w)
	if d.Earth != nil || d.Vallis != nil {
		t.Fatalf("expired cycles extracted: earth=%v vallis=%v", d.Earth, d.Vallis)
	}
}

func TestCycleKey(t *testing.T) {
	t.Parallel()

	if got := CycleKey("cetus", "day", true, ms(125000)); got != "cetus.day" {
		t.Fatalf("changed key = %q", got)
	}
	if got := CycleKey("cetus", "day", false, ms(125000)); got != "cetus.day.2" {
		t.Fatalf("key = %q, want cetus.day.2", got)
	}
	a := CycleKey("earth", "night", false, ms(125000))
	b := CycleKey("earth", "night", false, ms(115000))
	if a != b {
		t.Fatalf("polls 10s apart differ: %q vs %q", a, b)
	}
	if got := CycleKey("solaris", "warm", false, ms(150000)); got != "solaris.warm.3" {
		t.Fatalf("half minute key = %q, want rounding up", got)
	}
}

func TestFamilyKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		got, want string
	}{
		{FissureKey(3, "Mobile Defense"), "fissures.t3.mobiledefense"},
		{ArbitrationKey("Grineer", "Dark Sector Survival"), "arbitration.grineer.darksectorsurvival"},
		{NightwaveKey(worldstate.NightwaveChallenge{IsDaily: true}), "nightwave.daily"},
		{NightwaveKey(worldstate.NightwaveChallenge{IsElite: true, IsDaily: true}), "nightwave.elite"},
		{NightwaveKey(worldstate.NightwaveChallenge{}), "nightwave.weekly"},
		{AcolyteKey(true), "enemies"},
		{AcolyteKey(false), "enemies.departed"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFamiliesHaveNames(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, f := range Families() {
		name := f.String()
		if name == "" || name == "unknown" || seen[name] {
			t.Fatalf("family %d has bad name %q", f, name)
		}
		seen[name] = true
		if specs[f].extract == nil || specs[f].notices == nil {
			t.Fatalf("family %s is missing functions", name)
		}
	}
}

func TestRunScenarioDispatchesAndAdvances(t *testing.T) {
	t.Parallel()

	T := baseTime
	h := newHarness(t, T.Add(-ms(120000)), fakeComposer{})
	h.clock.Set(T)

	snap := &worldstate.Snapshot{
		Timestamp: at(T),
		Alerts:    []worldstate.Alert{alert("new", T.Add(-ms(30000))), alert("old", T.Add(-ms(200000)))},
	}
	rep := h.orch.Run(context.Background(), worldstate.PC, snap)
	if rep.Err != nil || rep.Skipped {
		t.Fatalf("report = %+v", rep)
	}
	calls := h.bc.snapshot()
	if len(calls) != 1 || calls[0].key != "alerts" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ttl != time.Hour-30*time.Second {
		t.Fatalf("ttl = %v", calls[0].ttl)
	}
	if calls[0].env.Platform != worldstate.PC || calls[0].env.Locale != "en" {
		t.Fatalf("envelope not tagged: %+v", calls[0].env)
	}
	if last, _ := h.tracker.LastUpdate(worldstate.PC); !last.Equal(T) {
		t.Fatalf("lastUpdate = %v, want %v", last, T)
	}
}

func TestRunWithoutTimestampAborts(t *testing.T) {
	t.Parallel()

	start := baseTime.Add(-time.Minute)
	h := newHarness(t, start, fakeComposer{})
	h.clock.Set(baseTime)

	snap := &worldstate.Snapshot{Alerts: []worldstate.Alert{alert("a", baseTime.Add(-time.Second))}}
	rep := h.orch.Run(context.Background(), worldstate.PC, snap)
	if !rep.Skipped {
		t.Fatalf("report = %+v, want skipped", rep)
	}
	if n := len(h.bc.snapshot()); n != 0 {
		t.Fatalf("%d broadcasts for an undated snapshot", n)
	}
	if last, _ := h.tracker.LastUpdate(worldstate.PC); !last.Equal(start) {
		t.Fatalf("lastUpdate moved to %v", last)
	}
}

func TestTrackerMonotonicDespiteFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseTime, fakeComposer{})
	h.bc.err = errors.New("telegram down")

	var lastStart time.Time
	for i := range 3 {
		h.clock.Add(30 * time.Second)
		lastStart = h.clock.Now()
		snap := &worldstate.Snapshot{
			Timestamp: at(lastStart),
			Alerts:    []worldstate.Alert{alert(fmt.Sprint(i), lastStart.Add(-time.Second))},
		}
		rep := h.orch.Run(context.Background(), worldstate.PC, snap)
		if len(rep.Failed) != 1 || rep.Failed[0] != "alerts" {
			t.Fatalf("cycle %d failed = %v", i, rep.Failed)
		}
	}
	if last, _ := h.tracker.LastUpdate(worldstate.PC); !last.Equal(lastStart) {
		t.Fatalf("lastUpdate = %v, want %v", last, lastStart)
	}
}

func TestTrackerAbortAndUnknownPlatform(t *testing.T) {
	t.Parallel()

	clock := newTestClock(baseTime)
	tr := NewTracker([]worldstate.Platform{worldstate.PC}, WithTrackerClock(clock.Now))
	if _, err := tr.Begin(worldstate.PS4); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("Begin(ps4) err = %v", err)
	}
	clock.Add(time.Minute)
	if _, err := tr.Begin(worldstate.PC); err != nil {
		t.Fatal(err)
	}
	tr.Abort(worldstate.PC)
	if err := tr.End(context.Background(), worldstate.PC); err != nil {
		t.Fatal(err)
	}
	if last, _ := tr.LastUpdate(worldstate.PC); !last.Equal(baseTime) {
		t.Fatalf("lastUpdate = %v after abort, want %v", last, baseTime)
	}
}

type memWatermarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func (m *memWatermarks) LoadWatermarks(context.Context) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]time.Time{}
	for k, v := range m.marks {
		out[k] = v
	}
	return out, nil
}

func (m *memWatermarks) SaveWatermark(_ context.Context, p string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[p] = at
	return nil
}

func TestTrackerRestoreAndPersist(t *testing.T) {
	t.Parallel()

	store := &memWatermarks{marks: map[string]time.Time{
		"pc":  baseTime.Add(-10 * time.Minute),
		"ps4": baseTime.Add(time.Hour),
		"xb1": baseTime.Add(-48 * time.Hour),
	}}
	clock := newTestClock(baseTime)
	tr := NewTracker([]worldstate.Platform{worldstate.PC, worldstate.PS4, worldstate.XB1},
		WithTrackerClock(clock.Now), WithWatermarkStore(store), WithMaxLookback(6*time.Hour))
	if err := tr.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		platform worldstate.Platform
		want     time.Time
	}{
		{worldstate.PC, baseTime.Add(-10 * time.Minute)},
		{worldstate.PS4, baseTime},
		{worldstate.XB1, baseTime.Add(-6 * time.Hour)},
	}
	for _, tt := range tests {
		if last, _ := tr.LastUpdate(tt.platform); !last.Equal(tt.want) {
			t.Errorf("%s lastUpdate = %v, want %v", tt.platform, last, tt.want)
		}
	}

	// An alert that activated during the downtime is new in the first cycle.
	clock.Add(30 * time.Second)
	w, err := tr.Begin(worldstate.PC)
	if err != nil {
		t.Fatal(err)
	}
	snap := &worldstate.Snapshot{Alerts: []worldstate.Alert{alert("downtime", baseTime.Add(-5*time.Minute))}}
	if d := Extract(snap, w); len(d.Alerts) != 1 {
		t.Fatalf("alerts = %d, want the downtime alert", len(d.Alerts))
	}
	if err := tr.End(context.Background(), worldstate.PC); err != nil {
		t.Fatal(err)
	}
	if got := store.marks["pc"]; !got.Equal(baseTime.Add(30 * time.Second)) {
		t.Fatalf("saved pc = %v", got)
	}

	// A platform that already ran a cycle is not rewound by a late Restore.
	if err := tr.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if last, _ := tr.LastUpdate(worldstate.PC); !last.Equal(baseTime.Add(30 * time.Second)) {
		t.Fatalf("pc after second restore = %v", last)
	}
}

func TestDecorationFailureStillBroadcastsOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   decoratorFunc
		want string
	}{
		{"error", func(context.Context, string, bool) (string, error) { return "", errors.New("cdn down") }, ""},
		{"panic", func(context.Context, string, bool) (string, error) { panic("boom") }, ""},
		{"ok", func(_ context.Context, q string, _ bool) (string, error) { return "https://img/" + q, nil }, "https://img/Nitain Extract"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{}, WithDecorator(tt.fn))
			h.clock.Set(baseTime)
			snap := &worldstate.Snapshot{Timestamp: at(baseTime), Alerts: []worldstate.Alert{alert("a", baseTime.Add(-time.Second))}}

			rep := h.orch.Run(context.Background(), worldstate.PC, snap)
			if rep.Err != nil {
				t.Fatalf("decoration failure leaked into report: %v", rep.Err)
			}
			calls := h.bc.snapshot()
			if len(calls) != 1 {
				t.Fatalf("broadcasts = %d, want 1", len(calls))
			}
			if calls[0].env.Thumbnail != tt.want {
				t.Fatalf("thumbnail = %q, want %q", calls[0].env.Thumbnail, tt.want)
			}
		})
	}
}

func TestNightwaveSplit(t *testing.T) {
	t.Parallel()

	challenge := func(id string, daily bool) worldstate.NightwaveChallenge {
		return worldstate.NightwaveChallenge{
			ID: id, Active: true, IsDaily: daily,
			Activation: at(baseTime.Add(-time.Second)),
			Expiry:     at(baseTime.Add(time.Hour)),
		}
	}
	tests := []struct {
		name       string
		challenges []worldstate.NightwaveChallenge
		want       []string
	}{
		{"three", []worldstate.NightwaveChallenge{challenge("a", true), challenge("b", true), challenge("c", false)}, []string{"nightwave.daily", "nightwave.daily", "nightwave.weekly"}},
		{"one", []worldstate.NightwaveChallenge{challenge("a", true)}, []string{"nightwave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{})
			h.clock.Set(baseTime)
			snap := &worldstate.Snapshot{
				Timestamp: at(baseTime),
				Nightwave: &worldstate.Nightwave{Expiry: at(baseTime.Add(24 * time.Hour)), ActiveChallenges: tt.challenges},
			}
			h.orch.Run(context.Background(), worldstate.PC, snap)

			got := h.bc.keys()
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("keys = %v, want %v", got, tt.want)
			}
		})
	}

	d := Delta{}
	nw := worldstate.Nightwave{ActiveChallenges: []worldstate.NightwaveChallenge{challenge("a", true), challenge("c", false)}}
	v := nw.WithChallenges(nw.ActiveChallenges...)
	d.Nightwave = &v
	for _, n := range specs[FamilyNightwave].notices(&d, noticeEnv{now: baseTime}) {
		view := n.Subject.(worldstate.NightwaveView)
		if len(view.Nightwave.ActiveChallenges) != 1 {
			t.Fatalf("notice %s carries %d challenges", n.Key, len(view.Nightwave.ActiveChallenges))
		}
	}
}

func TestLargeEnvelopeSplitsUnderOneKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{fields: 40})
	h.clock.Set(baseTime)
	snap := &worldstate.Snapshot{Timestamp: at(baseTime), Alerts: []worldstate.Alert{alert("a", baseTime.Add(-time.Second))}}
	h.orch.Run(context.Background(), worldstate.PC, snap)

	calls := h.bc.snapshot()
	if len(calls) != 3 {
		t.Fatalf("broadcasts = %d, want 3", len(calls))
	}
	sizes := []int{15, 15, 10}
	for i, c := range calls {
		if c.key != "alerts" || len(c.env.Fields) != sizes[i] || c.env.Group != calls[0].env.Group {
			t.Fatalf("part %d: key=%s fields=%d group=%q", i, c.key, len(c.env.Fields), c.env.Group)
		}
	}
}

func TestFamilyPanicIsIsolated(t *testing.T) {
	orig := specs[FamilyAlerts].notices
	specs[FamilyAlerts].notices = func(*Delta, noticeEnv) []Notice { panic("bad alert") }
	t.Cleanup(func() { specs[FamilyAlerts].notices = orig })

	h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{})
	h.clock.Set(baseTime)
	snap := &worldstate.Snapshot{
		Timestamp: at(baseTime),
		Alerts:    []worldstate.Alert{alert("a", baseTime.Add(-time.Second))},
		Fissures: []worldstate.Fissure{{
			ID: "f", TierNum: 2, MissionType: "Capture",
			Activation: at(baseTime.Add(-time.Second)), Expiry: at(baseTime.Add(time.Hour)),
		}},
	}
	rep := h.orch.Run(context.Background(), worldstate.PC, snap)
	if fmt.Sprint(rep.Failed) != "[alerts]" {
		t.Fatalf("failed = %v", rep.Failed)
	}
	if keys := h.bc.keys(); fmt.Sprint(keys) != "[fissures.t2.capture]" {
		t.Fatalf("keys = %v", keys)
	}
	if last, _ := h.tracker.LastUpdate(worldstate.PC); !last.Equal(baseTime) {
		t.Fatalf("lastUpdate = %v", last)
	}
}

func TestSyndicatesSkipBlankAndNonNotifiable(t *testing.T) {
	t.Parallel()

	syndicates := []Syndicate{
		{Key: "suda", Display: "Cephalon Suda", Prefix: "syndicate.", Notifiable: true},
		{Key: "ostrons", Display: "Ostrons", Prefix: "syndicate.", Notifiable: true, Timeout: 10 * time.Minute},
		{Key: "assassins", Display: "Assassins", Prefix: "syndicate.", Notifiable: false},
	}
	h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{}, WithSyndicates(func() []Syndicate { return syndicates }))
	h.clock.Set(baseTime)
	snap := &worldstate.Snapshot{
		Timestamp: at(baseTime),
		SyndicateMissions: []worldstate.SyndicateMission{
			{Syndicate: "Ostrons", Activation: at(baseTime.Add(-time.Second)), Expiry: at(baseTime.Add(time.Hour))},
			{Syndicate: "Assassins", Activation: at(baseTime.Add(-time.Second)), Expiry: at(baseTime.Add(time.Hour))},
		},
	}
	h.orch.Run(context.Background(), worldstate.PC, snap)

	calls := h.bc.snapshot()
	if len(calls) != 1 || calls[0].key != "syndicate.ostrons" || calls[0].ttl != 10*time.Minute {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestCycleNoticeEveryPoll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{})
	h.clock.Set(baseTime)
	snap := &worldstate.Snapshot{
		Timestamp:  at(baseTime),
		EarthCycle: &worldstate.EarthCycle{Activation: at(baseTime.Add(-time.Hour)), Expiry: at(baseTime.Add(ms(125000))), IsDay: false},
	}
	h.orch.Run(context.Background(), worldstate.PC, snap)
	h.clock.Add(10 * time.Second)
	snap.Timestamp = at(h.clock.Now())
	h.orch.Run(context.Background(), worldstate.PC, snap)

	if keys := h.bc.keys(); fmt.Sprint(keys) != "[earth.night.2 earth.night.2]" {
		t.Fatalf("keys = %v", keys)
	}
}

type recordingCycler struct {
	mu   sync.Mutex
	seen []int64
	done chan struct{}
	want int
}

func (c *recordingCycler) Run(_ context.Context, p worldstate.Platform, snap *worldstate.Snapshot) Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, snap.Timestamp.UnixMilli())
	if len(c.seen) == c.want {
		close(c.done)
	}
	return Report{Platform: p}
}

func TestRunnerPreservesOrder(t *testing.T) {
	t.Parallel()

	const n = 20
	c := &recordingCycler{done: make(chan struct{}), want: n}
	r := NewRunner(c, []worldstate.Platform{worldstate.PC}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := newTestSupervisor(ctx)
	r.Start(sup)

	for i := range n {
		snap := &worldstate.Snapshot{Timestamp: worldstate.Millis(int64(i + 1))}
		if err := r.Submit(ctx, worldstate.PC, snap); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not drain")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ts := range c.seen {
		if ts != int64(i+1) {
			t.Fatalf("order = %v", c.seen)
		}
	}

	if err := r.Submit(ctx, worldstate.XB1, &worldstate.Snapshot{}); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("Submit(xb1) err = %v", err)
	}
}

func newTestSupervisor(ctx context.Context) *supervisor.Supervisor {
	return supervisor.NewSupervisor(ctx)
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// levels maps each logged message to its level.
func (b *logBuffer) levels(t *testing.T) map[string]string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]string{}
	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for dec.More() {
		var line struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		out[line.Message] = line.Level
	}
	return out
}

func TestCycleLogLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		failBC bool
		alerts int
		want   map[string]string
	}{
		{"dispatched", false, 1, map[string]string{"cycle completed": "info"}},
		{"nothing new", false, 0, map[string]string{"cycle completed": "debug"}},
		{"family failure", true, 1, map[string]string{"family failed": "error", "cycle completed with failures": "warn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := &logBuffer{}
			log := logx.FromZerolog(zerolog.New(out).Level(zerolog.TraceLevel))
			h := newHarness(t, baseTime.Add(-time.Minute), fakeComposer{}, WithLogger(log))
			if tt.failBC {
				h.bc.err = errors.New("telegram down")
			}
			h.clock.Set(baseTime)
			snap := &worldstate.Snapshot{Timestamp: at(baseTime)}
			for i := 0; i < tt.alerts; i++ {
				snap.Alerts = append(snap.Alerts, alert(fmt.Sprint(i), baseTime.Add(-time.Second)))
			}
			h.orch.Run(context.Background(), worldstate.PC, snap)

			got := out.levels(t)
			for msg, level := range tt.want {
				if got[msg] != level {
					t.Errorf("%q logged at %q, want %q (all: %v)", msg, got[msg], level, got)
				}
			}
		})
	}
}
