package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

// DefaultTolerance widens the lower window bound to absorb poll jitter.
const DefaultTolerance = 60 * time.Second

// DefaultMaxLookback caps how far back a restored watermark may reach.
const DefaultMaxLookback = 6 * time.Hour

var ErrUnknownPlatform = errors.New("pipeline: unknown platform")

// Window is the half-open interval (LastUpdate-Tolerance, Start] used to
// decide whether an entity is new in this cycle.
type Window struct {
	LastUpdate time.Time
	Start      time.Time
	Tolerance  time.Duration
}

// Contains is false for a zero instant so malformed entities never count as new.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return t.After(w.LastUpdate.Add(-w.Tolerance)) && !t.After(w.Start)
}

// WatermarkStore persists lastUpdate per platform across restarts.
type WatermarkStore interface {
	LoadWatermarks(ctx context.Context) (map[string]time.Time, error)
	SaveWatermark(ctx context.Context, platform string, at time.Time) error
}

type cycleState struct {
	lastUpdate time.Time
	currStart  time.Time
	ended      bool
}

// Tracker owns the cycle state of every configured platform.
type Tracker struct {
	mu          sync.Mutex
	states      map[worldstate.Platform]*cycleState
	tolerance   time.Duration
	maxLookback time.Duration
	now         Clock
	store       WatermarkStore
	log         logx.Logger
}

type TrackerOption func(*Tracker)

func WithTolerance(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.tolerance = d
		}
	}
}

// WithMaxLookback bounds restored watermarks to now-d. Zero or negative
// means no bound.
func WithMaxLookback(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.maxLookback = d }
}

func WithTrackerClock(c Clock) TrackerOption { return func(t *Tracker) { t.now = c } }

func WithWatermarkStore(s WatermarkStore) TrackerOption { return func(t *Tracker) { t.store = s } }

func WithTrackerLogger(l logx.Logger) TrackerOption { return func(t *Tracker) { t.log = l } }

// NewTracker starts every platform's lastUpdate at construction time.
func NewTracker(platforms []worldstate.Platform, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		states:      map[worldstate.Platform]*cycleState{},
		tolerance:   DefaultTolerance,
		maxLookback: DefaultMaxLookback,
		now:         time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	start := t.now()
	for _, p := range platforms {
		t.states[p] = &cycleState{lastUpdate: start}
	}
	return t
}

func (t *Tracker) Platforms() []worldstate.Platform {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]worldstate.Platform, 0, len(t.states))
	for _, p := range worldstate.All() {
		if _, ok := t.states[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Restore replaces lastUpdate with the persisted watermark, so entities that
// activated while the process was down are still announced. Watermarks in
// the future are ignored and old ones are clamped to the max lookback.
// Platforms that already finished a cycle keep their state.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	marks, err := t.store.LoadWatermarks(ctx)
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, at := range marks {
		st, ok := t.states[worldstate.Platform(name)]
		if !ok || st.ended || at.IsZero() || at.After(now) {
			continue
		}
		if t.maxLookback > 0 {
			if floor := now.Add(-t.maxLookback); at.Before(floor) {
				t.log.Warn("watermark older than max lookback, clamped",
					logx.String("platform", name), logx.Time("saved", at), logx.Time("clamped", floor))
				at = floor
			}
		}
		st.lastUpdate = at
	}
	return nil
}

// Begin marks the start of a cycle and returns its window.
func (t *Tracker) Begin(p worldstate.Platform) (Window, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[p]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	st.currStart = t.now()
	return Window{LastUpdate: st.lastUpdate, Start: st.currStart, Tolerance: t.tolerance}, nil
}

// End advances lastUpdate to the cycle start. lastUpdate never decreases.
func (t *Tracker) End(ctx context.Context, p worldstate.Platform) error {
	t.mu.Lock()
	st, ok := t.states[p]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	if st.currStart.After(st.lastUpdate) {
		st.lastUpdate = st.currStart
	}
	st.currStart = time.Time{}
	st.ended = true
	at := st.lastUpdate
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveWatermark(ctx, string(p), at); err != nil {
			t.log.Warn("watermark save failed", logx.String("platform", string(p)), logx.Err(err))
			return err
		}
	}
	return nil
}

// Abort closes a cycle that had nothing to process without moving lastUpdate.
func (t *Tracker) Abort(p worldstate.Platform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[p]; ok {
		st.currStart = time.Time{}
	}
}

// LastUpdate reports the platform's current watermark.
func (t *Tracker) LastUpdate(p worldstate.Platform) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[p]
	if !ok {
		return time.Time{}, false
	}
	return st.lastUpdate, true
}
