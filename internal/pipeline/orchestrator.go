package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wsnotifier/internal/decoration"
	"wsnotifier/internal/envelope"
	"wsnotifier/internal/eventbus"
	"wsnotifier/internal/locale"
	"wsnotifier/internal/metrics"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

const DefaultConcurrency = 4

// Broadcaster delivers one envelope to every subscriber of key on platform.
type Broadcaster interface {
	Broadcast(ctx context.Context, env envelope.Envelope, platform worldstate.Platform, key string, tags []string, ttl time.Duration) error
}

// Decorator resolves a thumbnail URL. Any error means "no thumbnail".
type Decorator interface {
	Thumbnail(ctx context.Context, query string, boss bool) (string, error)
}

// Composer renders a subject for one locale.
type Composer interface {
	Compose(locale string, platform worldstate.Platform, subject any) (envelope.Envelope, error)
}

// Expander runs a compose function once per configured locale.
type Expander interface {
	Expand(fn locale.ComposeFunc) ([]envelope.Envelope, error)
}

// Decoration is the outcome of a thumbnail lookup. URL is empty whenever
// Err is set.
type Decoration struct {
	URL string
	Err error
}

// Report summarizes one cycle.
type Report struct {
	Platform   worldstate.Platform
	CycleID    string
	Window     Window
	Skipped    bool
	Dispatched map[string]int
	Failed     []string
	Err        error
	Duration   time.Duration
}

type Orchestrator struct {
	tracker     *Tracker
	composer    Composer
	expander    Expander
	broadcaster Broadcaster
	decorator   Decorator
	syndicates  func() []Syndicate

	concurrency int
	ceiling     int
	group       int

	now     Clock
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus
}

type Option func(*Orchestrator)

func WithDecorator(d Decorator) Option { return func(o *Orchestrator) { o.decorator = d } }

// WithSyndicates sets the provider read at the start of every cycle.
func WithSyndicates(fn func() []Syndicate) Option { return func(o *Orchestrator) { o.syndicates = fn } }

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithFieldLimits(ceiling, group int) Option {
	return func(o *Orchestrator) {
		o.ceiling = ceiling
		o.group = group
	}
}

func WithClock(c Clock) Option { return func(o *Orchestrator) { o.now = c } }

func WithLogger(l logx.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithBus(b eventbus.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

func NewOrchestrator(tr *Tracker, c Composer, x Expander, b Broadcaster, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tracker:     tr,
		composer:    c,
		expander:    x,
		broadcaster: b,
		concurrency: DefaultConcurrency,
		ceiling:     envelope.DefaultFieldCeiling,
		group:       envelope.DefaultGroupSize,
		now:         time.Now,
		bus:         eventbus.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes one snapshot for p. Family failures are isolated and
// reported; the tracker always advances once the cycle has begun, except
// for snapshots without a timestamp which leave it untouched.
func (o *Orchestrator) Run(ctx context.Context, p worldstate.Platform, snap *worldstate.Snapshot) Report {
	started := o.now()
	rep := Report{Platform: p, CycleID: uuid.NewString(), Dispatched: map[string]int{}}
	log := o.log.With(logx.String("platform", p.String()), logx.String("cycle", rep.CycleID))

	w, err := o.tracker.Begin(p)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Window = w

	if snap == nil || snap.Timestamp.IsZero() {
		o.tracker.Abort(p)
		rep.Skipped = true
		log.Debug("snapshot without timestamp skipped")
		o.finish(&rep, started, "skipped")
		return rep
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(f Family, err error) {
		mu.Lock()
		rep.Failed = append(rep.Failed, f.String())
		errs = append(errs, fmt.Errorf("%s: %w", f, err))
		mu.Unlock()
		o.metrics.IncFamilyFailure(p.String(), f.String())
		o.bus.Publish(eventbus.Event{Type: eventbus.FamilyFailed, Time: o.now(), Platform: p.String(), Key: f.String(), Data: err.Error()})
		log.Error("family failed", logx.String("family", f.String()), logx.Err(err))
	}

	var delta Delta
	env := noticeEnv{now: started}
	if o.syndicates != nil {
		env.syndicates = o.syndicates()
	}

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for _, f := range Families() {
		notices, err := safeNotices(f, snap, w, &delta, env)
		if err != nil {
			fail(f, err)
			continue
		}
		if len(notices) == 0 {
			continue
		}
		g.Go(func() error {
			n, err := o.dispatchFamily(ctx, p, notices)
			mu.Lock()
			if n > 0 {
				rep.Dispatched[f.String()] += n
			}
			mu.Unlock()
			o.metrics.IncEnvelope(p.String(), f.String(), n)
			if err != nil {
				fail(f, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Err = errors.Join(errs...)
	o.end(ctx, p, log)
	outcome := "ok"
	if rep.Err != nil {
		outcome = "partial"
	}
	o.finish(&rep, started, outcome)
	switch {
	case rep.Err != nil:
		log.Warn("cycle completed with failures", logx.Strings("failed", rep.Failed), logx.Any("dispatched", rep.Dispatched), logx.Err(rep.Err))
	case len(rep.Dispatched) > 0:
		log.Info("cycle completed", logx.Any("dispatched", rep.Dispatched), logx.Duration("took", rep.Duration))
	default:
		log.Debug("cycle completed", logx.Duration("took", rep.Duration))
	}
	return rep
}

func (o *Orchestrator) end(ctx context.Context, p worldstate.Platform, log logx.Logger) {
	// A failed save keeps the in-memory watermark; it is retried next cycle.
	if err := o.tracker.End(ctx, p); err != nil {
		log.Warn("cycle end", logx.Err(err))
	}
}

func (o *Orchestrator) finish(rep *Report, started time.Time, outcome string) {
	rep.Duration = o.now().Sub(started)
	o.metrics.ObserveCycle(rep.Platform.String(), outcome, rep.Duration)
	o.bus.Publish(eventbus.Event{Type: eventbus.CycleCompleted, Time: o.now(), Platform: rep.Platform.String(), Key: rep.CycleID, Data: *rep})
}

// dispatchFamily recovers its own panics so one family never takes down
// the cycle.
func (o *Orchestrator) dispatchFamily(ctx context.Context, p worldstate.Platform, notices []Notice) (sent int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	var errs []error
	for _, n := range notices {
		c, err := o.dispatch(ctx, p, n)
		sent += c
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Key, err))
		}
	}
	return sent, errors.Join(errs...)
}

func (o *Orchestrator) dispatch(ctx context.Context, p worldstate.Platform, n Notice) (int, error) {
	deco := o.decorate(ctx, n.Thumb)

	envs, composeErr := o.expander.Expand(func(loc string) (envelope.Envelope, error) {
		e, err := o.composer.Compose(loc, p, n.Subject)
		if err != nil {
			return e, err
		}
		e.Platform = p
		if deco.URL != "" {
			e.Thumbnail = deco.URL
		}
		return e, nil
	})

	var errs []error
	if composeErr != nil {
		errs = append(errs, composeErr)
	}
	sent := 0
	for _, e := range envs {
		if n.SkipBlank && e.Blank() {
			continue
		}
		for _, part := range envelope.Split(e, o.ceiling, o.group) {
			if err := o.broadcaster.Broadcast(ctx, part, p, n.Key, n.Tags, n.TTL); err != nil {
				errs = append(errs, err)
				continue
			}
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

// decorate never fails the notice: errors are logged and the envelope goes
// out without a thumbnail.
func (o *Orchestrator) decorate(ctx context.Context, t Thumb) (d Decoration) {
	if o.decorator == nil || t.Query == "" {
		return d
	}
	defer func() {
		if r := recover(); r != nil {
			d = Decoration{Err: fmt.Errorf("decorator panic: %v", r)}
			o.metrics.IncDecorationFailure()
			o.log.Warn("thumbnail lookup panicked", logx.String("query", t.Query), logx.Any("panic", r))
		}
	}()
	u, err := o.decorator.Thumbnail(ctx, t.Query, t.Boss)
	switch {
	case err == nil:
		return Decoration{URL: u}
	case isQuietDecorationErr(err):
		o.log.Debug("no thumbnail", logx.String("query", t.Query), logx.Err(err))
	default:
		o.metrics.IncDecorationFailure()
		o.log.Warn("thumbnail lookup failed", logx.String("query", t.Query), logx.Err(err))
	}
	return Decoration{Err: err}
}

// safeNotices extracts and builds one family. A panic in either step only
// fails that family.
func safeNotices(f Family, s *worldstate.Snapshot, w Window, d *Delta, env noticeEnv) (out []Notice, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	spec := specs[f]
	spec.extract(s, w, d)
	return spec.notices(d, env), nil
}

func isQuietDecorationErr(err error) bool {
	return errors.Is(err, decoration.ErrNotFound) || errors.Is(err, decoration.ErrDisabled)
}
