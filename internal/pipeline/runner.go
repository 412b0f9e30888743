package pipeline

import (
	"context"
	"fmt"

	"wsnotifier/internal/runtime/supervisor"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

const DefaultQueueSize = 4

// Cycler runs one cycle. *Orchestrator implements it.
type Cycler interface {
	Run(ctx context.Context, p worldstate.Platform, snap *worldstate.Snapshot) Report
}

// Runner serializes cycles per platform: each platform has one queue and
// one worker, so snapshots for a platform are processed in submission order
// and never overlap. Different platforms run in parallel.
type Runner struct {
	cycler Cycler
	queues map[worldstate.Platform]chan *worldstate.Snapshot
	log    logx.Logger
	report func(Report)
}

type RunnerOption func(*Runner)

func WithRunnerLogger(l logx.Logger) RunnerOption { return func(r *Runner) { r.log = l } }

// WithReportHook observes every finished cycle. Tests use it.
func WithReportHook(fn func(Report)) RunnerOption { return func(r *Runner) { r.report = fn } }

func NewRunner(c Cycler, platforms []worldstate.Platform, queueSize int, opts ...RunnerOption) *Runner {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Runner{cycler: c, queues: make(map[worldstate.Platform]chan *worldstate.Snapshot, len(platforms))}
	for _, p := range platforms {
		r.queues[p] = make(chan *worldstate.Snapshot, queueSize)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Submit enqueues snap for p, blocking while the platform queue is full.
func (r *Runner) Submit(ctx context.Context, p worldstate.Platform, snap *worldstate.Snapshot) error {
	q, ok := r.queues[p]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	select {
	case q <- snap:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches one worker per platform under sup.
func (r *Runner) Start(sup *supervisor.Supervisor) {
	for p, q := range r.queues {
		sup.Go0("cycle."+p.String(), func(ctx context.Context) {
			r.loop(ctx, p, q)
		})
	}
}

func (r *Runner) loop(ctx context.Context, p worldstate.Platform, q <-chan *worldstate.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-q:
			rep := r.cycler.Run(ctx, p, snap)
			if rep.Err != nil && len(rep.Failed) == 0 {
				r.log.Warn("cycle aborted", logx.String("platform", p.String()), logx.Err(rep.Err))
			}
			if r.report != nil {
				r.report(rep)
			}
		}
	}
}
