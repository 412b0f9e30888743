package broadcast

import (
	"context"

	"github.com/robfig/cron/v3"

	"wsnotifier/internal/schedule"
	"wsnotifier/pkg/logx"
)

// restartSweeper (re)builds the cron runner that retires expired messages.
func (s *Service) restartSweeper() {
	s.mu.Lock()
	old := s.sweeper
	s.sweeper = nil
	spec := s.cfg.SweepSchedule
	sup := s.sup
	s.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	if sup == nil {
		return
	}

	sched, _, err := schedule.Build(spec)
	if err != nil {
		s.log.Warn("invalid sweep schedule; using default", logx.String("schedule", spec), logx.Err(err))
		sched, _, _ = schedule.Build(DefaultSweepSchedule)
	}
	ctx := sup.Context()
	c := schedule.NewCron()
	c.Schedule(sched, cron.FuncJob(func() {
		if n := s.Sweep(ctx); n > 0 {
			s.log.Debug("expired messages retired", logx.Int("count", n))
		}
	}))
	c.Start()

	s.mu.Lock()
	s.sweeper = c
	s.mu.Unlock()
}

// Sweep retires every live message whose TTL has passed and returns how
// many were retired.
func (s *Service) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		batch, err := s.dir.ExpiredLive(ctx, s.now(), sweepBatch)
		if err != nil {
			s.log.Warn("list expired messages failed", logx.Err(err))
			return total
		}
		retired := 0
		for _, m := range batch {
			if s.retire(ctx, m) {
				retired++
			}
		}
		total += retired
		// a short batch is the last one; a failed forget would loop forever.
		if len(batch) < sweepBatch || retired < len(batch) {
			break
		}
	}
	return total
}
