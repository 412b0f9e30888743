package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts 5- and 6-field cron specs plus descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCron returns a stopped cron runner that uses Parser. Overlapping runs
// of the same job are skipped.
func NewCron(opts ...cron.Option) *cron.Cron {
	base := []cron.Option{
		cron.WithParser(Parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	}
	return cron.New(append(base, opts...)...)
}

// Build parses raw into a cron.Schedule.
func Build(raw string) (cron.Schedule, Spec, error) {
	spec, err := Parse(raw)
	if err != nil {
		return nil, Spec{}, err
	}
	switch spec.Kind {
	case KindInterval:
		return cron.Every(spec.Every), spec, nil
	default:
		sched, err := Parser.Parse(spec.Cron)
		if err != nil {
			return nil, Spec{}, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
		}
		return sched, spec, nil
	}
}

// Validate reports whether raw can be built.
func Validate(raw string) error {
	_, _, err := Build(raw)
	return err
}

// immediate fires once at the first Next call, then follows base.
type immediate struct {
	base  cron.Schedule
	fired bool
}

func (s *immediate) Next(t time.Time) time.Time {
	if !s.fired {
		s.fired = true
		return t
	}
	return s.base.Next(t)
}

// Immediately wraps base so the job also runs as soon as the cron starts.
func Immediately(base cron.Schedule) cron.Schedule {
	return &immediate{base: base}
}
