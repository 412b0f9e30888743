package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"wsnotifier/internal/schedule"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

const maxSnapshotBytes = 16 << 20

// Poller fetches {base}/{platform} for every platform on a schedule.
type Poller struct {
	cfg   Config
	sched cron.Schedule
	spec  schedule.Spec
	http  *http.Client
	sub   Submitter
	log   logx.Logger
}

func NewPoller(cfg Config, sub Submitter, log logx.Logger) (*Poller, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, spec, err := schedule.Build(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("source schedule: %w", err)
	}
	return &Poller{
		cfg:   cfg,
		sched: sched,
		spec:  spec,
		http:  &http.Client{Timeout: cfg.Timeout},
		sub:   sub,
		log:   log.With(logx.String("source", KindHTTP)),
	}, nil
}

func (p *Poller) Name() string { return "source." + KindHTTP }

// Run polls once immediately, then on schedule, until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	c := schedule.NewCron()
	c.Schedule(schedule.Immediately(p.sched), cron.FuncJob(func() {
		if err := p.PollOnce(ctx); err != nil {
			p.log.Warn("poll failed", logx.Err(err))
		}
	}))
	c.Start()
	p.log.Info("polling started", logx.String("base", p.cfg.BaseURL), logx.String("schedule", p.spec.String()))
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// PollOnce fetches every platform concurrently. One platform failing does
// not stop the others.
func (p *Poller) PollOnce(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(p.cfg.Platforms))
	for i, pl := range p.cfg.Platforms {
		g.Go(func() error {
			errs[i] = p.fetch(gctx, pl)
			return nil
		})
	}
	_ = g.Wait()
	return joinPlatformErrs(p.cfg.Platforms, errs)
}

func (p *Poller) fetch(ctx context.Context, pl worldstate.Platform) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/"+pl.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	snap, err := worldstate.Decode(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return err
	}
	return p.sub.Submit(ctx, pl, snap)
}

func joinPlatformErrs(ps []worldstate.Platform, errs []error) error {
	var out []error
	for i, err := range errs {
		if err != nil {
			out = append(out, fmt.Errorf("%s: %w", ps[i], err))
		}
	}
	return errors.Join(out...)
}
