// Package app wires the notifier together: config, logging, storage, the
// snapshot source, the pipeline, delivery and the Telegram command surface.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wsnotifier/internal/broadcast"
	"wsnotifier/internal/commands"
	"wsnotifier/internal/compose"
	"wsnotifier/internal/config"
	"wsnotifier/internal/decoration"
	"wsnotifier/internal/eventbus"
	"wsnotifier/internal/locale"
	"wsnotifier/internal/metrics"
	"wsnotifier/internal/observability/debugsrv"
	"wsnotifier/internal/pipeline"
	rtsup "wsnotifier/internal/runtime/supervisor"
	"wsnotifier/internal/source"
	"wsnotifier/internal/storage"
	"wsnotifier/internal/transport"
	telegram "wsnotifier/internal/transport/telegram/adapter"
	"wsnotifier/internal/transport/telegram/router"
	"wsnotifier/internal/worldstate"
	"wsnotifier/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   *storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	cmds    *commands.Handlers

	deco    *decoration.Client
	bcast   *broadcast.Service
	tracker *pipeline.Tracker
	runner  *pipeline.Runner
	src     source.Source
	debug   *debugsrv.Service

	syndicates atomic.Pointer[[]pipeline.Syndicate]
	persist    bool
	startedAt  time.Time

	lastMu sync.Mutex
	last   map[worldstate.Platform]pipeline.Report

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMappings(cfg); err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bring logging up with the Telegram sink off, point it at the log
	// chat, then apply the real config so Apply never sees a sink without
	// a target.
	logCfg := mapLoggingConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, root := logx.New(logCfg, ad)
	if chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog, cfg.Logging.Telegram.ThreadID); ok {
		logSvc.SetTelegramTarget(chatID, threadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		adapter: ad,
		last:    map[worldstate.Platform]pipeline.Report{},
		updates: make(chan transport.Update, 256),
	}
	if err := a.build(ctx, cfg, root); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, root logx.Logger) error {
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(ctx, sc, comp("storage"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	composer, err := compose.New()
	if err != nil {
		return err
	}
	ps, err := mapPipelineConfig(cfg, composer.Locales())
	if err != nil {
		return err
	}
	expander, err := locale.NewExpander(ps.locales, ps.defaultLocale)
	if err != nil {
		return err
	}

	syns, err := mapSyndicates(cfg)
	if err != nil {
		return err
	}
	a.syndicates.Store(&syns)

	dc, err := mapDecorationConfig(cfg)
	if err != nil {
		return err
	}
	a.deco = decoration.New(dc)

	bc, err := mapBroadcastConfig(cfg)
	if err != nil {
		return err
	}
	a.bcast = broadcast.New(bc, a.adapter, a.store, expander, comp("broadcast"),
		broadcast.WithBus(a.bus),
		broadcast.WithMetrics(a.metrics),
	)

	platforms, err := mapPlatforms(cfg)
	if err != nil {
		return err
	}
	trOpts := []pipeline.TrackerOption{
		pipeline.WithTolerance(ps.tolerance),
		pipeline.WithTrackerLogger(comp("tracker")),
	}
	if ps.persist {
		a.persist = true
		trOpts = append(trOpts, pipeline.WithWatermarkStore(a.store), pipeline.WithMaxLookback(ps.maxLookback))
	}
	a.tracker = pipeline.NewTracker(platforms, trOpts...)

	orch := pipeline.NewOrchestrator(a.tracker, composer, expander, a.bcast,
		pipeline.WithDecorator(a.deco),
		pipeline.WithSyndicates(func() []pipeline.Syndicate { return *a.syndicates.Load() }),
		pipeline.WithConcurrency(ps.concurrency),
		pipeline.WithFieldLimits(ps.ceiling, ps.group),
		pipeline.WithLogger(comp("pipeline")),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithBus(a.bus),
	)
	a.runner = pipeline.NewRunner(orch, platforms, ps.queueSize,
		pipeline.WithRunnerLogger(comp("runner")),
		pipeline.WithReportHook(a.recordReport),
	)

	srcCfg, err := mapSourceConfig(cfg, platforms)
	if err != nil {
		return err
	}
	a.src, err = source.New(srcCfg, a.runner, comp("source"))
	if err != nil {
		return err
	}

	a.cmds = commands.New(a.store, expander, catalogFor(syns), comp("commands"))
	a.cmds.SetStatus(a.status)
	a.router = router.New(comp("commands"), a.adapter, cfg.Telegram.OwnerUserIDs)
	a.router.SetRegistry(a.cmds.Commands())

	dbg, err := mapDebugConfig(cfg)
	if err != nil {
		return err
	}
	a.debug = debugsrv.New(dbg, a.metrics.Handler(), a.health, comp("debugsrv"))
	return nil
}

func (a *App) recordReport(r pipeline.Report) {
	a.lastMu.Lock()
	a.last[r.Platform] = r
	a.lastMu.Unlock()
}

// health feeds /healthz with the last cycle per platform.
func (a *App) health() map[string]any {
	a.lastMu.Lock()
	cycles := make(map[string]any, len(a.last))
	for p, r := range a.last {
		cycles[p.String()] = map[string]any{
			"cycle_id":     r.CycleID,
			"window_start": r.Window.Start,
			"skipped":      r.Skipped,
			"dispatched":   r.Dispatched,
			"failed":       r.Failed,
			"duration_ms":  r.Duration.Milliseconds(),
		}
	}
	a.lastMu.Unlock()
	out := map[string]any{
		"cycles":      cycles,
		"bus_dropped": a.bus.Dropped(),
		"broadcast":   a.bcast.Enabled(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Counters()
	}
	return out
}

func (a *App) status() commands.Status {
	st := commands.Status{
		StartedAt:  a.startedAt,
		Broadcast:  a.bcast.Enabled(),
		BusDropped: a.bus.Dropped(),
	}
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	for p, r := range a.last {
		ps := commands.PlatformStatus{
			Platform:    p.String(),
			CycleID:     r.CycleID,
			WindowStart: r.Window.Start,
			Skipped:     r.Skipped,
			Failed:      len(r.Failed),
			Duration:    r.Duration,
		}
		for _, n := range r.Dispatched {
			ps.Dispatched += n
		}
		if r.Err != nil {
			ps.Err = r.Err.Error()
		}
		st.Platforms = append(st.Platforms, ps)
	}
	return st
}

// Done is closed when the app supervisor ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateMappings(cfg) })

	if a.persist {
		if err := a.tracker.Restore(run); err != nil {
			a.log.Warn("watermark restore failed; starting from now", logx.Err(err))
		}
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if a.bcast.Enabled() {
		a.bcast.Start(run)
	}
	a.debug.Start(run)

	a.runner.Start(a.sup)
	a.sup.GoRestart("source."+a.src.Name(), a.src.Run,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithStopOnCleanExit(false),
	)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		if err := a.router.PublishMenu(c); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.metrics", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.metrics.IncEvent(e.Type)
				a.log.Trace("event", logx.String("type", e.Type), logx.String("platform", e.Platform), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("source", a.src.Name()),
		logx.Int("platforms", len(a.tracker.Platforms())),
		logx.Bool("broadcast", a.bcast.Enabled()),
	)
	return nil
}

// Stop unwinds in dependency order, bounding each step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "broadcast", 3*time.Second, func(c context.Context) error { a.bcast.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn with an upper bound that never extends ctx's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
