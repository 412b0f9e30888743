package app

import (
	"context"
	"strings"
	"time"

	"wsnotifier/internal/config"
	"wsnotifier/pkg/logx"
)

// reloadLoop applies published configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the hot sections into running components and warns
// about the ones that need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	var cold []string
	for _, s := range sections {
		if config.NeedsRestart(s) {
			cold = append(cold, s)
		}
	}

	if chatID, threadID, ok := parseGroupLog(next.Telegram.GroupLog, next.Logging.Telegram.ThreadID); ok {
		a.logs.SetTelegramTarget(chatID, threadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLoggingConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	if syns, err := mapSyndicates(next); err != nil {
		a.log.Warn("invalid syndicates config; keeping previous", logx.Err(err))
	} else {
		a.syndicates.Store(&syns)
		a.cmds.SetCatalog(catalogFor(syns))
	}

	if dc, err := mapDecorationConfig(next); err != nil {
		a.log.Warn("invalid decoration config; keeping previous", logx.Err(err))
	} else {
		a.deco.Reconfigure(dc)
	}

	if bc, err := mapBroadcastConfig(next); err != nil {
		a.log.Warn("invalid broadcast config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.bcast.Enabled()
		a.bcast.Apply(bc)
		switch {
		case wasEnabled && !bc.Enabled:
			a.log.Info("broadcast disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.bcast.Stop(stopCtx)
			cancel()
		case !wasEnabled && bc.Enabled:
			a.log.Info("broadcast enabled via config")
			a.bcast.Start(a.sup.Context())
		}
	}

	if dbg, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(a.sup.Context(), dbg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(cold) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", cold))
	}
}
