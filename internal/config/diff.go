package config

import (
	"reflect"
	"sort"
	"strings"

	"wsnotifier/pkg/logx"
)

// Sections that take effect without a restart.
var hotSections = map[string]bool{
	"logging":    true,
	"syndicates": true,
	"decoration": true,
	"broadcast":  true,
	"debug":      true,
}

// NeedsRestart reports whether a changed section is only read at startup.
func NeedsRestart(section string) bool { return !hotSections[section] }

// SummarizeConfigChange lists the changed sections (sorted) and safe log
// attrs for them. Secrets are reported only as "*_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Token != nT.Token || strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		!reflect.DeepEqual(oT.OwnerUserIDs, nT.OwnerUserIDs) || strings.TrimSpace(oT.GroupLog) != strings.TrimSpace(nT.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oT.Token != nT.Token),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nT.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""))
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.kind", newCfg.Source.Kind),
			logx.Strings("source.platforms", newCfg.Source.Platforms),
			logx.String("source.schedule", newCfg.Source.Schedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.String("pipeline.tolerance", newCfg.Pipeline.Tolerance),
			logx.Strings("pipeline.locales", newCfg.Pipeline.Locales),
		)
	}

	if !reflect.DeepEqual(oldCfg.EffectiveSyndicates(), newCfg.EffectiveSyndicates()) {
		changed = append(changed, "syndicates")
		attrs = append(attrs, logx.Int("syndicates.count", len(newCfg.EffectiveSyndicates())))
	}

	if oldCfg.Decoration != newCfg.Decoration {
		changed = append(changed, "decoration")
		attrs = append(attrs, logx.Bool("decoration.enabled", newCfg.Decoration.Enabled))
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Bool("broadcast.enabled", newCfg.Broadcast.Enabled),
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
		)
	}

	oD, nD := oldCfg.Debug, newCfg.Debug
	oD.Token, nD.Token = "", ""
	if oD != nD || (oldCfg.Debug.Token != "") != (newCfg.Debug.Token != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
