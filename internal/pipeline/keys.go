package pipeline

import (
	"strconv"
	"strings"
	"time"

	"wsnotifier/internal/worldstate"
)

// CycleKey is "<prefix>.<phase>" on a phase change. Otherwise it carries
// the remaining minutes so each minute bucket gets its own live message.
func CycleKey(prefix, phase string, changed bool, remaining time.Duration) string {
	key := prefix + "." + phase
	if changed {
		return key
	}
	return key + "." + strconv.Itoa(Quantize(remaining, time.Minute))
}

func FissureKey(tierNum int, missionType string) string {
	return "fissures.t" + strconv.Itoa(tierNum) + "." + squash(missionType)
}

func ArbitrationKey(enemy, missionType string) string {
	return "arbitration." + strings.ToLower(strings.TrimSpace(enemy)) + "." + squash(missionType)
}

// NightwaveKey: elite wins over daily; anything not daily is weekly.
func NightwaveKey(ch worldstate.NightwaveChallenge) string {
	switch {
	case ch.IsElite:
		return "nightwave.elite"
	case ch.IsDaily:
		return "nightwave.daily"
	default:
		return "nightwave.weekly"
	}
}

func AcolyteKey(discovered bool) string {
	if discovered {
		return "enemies"
	}
	return "enemies.departed"
}

// squash lowercases s and drops all whitespace.
func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
