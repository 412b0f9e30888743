package pipeline

import (
	"slices"

	"wsnotifier/internal/worldstate"
)

// Delta is what one cycle considers new. Cycle entities are always present
// when the snapshot has a live one; the Changed flags tell a phase change
// from a heartbeat.
type Delta struct {
	Acolytes      []worldstate.PersistentEnemy
	Alerts        []worldstate.Alert
	Arbitration   *worldstate.Arbitration
	Baro          *worldstate.VoidTrader
	Conclave      []worldstate.ConclaveChallenge
	Darvo         []worldstate.DailyDeal
	Events        []worldstate.WorldEvent
	FeaturedDeals []worldstate.FlashSale
	PopularDeals  []worldstate.FlashSale
	Fissures      []worldstate.Fissure
	Invasions     []worldstate.Invasion
	News          []worldstate.NewsItem
	PrimeAccess   []worldstate.NewsItem
	Streams       []worldstate.NewsItem
	Updates       []worldstate.NewsItem
	Sortie        *worldstate.Sortie
	Syndicates    []worldstate.SyndicateMission
	Tweets        []worldstate.TweetThread
	Nightwave     *worldstate.NightwaveView

	Cetus         *worldstate.CetusView
	CetusChanged  bool
	Earth         *worldstate.EarthCycle
	EarthChanged  bool
	Vallis        *worldstate.VallisCycle
	VallisChanged bool
}

// Extract partitions s against w. It is pure: the same inputs always yield
// an equal Delta and s is never modified.
func Extract(s *worldstate.Snapshot, w Window) Delta {
	var d Delta
	if s == nil {
		return d
	}
	for _, f := range Families() {
		specs[f].extract(s, w, &d)
	}
	return d
}

func filter[T any](in []T, keep func(T) bool) []T {
	var out []T
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func ptrIf[T any](v *T, keep func(T) bool) *T {
	if v == nil || !keep(*v) {
		return nil
	}
	c := *v
	return &c
}

func containsAny(set []string, vals ...string) bool {
	for _, v := range vals {
		if slices.Contains(set, v) {
			return true
		}
	}
	return false
}
