package pipeline

import (
	"time"

	"wsnotifier/internal/worldstate"
)

// Family is one kind of notification. Each has an extraction predicate and
// a notice builder in specs.
type Family int

const (
	FamilyAcolytes Family = iota
	FamilyAlerts
	FamilyArbitration
	FamilyBaro
	FamilyConclave
	FamilyDarvo
	FamilyEvents
	FamilyFeaturedDeals
	FamilyPopularDeals
	FamilyFissures
	FamilyInvasions
	FamilyNews
	FamilyPrimeAccess
	FamilyStreams
	FamilyUpdates
	FamilySortie
	FamilySyndicates
	FamilyCetus
	FamilyEarth
	FamilyVallis
	FamilyNightwave
	FamilyTweets

	familyCount
)

const (
	acolyteTTL     = time.Hour
	invasionTTL    = 24 * time.Hour
	popularDealTTL = 24 * time.Hour
	tweetTTL       = time.Hour
)

// Thumb asks for a best-effort thumbnail. An empty Query skips the lookup.
type Thumb struct {
	Query string
	Boss  bool
}

// Notice is one thing to announce: a subject for the composer plus routing.
type Notice struct {
	Family  Family
	Key     string
	Subject any
	Tags    []string
	TTL     time.Duration
	Thumb   Thumb

	// SkipBlank drops envelopes whose description is empty or the
	// placeholder.
	SkipBlank bool
}

// Syndicate is a configured syndicate the notifier may announce.
type Syndicate struct {
	Key        string
	Display    string
	Prefix     string
	Timeout    time.Duration
	Notifiable bool
}

type noticeEnv struct {
	now        time.Time
	syndicates []Syndicate
}

type familySpec struct {
	name    string
	extract func(s *worldstate.Snapshot, w Window, d *Delta)
	notices func(d *Delta, env noticeEnv) []Notice
}

// Families lists every family in declaration order.
func Families() []Family {
	out := make([]Family, familyCount)
	for i := range out {
		out[i] = Family(i)
	}
	return out
}

func (f Family) String() string {
	if f < 0 || f >= familyCount {
		return "unknown"
	}
	return specs[f].name
}

func each[T any](f Family, in []T, build func(T) Notice) []Notice {
	out := make([]Notice, 0, len(in))
	for _, v := range in {
		n := build(v)
		n.Family = f
		out = append(out, n)
	}
	return out
}

func one(n Notice, f Family) []Notice {
	n.Family = f
	return []Notice{n}
}

// rewardThumb skips lookups for generic reactor/catalyst rewards.
func rewardThumb(item string, rewardTypes []string) Thumb {
	if containsAny(rewardTypes, "reactor", "catalyst") {
		return Thumb{}
	}
	return Thumb{Query: item}
}

var specs = [familyCount]familySpec{
	FamilyAcolytes: {
		name: "acolytes",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Acolytes = filter(s.PersistentEnemies, func(e worldstate.PersistentEnemy) bool {
				return w.Contains(e.LastDiscoveredAt.Time)
			})
		},
		notices: func(d *Delta, _ noticeEnv) []Notice {
			return each(FamilyAcolytes, d.Acolytes, func(e worldstate.PersistentEnemy) Notice {
				return Notice{Key: AcolyteKey(e.IsDiscovered), Subject: e, TTL: acolyteTTL}
			})
		},
	},
	FamilyAlerts: {
		name: "alerts",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Alerts = filter(s.Alerts, func(a worldstate.Alert) bool {
				return !a.Expired && w.Contains(a.Activation.Time)
			})
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			return each(FamilyAlerts, d.Alerts, func(a worldstate.Alert) Notice {
				return Notice{
					Key:     "alerts",
					Subject: a,
					Tags:    a.RewardTypes,
					TTL:     ttlUntil(a.Expiry.Time, env.now),
					Thumb:   rewardThumb(a.Mission.Reward.ItemString, a.RewardTypes),
				}
			})
		},
	},
	FamilyArbitration: {
		name: "arbitration",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Arbitration = ptrIf(s.Arbitration, func(a worldstate.Arbitration) bool {
				return !a.Expired && w.Contains(a.Activation.Time)
			})
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Arbitration == nil {
				return nil
			}
			a := *d.Arbitration
			return one(Notice{Key: ArbitrationKey(a.Enemy, a.Type), Subject: a, TTL: ttlUntil(a.Expiry.Time, env.now)}, FamilyArbitration)
		},
	},
	FamilyBaro: {
		name: "baro",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Baro = ptrIf(s.VoidTrader, func(v worldstate.VoidTrader) bool { return w.Contains(v.Activation.Time) })
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Baro == nil {
				return nil
			}
			return one(Notice{Key: "baro", Subject: *d.Baro, TTL: ttlUntil(d.Baro.Expiry.Time, env.now)}, FamilyBaro)
		},
	},
	FamilyConclave: {
		name: "conclave",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Conclave = filter(s.ConclaveChallenges, func(c worldstate.ConclaveChallenge) bool {
				return !c.Expired && !c.RootChallenge && w.Contains(c.Activation.Time)
			})
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			var out []Notice
			for _, cat := range []struct{ category, key string }{
				{worldstate.ConclaveDaily, "conclave.dailies"},
				{worldstate.ConclaveWeekly, "conclave.weeklies"},
			} {
				cs := filter(d.Conclave, func(c worldstate.ConclaveChallenge) bool { return c.Category == cat.category })
				if len(cs) == 0 {
					continue
				}
				out = append(out, Notice{
					Family:  FamilyConclave,
					Key:     cat.key,
					Subject: worldstate.ConclaveView{Category: cat.category, Challenges: cs},
					TTL:     ttlUntil(cs[0].Expiry.Time, env.now),
				})
			}
			return out
		},
	},
	FamilyDarvo: {
		name: "darvo",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Darvo = filter(s.DailyDeals, func(x worldstate.DailyDeal) bool { return w.Contains(x.Activation.Time) })
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			return each(FamilyDarvo, d.Darvo, func(x worldstate.DailyDeal) Notice {
				return Notice{Key: "darvo", Subject: x, TTL: ttlUntil(x.Expiry.Time, env.now)}
			})
		},
	},
	FamilyEvents: {
		name: "events",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Events = filter(s.Events, func(e worldstate.WorldEvent) bool {
				return !e.Expired && w.Contains(e.Activation.Time)
			})
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			return each(FamilyEvents, d.Events, func(e worldstate.WorldEvent) Notice {
				return Notice{Key: "operations", Subject: e, TTL: ttlUntil(e.Expiry.Time, env.now)}
			})
		},
	},
	FamilyFeaturedDeals: {
		name: "featured_deals",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.FeaturedDeals = filter(s.FlashSales, func(x worldstate.FlashSale) bool {
				return x.IsFeatured && !x.Expired && w.Contains(x.Activation.Time)
			})
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			return each(FamilyFeaturedDeals, d.FeaturedDeals, func(x worldstate.FlashSale) Notice {
				return Notice{Key: "deals.featured", Subject: worldstate.DealView{Kind: worldstate.DealFeatured, Sale: x}, TTL: ttlUntil(x.Expiry.Time, env.now)}
			})
		},
	},
	FamilyPopularDeals: {
		name: "popular_deals",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.PopularDeals = filter(s.FlashSales, func(x worldstate.FlashSale) bool {
				return x.IsPopular && !x.Expired && w.Contains(x.Activation.Time)
			})
		},
		notices: func(d *Delta, _ noticeEnv) []Notice {
			return each(FamilyPopularDeals, d.PopularDeals, func(x worldstate.FlashSale) Notice {
				return Notice{Key: "deals.popular", Subject: worldstate.DealView{Kind: worldstate.DealPopular, Sale: x}, TTL: popularDealTTL}
			})
		},
	},
	FamilyFissures: {
		name: "fissures",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Fissures = filter(s.Fissures, func(f worldstate.Fissure) bool {
				return !f.Expired && w.Contains(f.Activation.Time)
			})
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			return each(FamilyFissures, d.Fissures, func(f worldstate.Fissure) Notice {
				return Notice{Key: FissureKey(f.TierNum, f.MissionType), Subject: f, TTL: ttlUntil(f.Expiry.Time, env.now)}
			})
		},
	},
	FamilyInvasions: {
		name: "invasions",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Invasions = filter(s.Invasions, func(i worldstate.Invasion) bool {
				return len(i.RewardTypes) > 0 && !i.Completed && w.Contains(i.Activation.Time)
			})
		},
		notices: func(d *Delta, _ noticeEnv) []Notice {
			return each(FamilyInvasions, d.Invasions, func(i worldstate.Invasion) Notice {
				item := i.AttackerReward.ItemString
				if item == "" {
					item = i.DefenderReward.ItemString
				}
				return Notice{Key: "invasions", Subject: i, Tags: i.RewardTypes, TTL: invasionTTL, Thumb: rewardThumb(item, i.RewardTypes)}
			})
		},
	},
	FamilyNews: {
		name: "news",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.News = filter(s.News, func(n worldstate.NewsItem) bool {
				return !n.PrimeAccess && !n.Update && !n.Stream && w.Contains(n.Date.Time)
			})
		},
		notices: newsNotices(FamilyNews, worldstate.NewsGeneral, func(d *Delta) []worldstate.NewsItem { return d.News }),
	},
	FamilyPrimeAccess: {
		name: "primeaccess",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.PrimeAccess = filter(s.News, func(n worldstate.NewsItem) bool {
				return n.PrimeAccess && !n.Stream && w.Contains(n.Date.Time)
			})
		},
		notices: newsNotices(FamilyPrimeAccess, worldstate.NewsPrimeAccess, func(d *Delta) []worldstate.NewsItem { return d.PrimeAccess }),
	},
	FamilyStreams: {
		name: "streams",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Streams = filter(s.News, func(n worldstate.NewsItem) bool {
				return n.Stream && w.Contains(n.Activation.Time)
			})
		},
		notices: newsNotices(FamilyStreams, worldstate.NewsStream, func(d *Delta) []worldstate.NewsItem { return d.Streams }),
	},
	FamilyUpdates: {
		name: "updates",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Updates = filter(s.News, func(n worldstate.NewsItem) bool {
				return n.Update && !n.Stream && w.Contains(n.Activation.Time)
			})
		},
		notices: newsNotices(FamilyUpdates, worldstate.NewsUpdate, func(d *Delta) []worldstate.NewsItem { return d.Updates }),
	},
	FamilySortie: {
		name: "sortie",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Sortie = ptrIf(s.Sortie, func(x worldstate.Sortie) bool { return !x.Expired && w.Contains(x.Activation.Time) })
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Sortie == nil {
				return nil
			}
			x := *d.Sortie
			return one(Notice{Key: "sorties", Subject: x, TTL: ttlUntil(x.Expiry.Time, env.now), Thumb: Thumb{Query: x.Boss, Boss: true}}, FamilySortie)
		},
	},
	FamilySyndicates: {
		name: "syndicates",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Syndicates = filter(s.SyndicateMissions, func(m worldstate.SyndicateMission) bool { return w.Contains(m.Activation.Time) })
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if len(d.Syndicates) == 0 {
				return nil
			}
			var out []Notice
			for _, syn := range env.syndicates {
				if !syn.Notifiable {
					continue
				}
				ttl := syn.Timeout
				if ttl <= 0 {
					ttl = ttlUntil(d.Syndicates[0].Expiry.Time, env.now)
				}
				out = append(out, Notice{
					Family:    FamilySyndicates,
					Key:       syn.Prefix + syn.Key,
					Subject:   worldstate.SyndicateView{Key: syn.Key, Display: syn.Display, Missions: d.Syndicates},
					TTL:       ttl,
					SkipBlank: true,
				})
			}
			return out
		},
	},
	FamilyCetus: {
		name: "cetus",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			v, ok := s.CetusView()
			if !ok || cycleOver(v.Cycle.Expired, v.Cycle.Expiry.Time, w) {
				return
			}
			d.Cetus = &v
			d.CetusChanged = w.Contains(v.Cycle.Activation.Time)
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Cetus == nil {
				return nil
			}
			remaining := FromNow(d.Cetus.Cycle.Expiry.Time, env.now)
			return one(Notice{
				Key:     CycleKey("cetus", dayNight(d.Cetus.Cycle.IsDay), d.CetusChanged, remaining),
				Subject: *d.Cetus,
				TTL:     max(remaining, 0),
			}, FamilyCetus)
		},
	},
	FamilyEarth: {
		name: "earth",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Earth = ptrIf(s.EarthCycle, func(c worldstate.EarthCycle) bool { return !cycleOver(c.Expired, c.Expiry.Time, w) })
			d.EarthChanged = d.Earth != nil && w.Contains(d.Earth.Activation.Time)
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Earth == nil {
				return nil
			}
			remaining := FromNow(d.Earth.Expiry.Time, env.now)
			return one(Notice{
				Key:     CycleKey("earth", dayNight(d.Earth.IsDay), d.EarthChanged, remaining),
				Subject: *d.Earth,
				TTL:     max(remaining, 0),
			}, FamilyEarth)
		},
	},
	FamilyVallis: {
		name: "vallis",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Vallis = ptrIf(s.VallisCycle, func(c worldstate.VallisCycle) bool { return !cycleOver(c.Expired, c.Expiry.Time, w) })
			d.VallisChanged = d.Vallis != nil && w.Contains(d.Vallis.Activation.Time)
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Vallis == nil {
				return nil
			}
			phase := "cold"
			if d.Vallis.IsWarm {
				phase = "warm"
			}
			remaining := FromNow(d.Vallis.Expiry.Time, env.now)
			return one(Notice{
				Key:     CycleKey("solaris", phase, d.VallisChanged, remaining),
				Subject: *d.Vallis,
				TTL:     max(remaining, 0),
			}, FamilyVallis)
		},
	},
	FamilyNightwave: {
		name: "nightwave",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			if s.Nightwave == nil {
				return
			}
			active := filter(s.Nightwave.ActiveChallenges, func(c worldstate.NightwaveChallenge) bool {
				return c.Active && w.Contains(c.Activation.Time)
			})
			if len(active) == 0 {
				return
			}
			v := s.Nightwave.WithChallenges(active...)
			d.Nightwave = &v
		},
		notices: func(d *Delta, env noticeEnv) []Notice {
			if d.Nightwave == nil {
				return nil
			}
			nw := d.Nightwave.Nightwave
			if len(nw.ActiveChallenges) == 1 {
				return one(Notice{Key: "nightwave", Subject: *d.Nightwave, TTL: ttlUntil(nw.Expiry.Time, env.now)}, FamilyNightwave)
			}
			return each(FamilyNightwave, nw.ActiveChallenges, func(c worldstate.NightwaveChallenge) Notice {
				return Notice{Key: NightwaveKey(c), Subject: nw.WithChallenges(c), TTL: ttlUntil(c.Expiry.Time, env.now)}
			})
		},
	},
	FamilyTweets: {
		name: "tweets",
		extract: func(s *worldstate.Snapshot, w Window, d *Delta) {
			d.Tweets = filter(s.Twitter, func(t worldstate.TweetThread) bool {
				latest, ok := t.Latest()
				return ok && t.ID != "" && w.Contains(latest.CreatedAt.Time)
			})
		},
		notices: func(d *Delta, _ noticeEnv) []Notice {
			return each(FamilyTweets, d.Tweets, func(t worldstate.TweetThread) Notice {
				return Notice{Key: t.ID, Subject: t, TTL: tweetTTL}
			})
		},
	},
}

func newsNotices(f Family, kind worldstate.NewsKind, pick func(*Delta) []worldstate.NewsItem) func(*Delta, noticeEnv) []Notice {
	return func(d *Delta, _ noticeEnv) []Notice {
		return each(f, pick(d), func(n worldstate.NewsItem) Notice {
			return Notice{Key: kind.String(), Subject: worldstate.NewsView{Kind: kind, Item: n}}
		})
	}
}

// cycleOver drops cycle entities that are flagged or already past expiry.
func cycleOver(expired bool, expiry time.Time, w Window) bool {
	return expired || (!expiry.IsZero() && !expiry.After(w.Start))
}

func dayNight(day bool) string {
	if day {
		return "day"
	}
	return "night"
}
