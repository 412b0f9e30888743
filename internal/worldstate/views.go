package worldstate

import "slices"

// OstronsSyndicate names the syndicate whose missions carry Cetus bounty expiry.
const OstronsSyndicate = "Ostrons"

// CetusView is a Cetus cycle paired with the current bounty rotation expiry.
type CetusView struct {
	Cycle        CetusCycle
	BountyExpiry Instant
}

// CetusView builds the composite without touching s. ok is false when the
// snapshot has no Cetus cycle.
func (s *Snapshot) CetusView() (CetusView, bool) {
	if s == nil || s.CetusCycle == nil {
		return CetusView{}, false
	}
	v := CetusView{Cycle: *s.CetusCycle}
	for _, m := range s.SyndicateMissions {
		if m.Syndicate == OstronsSyndicate {
			v.BountyExpiry = m.Expiry
			break
		}
	}
	return v, true
}

type NewsKind int

const (
	NewsGeneral NewsKind = iota
	NewsPrimeAccess
	NewsStream
	NewsUpdate
)

func (k NewsKind) String() string {
	switch k {
	case NewsPrimeAccess:
		return "primeaccess"
	case NewsStream:
		return "streams"
	case NewsUpdate:
		return "updates"
	default:
		return "news"
	}
}

type NewsView struct {
	Kind NewsKind
	Item NewsItem
}

type DealKind int

const (
	DealFeatured DealKind = iota
	DealPopular
)

type DealView struct {
	Kind DealKind
	Sale FlashSale
}

const (
	ConclaveDaily  = "day"
	ConclaveWeekly = "week"
)

// ConclaveView groups one category of challenges into a single notice.
type ConclaveView struct {
	Category   string
	Challenges []ConclaveChallenge
}

// SyndicateView is one configured syndicate against the cycle's new missions.
type SyndicateView struct {
	Key      string
	Display  string
	Missions []SyndicateMission
}

// Matching returns the missions offered by this syndicate.
func (v SyndicateView) Matching() []SyndicateMission {
	var out []SyndicateMission
	for _, m := range v.Missions {
		if m.Syndicate == v.Display {
			out = append(out, m)
		}
	}
	return out
}

// NightwaveView is a Nightwave season narrowed to a set of challenges.
type NightwaveView struct {
	Nightwave Nightwave
}

// WithChallenges returns a copy of n listing only cs.
func (n Nightwave) WithChallenges(cs ...NightwaveChallenge) NightwaveView {
	n.ActiveChallenges = slices.Clone(cs)
	return NightwaveView{Nightwave: n}
}

// Latest returns the newest tweet of a thread.
func (t TweetThread) Latest() (Tweet, bool) {
	if len(t.Tweets) == 0 {
		return Tweet{}, false
	}
	return t.Tweets[0], true
}
