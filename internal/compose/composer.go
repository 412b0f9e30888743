// Package compose turns worldstate entities into localized envelopes.
package compose

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/message"

	"wsnotifier/internal/envelope"
	"wsnotifier/internal/worldstate"
)

var ErrUnsupportedSubject = errors.New("compose: unsupported subject")

type Composer struct {
	cats *catalogSet
	now  func() time.Time
}

type Option func(*Composer)

// WithClock overrides time.Now for countdown text.
func WithClock(now func() time.Time) Option { return func(c *Composer) { c.now = now } }

func New(opts ...Option) (*Composer, error) {
	cats, err := loadCatalogs()
	if err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	c := &Composer{cats: cats, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Locales lists the embedded translations.
func (c *Composer) Locales() []string { return append([]string(nil), c.cats.names...) }

// Compose renders subject for locale. The returned envelope is already
// tagged with locale and platform.
func (c *Composer) Compose(locale string, platform worldstate.Platform, subject any) (envelope.Envelope, error) {
	p := c.cats.printer(locale)
	var env envelope.Envelope
	switch v := subject.(type) {
	case worldstate.Alert:
		env = c.alert(p, v)
	case worldstate.Arbitration:
		env = envelope.Envelope{
			Title:       p.Sprintf("arbitration.title", v.Type),
			Description: p.Sprintf("arbitration.body", v.Enemy, v.Node),
			Timestamp:   v.Activation.Time,
		}
		c.expiryFooter(p, &env, v.Expiry)
	case worldstate.VoidTrader:
		env = c.baro(p, v)
	case worldstate.CetusView:
		key := "cetus.night"
		if v.Cycle.IsDay {
			key = "cetus.day"
		}
		env = envelope.Envelope{
			Title:       p.Sprintf(key),
			Description: p.Sprintf("cetus.body", c.until(v.Cycle.Expiry)),
			Timestamp:   v.Cycle.Activation.Time,
		}
		if !v.BountyExpiry.IsZero() {
			env.Footer = p.Sprintf("cetus.bounties", c.until(v.BountyExpiry))
		}
	case worldstate.EarthCycle:
		key := "earth.night"
		if v.IsDay {
			key = "earth.day"
		}
		env = envelope.Envelope{Title: p.Sprintf(key), Description: p.Sprintf("earth.body", c.until(v.Expiry)), Timestamp: v.Activation.Time}
	case worldstate.VallisCycle:
		key := "vallis.cold"
		if v.IsWarm {
			key = "vallis.warm"
		}
		env = envelope.Envelope{Title: p.Sprintf(key), Description: p.Sprintf("vallis.body", c.until(v.Expiry)), Timestamp: v.Activation.Time}
	case worldstate.ConclaveView:
		key := "conclave.weekly"
		if v.Category == worldstate.ConclaveDaily {
			key = "conclave.daily"
		}
		env = envelope.Envelope{Title: p.Sprintf(key)}
		for _, ch := range v.Challenges {
			env.Fields = append(env.Fields, envelope.Field{Name: ch.Mode, Value: p.Sprintf("conclave.challenge", ch.Description, ch.Standing)})
		}
		if len(v.Challenges) > 0 {
			env.Timestamp = v.Challenges[0].Activation.Time
			c.expiryFooter(p, &env, v.Challenges[0].Expiry)
		}
	case worldstate.DailyDeal:
		env = envelope.Envelope{
			Title:       p.Sprintf("darvo.title", v.Item),
			Description: p.Sprintf("darvo.body", v.SalePrice, v.OriginalPrice, v.Sold, v.Total),
			Timestamp:   v.Activation.Time,
		}
		c.expiryFooter(p, &env, v.Expiry)
	case worldstate.WorldEvent:
		env = envelope.Envelope{Title: v.Description, Description: v.Tooltip, Timestamp: v.Activation.Time}
		if rewards := rewardList(v.Rewards); rewards != "" {
			env.Fields = []envelope.Field{{Name: p.Sprintf("event.rewards"), Value: rewards}}
		}
		c.expiryFooter(p, &env, v.Expiry)
	case worldstate.DealView:
		key := "deal.featured"
		if v.Kind == worldstate.DealPopular {
			key = "deal.popular"
		}
		env = envelope.Envelope{
			Title:       p.Sprintf(key, v.Sale.Item),
			Description: p.Sprintf("deal.body", v.Sale.Discount, v.Sale.Premium),
			Timestamp:   v.Sale.Activation.Time,
		}
		c.expiryFooter(p, &env, v.Sale.Expiry)
	case worldstate.Fissure:
		env = envelope.Envelope{
			Title:       p.Sprintf("fissure.title", v.Tier, v.MissionType),
			Description: p.Sprintf("fissure.body", v.Enemy, v.Node),
			Timestamp:   v.Activation.Time,
		}
		c.expiryFooter(p, &env, v.Expiry)
	case worldstate.Invasion:
		env = c.invasion(p, v)
	case worldstate.NewsView:
		env = envelope.Envelope{
			Title:       p.Sprintf(v.Kind.String() + ".title"),
			Description: v.Item.Message,
			URL:         v.Item.Link,
			Thumbnail:   v.Item.ImageLink,
			Timestamp:   v.Item.Date.Time,
		}
	case worldstate.NightwaveView:
		env = c.nightwave(p, v.Nightwave)
	case worldstate.PersistentEnemy:
		env = c.acolyte(p, v)
	case worldstate.Sortie:
		env = envelope.Envelope{
			Title:       p.Sprintf("sortie.title", v.Boss),
			Description: p.Sprintf("sortie.body", v.Faction),
			Timestamp:   v.Activation.Time,
		}
		for i, vr := range v.Variants {
			env.Fields = append(env.Fields, envelope.Field{
				Name:  fmt.Sprintf("%d. %s", i+1, vr.Modifier),
				Value: p.Sprintf("sortie.variant", vr.MissionType, vr.Node),
			})
		}
		c.expiryFooter(p, &env, v.Expiry)
	case worldstate.SyndicateView:
		env = c.syndicate(p, v)
	case worldstate.TweetThread:
		t, ok := v.Latest()
		if !ok {
			return envelope.Envelope{}, fmt.Errorf("%w: empty tweet thread %s", ErrUnsupportedSubject, v.ID)
		}
		env = envelope.Envelope{
			Title:       p.Sprintf("tweet.title", t.Author.Name, t.Author.Handle),
			Description: t.Text,
			URL:         t.URL,
			Timestamp:   t.CreatedAt.Time,
		}
	default:
		return envelope.Envelope{}, fmt.Errorf("%w: %T", ErrUnsupportedSubject, subject)
	}

	env.Locale = locale
	env.Platform = platform
	if env.Footer == "" {
		env.Footer = platform.Label()
	} else {
		env.Footer = platform.Label() + " | " + env.Footer
	}
	return env, nil
}

func (c *Composer) alert(p *message.Printer, a worldstate.Alert) envelope.Envelope {
	title := a.Mission.Reward.AsString
	if title == "" {
		title = p.Sprintf("alert.fallback")
	}
	env := envelope.Envelope{
		Title:       p.Sprintf("alert.title", title),
		Description: p.Sprintf("alert.body", a.Mission.Type, a.Mission.Faction, a.Mission.Node),
		Timestamp:   a.Activation.Time,
	}
	if a.Mission.MaxEnemyLevel > 0 {
		env.Fields = append(env.Fields, envelope.Field{
			Name:   p.Sprintf("alert.levels.name"),
			Value:  p.Sprintf("alert.levels.value", a.Mission.MinEnemyLevel, a.Mission.MaxEnemyLevel),
			Inline: true,
		})
	}
	c.expiryFooter(p, &env, a.Expiry)
	return env
}

func (c *Composer) baro(p *message.Printer, v worldstate.VoidTrader) envelope.Envelope {
	env := envelope.Envelope{
		Title:       p.Sprintf("baro.title", v.Character, v.Location),
		Description: p.Sprintf("baro.leaving", c.until(v.Expiry)),
		Timestamp:   v.Activation.Time,
	}
	for _, it := range v.Inventory {
		env.Fields = append(env.Fields, envelope.Field{Name: it.Item, Value: p.Sprintf("baro.item", it.Ducats, it.Credits), Inline: true})
	}
	return env
}

func (c *Composer) invasion(p *message.Printer, v worldstate.Invasion) envelope.Envelope {
	reward := func(r worldstate.Reward) string {
		if r.AsString != "" {
			return r.AsString
		}
		return p.Sprintf("invasion.none")
	}
	return envelope.Envelope{
		Title:       v.Desc,
		Description: p.Sprintf("invasion.body", v.AttackingFaction, v.DefendingFaction, v.Node),
		Timestamp:   v.Activation.Time,
		Fields: []envelope.Field{
			{Name: p.Sprintf("invasion.attacker"), Value: reward(v.AttackerReward), Inline: true},
			{Name: p.Sprintf("invasion.defender"), Value: reward(v.DefenderReward), Inline: true},
		},
	}
}

func (c *Composer) nightwave(p *message.Printer, nw worldstate.Nightwave) envelope.Envelope {
	env := envelope.Envelope{Title: p.Sprintf("nightwave.title", nw.Season), Timestamp: nw.Activation.Time}
	for _, ch := range nw.ActiveChallenges {
		kind := "nightwave.daily"
		switch {
		case ch.IsElite:
			kind = "nightwave.elite"
		case !ch.IsDaily:
			kind = "nightwave.weekly"
		}
		env.Fields = append(env.Fields, envelope.Field{
			Name:  p.Sprintf(kind) + ": " + ch.Title,
			Value: p.Sprintf("nightwave.challenge", ch.Desc, ch.Reputation),
		})
	}
	if len(nw.ActiveChallenges) == 1 {
		c.expiryFooter(p, &env, nw.ActiveChallenges[0].Expiry)
	} else {
		c.expiryFooter(p, &env, nw.Expiry)
	}
	return env
}

func (c *Composer) acolyte(p *message.Printer, v worldstate.PersistentEnemy) envelope.Envelope {
	env := envelope.Envelope{Title: v.AgentType, Timestamp: v.LastDiscoveredAt.Time}
	if v.IsDiscovered {
		env.Description = p.Sprintf("acolyte.found", v.AgentType, v.LocationTag)
	} else {
		env.Description = p.Sprintf("acolyte.departed", v.AgentType)
	}
	env.Fields = []envelope.Field{
		{Name: p.Sprintf("acolyte.health"), Value: p.Sprintf("acolyte.health.value", v.HealthPercent*100), Inline: true},
		{Name: p.Sprintf("acolyte.rank"), Value: fmt.Sprint(v.Rank), Inline: true},
	}
	return env
}

func (c *Composer) syndicate(p *message.Printer, v worldstate.SyndicateView) envelope.Envelope {
	env := envelope.Envelope{Title: v.Display}
	missions := v.Matching()
	if len(missions) == 0 {
		env.Description = envelope.Placeholder
		return env
	}
	var nodes []string
	for _, m := range missions {
		nodes = append(nodes, m.Nodes...)
		for _, j := range m.Jobs {
			env.Fields = append(env.Fields, envelope.Field{Name: j.Type, Value: strings.Join(j.RewardPool, ", ")})
		}
	}
	env.Description = p.Sprintf("syndicate.nodes", strings.Join(nodes, "\n"))
	env.Timestamp = missions[0].Activation.Time
	c.expiryFooter(p, &env, missions[0].Expiry)
	return env
}

func (c *Composer) expiryFooter(p *message.Printer, env *envelope.Envelope, expiry worldstate.Instant) {
	if expiry.IsZero() {
		return
	}
	if !expiry.After(c.now()) {
		env.Footer = p.Sprintf("expired")
		return
	}
	env.Footer = p.Sprintf("expires.in", c.until(expiry))
}

func (c *Composer) until(t worldstate.Instant) string {
	if t.IsZero() {
		return "?"
	}
	return Countdown(t.Sub(c.now()))
}

// Countdown renders d as "1d 2h 3m", dropping leading zero units. Values
// under a minute render as "0m".
func Countdown(d time.Duration) string {
	if d < time.Minute {
		return "0m"
	}
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 || days > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	parts = append(parts, fmt.Sprintf("%dm", mins))
	return strings.Join(parts, " ")
}

func rewardList(rs []worldstate.Reward) string {
	var out []string
	for _, r := range rs {
		if r.AsString != "" {
			out = append(out, r.AsString)
		}
	}
	return strings.Join(out, "\n")
}
