package config

import "strings"

const DefaultSyndicatePrefix = "syndicate."

// DefaultSyndicates is used when the config lists none.
func DefaultSyndicates() []SyndicateConfig {
	return []SyndicateConfig{
		{Key: "arbiters", Display: "Arbiters of Hexis", Notifiable: true},
		{Key: "suda", Display: "Cephalon Suda", Notifiable: true},
		{Key: "loka", Display: "New Loka", Notifiable: true},
		{Key: "perrin", Display: "Perrin Sequence", Notifiable: true},
		{Key: "veil", Display: "Red Veil", Notifiable: true},
		{Key: "meridian", Display: "Steel Meridian", Notifiable: true},
		{Key: "ostrons", Display: "Ostrons", Notifiable: true},
		{Key: "solaris", Display: "Solaris United", Notifiable: true},
		{Key: "entrati", Display: "Entrati", Notifiable: true},
		{Key: "assassins", Display: "Assassins", Notifiable: false},
	}
}

// EffectiveSyndicates fills in defaults and the shared key prefix.
func (c *Config) EffectiveSyndicates() []SyndicateConfig {
	src := c.Syndicates
	if len(src) == 0 {
		src = DefaultSyndicates()
	}
	out := make([]SyndicateConfig, 0, len(src))
	for _, s := range src {
		s.Key = strings.TrimSpace(s.Key)
		if s.Key == "" {
			continue
		}
		if strings.TrimSpace(s.Prefix) == "" {
			s.Prefix = DefaultSyndicatePrefix
		}
		out = append(out, s)
	}
	return out
}
