package commands

import (
	"regexp"
	"slices"
	"strings"
)

// exactTypes are the notification keys a chat can track as-is.
var exactTypes = []string{
	"alerts", "baro", "conclave.dailies", "conclave.weeklies", "darvo",
	"deals.featured", "deals.popular", "enemies", "enemies.departed",
	"invasions", "news", "nightwave", "nightwave.daily", "nightwave.elite",
	"nightwave.weekly", "operations", "primeaccess", "sorties", "streams",
	"updates",
}

// patternRoots take a suffix: fissures.t1.capture, cetus.night.5 and so on.
var patternRoots = []string{"arbitration", "cetus", "earth", "fissures", "solaris"}

// phaseTypes are the phase-change keys of the cycle families.
var phaseTypes = []string{
	"cetus.day", "cetus.night", "earth.day", "earth.night", "solaris.cold", "solaris.warm",
}

var keyRe = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// Catalog knows which type keys the notifier emits.
type Catalog struct {
	exact    map[string]bool
	prefixes []string
	all      []string
}

// NewCatalog adds one exact key per notifiable syndicate (prefix+key).
func NewCatalog(syndicateKeys []string) *Catalog {
	c := &Catalog{exact: map[string]bool{}}
	for _, k := range exactTypes {
		c.exact[k] = true
	}
	for _, k := range phaseTypes {
		c.exact[k] = true
	}
	for _, k := range syndicateKeys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			c.exact[k] = true
		}
	}
	for _, r := range patternRoots {
		c.prefixes = append(c.prefixes, r+".")
	}
	for k := range c.exact {
		c.all = append(c.all, k)
	}
	slices.Sort(c.all)
	return c
}

// All lists the keys "/track all" subscribes to.
func (c *Catalog) All() []string { return append([]string(nil), c.all...) }

// Normalize lowercases key. ok is false for malformed keys; known is false
// for well-formed keys no family emits under a recognised name, such as
// tweet thread ids.
func (c *Catalog) Normalize(key string) (norm string, ok, known bool) {
	norm = strings.ToLower(strings.TrimSpace(key))
	if !keyRe.MatchString(norm) {
		return norm, false, false
	}
	if c.exact[norm] {
		return norm, true, true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(norm, p) && len(norm) > len(p) {
			return norm, true, true
		}
	}
	return norm, true, false
}
