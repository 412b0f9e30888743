// Package locale fans one notification out to every configured locale and
// maps subscriber language codes onto those locales.
package locale

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"golang.org/x/text/language"

	"wsnotifier/internal/envelope"
)

const DefaultLocale = "en"

// ComposeFunc builds the envelope for one locale.
type ComposeFunc func(locale string) (envelope.Envelope, error)

type Expander struct {
	locales []string
	def     string
	matcher language.Matcher
	byTag   []string // matcher index -> configured locale
}

// NewExpander keeps the configured order. def is added when missing.
func NewExpander(locales []string, def string) (*Expander, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		def = DefaultLocale
		if len(locales) > 0 {
			def = strings.TrimSpace(locales[0])
		}
	}

	x := &Expander{def: def}
	seen := map[string]bool{}
	for _, l := range append([]string{def}, locales...) {
		l = strings.TrimSpace(l)
		key := normalize(l)
		if l == "" || seen[key] {
			continue
		}
		seen[key] = true
		x.locales = append(x.locales, l)
	}

	tags := make([]language.Tag, 0, len(x.locales))
	for _, l := range x.locales {
		t, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("locale %q: %w", l, err)
		}
		tags = append(tags, t)
		x.byTag = append(x.byTag, l)
	}
	x.matcher = language.NewMatcher(tags)
	return x, nil
}

// Locales returns the configured locales, default first.
func (x *Expander) Locales() []string { return append([]string(nil), x.locales...) }

func (x *Expander) Default() string { return x.def }

// Resolve maps a requested code to a configured locale: exact match, then
// the most specific locale sharing its prefix, then the closest locale of
// the same base language, then the default.
func (x *Expander) Resolve(code string) string {
	want := normalize(code)
	if want == "" {
		return x.def
	}
	best := ""
	for _, l := range x.locales {
		have := normalize(l)
		if have == want {
			return l
		}
		if prefixOf(want, have) || prefixOf(have, want) {
			if len(l) > len(best) {
				best = l
			}
		}
	}
	if best != "" {
		return best
	}
	if t, err := language.Parse(code); err == nil {
		_, idx, conf := x.matcher.Match(t)
		if conf >= language.High && idx >= 0 && idx < len(x.byTag) {
			return x.byTag[idx]
		}
	}
	return x.def
}

// Expand runs fn once per locale. A failure or panic for one locale does not
// stop the others; failures come back joined alongside the envelopes that
// did compose.
func (x *Expander) Expand(fn ComposeFunc) ([]envelope.Envelope, error) {
	out := make([]envelope.Envelope, 0, len(x.locales))
	var errs []error
	for _, l := range x.locales {
		env, err := composeOne(l, fn)
		if err != nil {
			errs = append(errs, fmt.Errorf("locale %s: %w", l, err))
			continue
		}
		env.Locale = l
		out = append(out, env)
	}
	return out, errors.Join(errs...)
}

func composeOne(l string, fn ComposeFunc) (env envelope.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compose panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(l)
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}

// prefixOf reports whether p is a subtag prefix of s ("pt" of "pt-br").
func prefixOf(p, s string) bool {
	return len(p) < len(s) && strings.HasPrefix(s, p) && s[len(p)] == '-'
}
