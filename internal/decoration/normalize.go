package decoration

import (
	"regexp"
	"strings"
)

var (
	leadingCount = regexp.MustCompile(`^\d+\s*x?\s+`)
	partSuffix   = regexp.MustCompile(`\s+(blueprint|receiver|stock|barrel|blade|gauntlet|upper limb|lower limb|string|guard|neuroptics|systems|chassis|link)$`)
	spaces       = regexp.MustCompile(`\s+`)
)

// NormalizeQuery reduces a reward string to the item it belongs to:
// "3 x Soma Prime Barrel" becomes "soma prime".
func NormalizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = spaces.ReplaceAllString(q, " ")
	q = leadingCount.ReplaceAllString(q, "")
	q = partSuffix.ReplaceAllString(q, "")
	return strings.TrimSpace(q)
}
