package worldstate

import (
	"fmt"
	"strings"
)

type Platform string

const (
	PC     Platform = "pc"
	PS4    Platform = "ps4"
	XB1    Platform = "xb1"
	Switch Platform = "swi"
)

var platformAliases = map[string]Platform{
	"pc":          PC,
	"ps4":         PS4,
	"playstation": PS4,
	"xb1":         XB1,
	"xbox":        XB1,
	"swi":         Switch,
	"switch":      Switch,
	"ns":          Switch,
}

// All returns every supported platform in a fixed order.
func All() []Platform { return []Platform{PC, PS4, XB1, Switch} }

func ParsePlatform(s string) (Platform, error) {
	p, ok := platformAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// ParsePlatforms parses a list, dropping duplicates. Empty input means All.
func ParsePlatforms(ss []string) ([]Platform, error) {
	if len(ss) == 0 {
		return All(), nil
	}
	seen := map[Platform]bool{}
	out := make([]Platform, 0, len(ss))
	for _, s := range ss {
		p, err := ParsePlatform(s)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (p Platform) String() string { return string(p) }

func (p Platform) Label() string {
	switch p {
	case PC:
		return "PC"
	case PS4:
		return "PS4"
	case XB1:
		return "Xbox One"
	case Switch:
		return "Switch"
	default:
		return strings.ToUpper(string(p))
	}
}
