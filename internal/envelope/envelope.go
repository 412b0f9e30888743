// Package envelope defines the locale-tagged notification payload handed to
// the broadcast layer.
package envelope

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"wsnotifier/internal/worldstate"
)

// Placeholder is the description a composer returns when a syndicate
// notice has nothing to list.
const Placeholder = "No such Syndicate"

const (
	DefaultFieldCeiling = 25
	DefaultGroupSize    = 15
)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Envelope struct {
	Locale   string
	Platform worldstate.Platform

	Title       string
	URL         string
	Description string
	Thumbnail   string
	Footer      string
	Timestamp   time.Time
	Fields      []Field

	// Group is shared by the companions of one split envelope. Part is
	// 1-based; both are zero for an unsplit envelope.
	Group string
	Part  int
	Parts int
}

// Empty reports whether the envelope has nothing worth sending.
func (e Envelope) Empty() bool {
	d := strings.TrimSpace(e.Description)
	return (d == "" || d == Placeholder) && len(e.Fields) == 0
}

// Blank reports an empty or placeholder description regardless of fields.
func (e Envelope) Blank() bool {
	d := strings.TrimSpace(e.Description)
	return d == "" || d == Placeholder
}

// Split breaks e into companions of at most group fields when it carries
// more than ceiling fields. Non-positive sizes fall back to the defaults.
func Split(e Envelope, ceiling, group int) []Envelope {
	if ceiling <= 0 {
		ceiling = DefaultFieldCeiling
	}
	if group <= 0 {
		group = DefaultGroupSize
	}
	if len(e.Fields) <= ceiling {
		return []Envelope{e}
	}

	chunks := slices.Collect(slices.Chunk(e.Fields, group))
	id := uuid.NewString()
	out := make([]Envelope, 0, len(chunks))
	for i, fs := range chunks {
		part := e
		part.Fields = slices.Clone(fs)
		part.Group = id
		part.Part = i + 1
		part.Parts = len(chunks)
		out = append(out, part)
	}
	return out
}
