package worldstate

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Instant is a feed timestamp. Missing, null or malformed values decode to
// the zero Instant instead of failing the whole snapshot.
type Instant struct {
	time.Time
}

func At(t time.Time) Instant { return Instant{Time: t} }

// Millis builds an Instant from Unix milliseconds.
func Millis(ms int64) Instant { return Instant{Time: time.UnixMilli(ms)} }

func (i *Instant) UnmarshalJSON(b []byte) error {
	i.Time = time.Time{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z07:00", "2006-01-02T15:04:05Z"} {
			if t, err := time.Parse(layout, s); err == nil {
				i.Time = t
				return nil
			}
		}
		return nil
	}
	if ms, err := strconv.ParseInt(string(b), 10, 64); err == nil && ms > 0 {
		i.Time = time.UnixMilli(ms)
	}
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if i.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(i.UTC().Format(time.RFC3339Nano))
}
