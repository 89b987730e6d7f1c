package types

import (
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the canonical on-disk timestamp format: ISO-8601 in UTC with
// millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Timestamp wraps time.Time with a stable JSON representation so that
// save(load(x)) round-trips byte-for-byte.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp, truncated to milliseconds.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// NewTimestamp converts a time.Time into a canonical Timestamp
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

// MarshalJSON formats the timestamp in the canonical format
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + t.UTC().Format(TimeFormat) + `"`), nil
}

// UnmarshalJSON accepts the canonical format plus general RFC 3339
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(TimeFormat, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp: cannot parse %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC().Truncate(time.Millisecond)
	return nil
}
