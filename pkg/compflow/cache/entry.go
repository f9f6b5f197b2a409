package cache

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Entry is one cached value. The Store owns stored entries; an Entry handed
// to a caller is a private copy, and replacing a value means calling Set
// again rather than editing the copy.
type Entry struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at,omitzero"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the entry is past its expiry at now.
// An entry without an expiry never expires.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// TTL returns the remaining lifetime at now, or zero for entries that never
// expire.
func (e Entry) TTL(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return 0
	}
	return max(e.ExpiresAt.Sub(now), 0)
}

func (e Entry) clone() Entry {
	e.Value = slices.Clone(e.Value)
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
