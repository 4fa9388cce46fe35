package models

import (
	"encoding/json"
	"time"

	"go.uber.org/atomic"
)

// Entry represents a cache entry.
type Entry struct {
	Data        []byte        `json:"data"`
	StoredAt    time.Time     `json:"stored_at"`
	Expiration  time.Time     `json:"expiration"`
	AccessCount *atomic.Int64 `json:"-"`
}

// NewEntry creates a new Entry stored at storedAt and live for ttl.
func NewEntry(data []byte, storedAt time.Time, ttl time.Duration) *Entry {
	return &Entry{
		Data:        data,
		StoredAt:    storedAt,
		Expiration:  storedAt.Add(ttl),
		AccessCount: atomic.NewInt64(0),
	}
}

// IsExpired reports whether the entry is past its expiration at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.Expiration)
}

// Remaining returns the time left before expiry at now.
func (e *Entry) Remaining(now time.Time) time.Duration {
	return e.Expiration.Sub(now)
}

// IncrementAccess increments the access count.
func (e *Entry) IncrementAccess() int64 {
	return e.AccessCount.Inc()
}

// MarshalBinary lets go-redis store the entry directly.
func (e *Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary lets go-redis scan into the entry directly.
func (e *Entry) UnmarshalBinary(data []byte) error {
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	e.AccessCount = atomic.NewInt64(0)
	return nil
}
