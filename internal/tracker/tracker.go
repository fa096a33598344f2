package tracker

import (
	"sync"
	"time"
)

// Tracker keeps a sliding window of recent event times per (guild, user).
// State is in-memory only; a process restart loses nothing that matters since
// windows are a few seconds long and rebuilt from traffic.
type Tracker struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func New() *Tracker {
	return &Tracker{windows: make(map[string][]time.Time)}
}

// Record prunes entries older than window, appends now, and returns the
// resulting count. Entries with now - t >= window are dropped.
func (t *Tracker) Record(guildID, userID string, window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := guildID + ":" + userID
	cutoff := now.Add(-window)
	hits := t.windows[key]
	idx := 0
	for _, hit := range hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	hits = hits[idx:]
	hits = append(hits, now)
	t.windows[key] = hits
	return len(hits)
}

// Reset empties the window for a (guild, user). Called after a trip so the
// next event starts a fresh count.
func (t *Tracker) Reset(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, guildID+":"+userID)
}
