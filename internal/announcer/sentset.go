package announcer

import (
	"sync"
	"time"

	"eventannouncer/internal/model"
)

// SentSet remembers which (event, window) pairs were delivered so a slow or
// repeated tick does not announce them twice. It lives in memory only; a
// restart forgets it.
type SentSet struct {
	mu        sync.Mutex
	retention time.Duration
	sent      map[sentKey]time.Time
}

type sentKey struct {
	event  string
	start  int64
	window string
}

// NewSentSet returns a set whose entries expire after retention. Retention
// should exceed the widest window tolerance.
func NewSentSet(retention time.Duration) *SentSet {
	return &SentSet{
		retention: retention,
		sent:      make(map[sentKey]time.Time),
	}
}

func keyFor(ev model.CalendarEvent, w model.ReminderWindow) sentKey {
	// Start is part of the key so a rescheduled event is announced again.
	return sentKey{event: ev.ID, start: ev.Start.UnixNano(), window: w.Name}
}

// Seen reports whether the pair was marked and not yet pruned.
func (s *SentSet) Seen(ev model.CalendarEvent, w model.ReminderWindow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[keyFor(ev, w)]
	return ok
}

// Mark records a delivery at the given tick time.
func (s *SentSet) Mark(ev model.CalendarEvent, w model.ReminderWindow, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[keyFor(ev, w)] = at
}

// Prune drops entries older than the retention and returns how many went.
func (s *SentSet) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, at := range s.sent {
		if now.Sub(at) > s.retention {
			delete(s.sent, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered pairs.
func (s *SentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
