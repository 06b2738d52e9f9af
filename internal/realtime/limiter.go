package realtime

import (
	"sync"
	"time"
)

// SlidingWindow allows at most limit actions per user within any window.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[int64][]time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[int64][]time.Time),
	}
}

// Allow records an action for userID and reports whether it is within the
// limit. Rejected actions are not recorded.
func (s *SlidingWindow) Allow(userID int64) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := trim(s.hits[userID], now.Add(-s.window))
	if len(hits) >= s.limit {
		s.hits[userID] = hits
		return false
	}
	s.hits[userID] = append(hits, now)
	return true
}

// Prune drops timestamps outside the window and users left with none.
// Returns how many users were dropped.
func (s *SlidingWindow) Prune() int {
	cutoff := s.now().Add(-s.window)
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for user, hits := range s.hits {
		hits = trim(hits, cutoff)
		if len(hits) == 0 {
			delete(s.hits, user)
			dropped++
			continue
		}
		s.hits[user] = hits
	}
	return dropped
}

// Tracked returns how many users currently have window entries.
func (s *SlidingWindow) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// trim drops the leading timestamps at or before cutoff. hits is sorted.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
