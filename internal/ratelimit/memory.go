package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps a sliding window of request timestamps per key.
// It is per-process; use RedisStore when several replicas share limits.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time), now: time.Now}
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.windows[key], now.Add(-window))

	if len(stamps) >= limit {
		s.windows[key] = stamps
		return Result{
			Allowed:    false,
			Limit:      limit,
			ResetAt:    stamps[0].Add(window),
			RetryAfter: retryAfter(stamps[0], window, now),
		}, nil
	}

	stamps = append(stamps, now)
	s.windows[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(stamps),
		ResetAt:   stamps[0].Add(window),
	}, nil
}

// Sweep drops keys whose windows have fully expired.
func (s *MemoryStore) Sweep(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	dropped := 0
	for key, stamps := range s.windows {
		if len(prune(stamps, cutoff)) == 0 {
			delete(s.windows, key)
			dropped++
		}
	}
	return dropped
}

// prune removes timestamps at or before cutoff. stamps is ordered.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
