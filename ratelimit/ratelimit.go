// Package ratelimit provides per-endpoint, per-client fixed-window
// admission control. Window state lives behind an injected Store so the
// in-memory map can be swapped for Redis without touching any handler.
package ratelimit

import (
	"sync"
	"time"

	"main/logger"
)

// Outcome of one admission check.
type Outcome int

const (
	// Allowed: the request may proceed.
	Allowed Outcome = iota + 1
	// Rejected: the quota for this window is exhausted. Maps to HTTP 429.
	Rejected
	// Blocked: the caller has no resolvable identity. A request that
	// cannot be attributed cannot be fairly rate-limited, so it is refused
	// outright rather than pooled with others. Maps to HTTP 403.
	Blocked
)

// Config is the quota for one endpoint: at most Allowed requests per
// Interval, per client.
type Config struct {
	Interval time.Duration
	Allowed  int
}

// Store counts hits in fixed windows. Hit increments the counter for key,
// starting a new window if the previous one has elapsed, and returns the
// count within the current window.
type Store interface {
	Hit(key string, interval time.Duration) (int, error)
}

// Limiter dispatches admission checks against the configured endpoints.
type Limiter struct {
	store     Store
	endpoints map[string]Config
}

func New(store Store) *Limiter {
	return &Limiter{store: store, endpoints: make(map[string]Config)}
}

// Configure sets the quota for one endpoint. Endpoints without a config
// are not limited.
func (l *Limiter) Configure(endpoint string, config Config) {
	l.endpoints[endpoint] = config
}

// Admit records one request and decides its fate. Store failures fail
// open with a warning: admission control must not take the bridge down
// with it.
func (l *Limiter) Admit(endpoint, client string) Outcome {
	if client == "" {
		return Blocked
	}
	config, ok := l.endpoints[endpoint]
	if !ok {
		return Allowed
	}

	count, err := l.store.Hit(endpoint+":"+client, config.Interval)
	if err != nil {
		logger.Warn("ratelimit: store failure, admitting request: %v", err)
		return Allowed
	}
	if count > config.Allowed {
		return Rejected
	}
	return Allowed
}

type window struct {
	count int
	start time.Time
}

// MemoryStore is the default single-process store: a mutex-guarded map of
// windows. Growth is unbounded at the scale of one server process, but
// stale windows can be pruned.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (s *MemoryStore) Hit(key string, interval time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w := s.windows[key]
	if w == nil || now.Sub(w.start) >= interval {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Prune drops windows that have been idle longer than maxIdle.
func (s *MemoryStore) Prune(maxIdle time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for key, w := range s.windows {
		if w.start.Before(cutoff) {
			delete(s.windows, key)
		}
	}
}
