package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// Memory is an in-process Limiter.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemory creates an empty in-process limiter.
func NewMemory() *Memory {
	return &Memory{windows: make(map[string]*window), now: time.Now}
}

// WithClock replaces time.Now, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Allow implements Limiter. Rejected attempts do not count.
func (m *Memory) Allow(_ context.Context, user, action string, max int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := key(user, action)
	w, ok := m.windows[k]
	if !ok || now.After(w.resetAt) {
		m.windows[k] = &window{count: 1, resetAt: now.Add(Window)}
		return true, nil
	}
	if w.count >= max {
		return false, nil
	}
	w.count++
	return true, nil
}

// Remaining implements Limiter.
func (m *Memory) Remaining(_ context.Context, user, action string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key(user, action)]
	if !ok {
		return 0, nil
	}
	return max(0, w.resetAt.Sub(m.now())), nil
}

// Prune drops expired windows.
func (m *Memory) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, w := range m.windows {
		if now.After(w.resetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}
