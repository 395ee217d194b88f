// Package quota limits how many score mutations an actor may make per window.
package quota

import (
	"context"
	"sync"
	"time"
)

// RateWindow is one actor's fixed counting window.
type RateWindow struct {
	ActorID string
	Start   time.Time
	Count   int
}

// Memory is a fixed-window limiter kept in process memory.
// A limit of zero or less never blocks.
type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	windows map[string]*RateWindow
}

// Option configures a Memory limiter.
type Option func(*Memory)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

func NewMemory(window time.Duration, limit int, opts ...Option) *Memory {
	m := &Memory{
		window:  window,
		limit:   limit,
		now:     time.Now,
		windows: make(map[string]*RateWindow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordAndCheck counts one attempt and reports whether it is within the limit.
func (m *Memory) RecordAndCheck(_ context.Context, actorID string) (bool, error) {
	if m.limit <= 0 {
		return true, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[actorID]
	if !ok || now.Sub(w.Start) >= m.window {
		w = &RateWindow{ActorID: actorID, Start: now}
		m.windows[actorID] = w
	}
	w.Count++
	return w.Count <= m.limit, nil
}

// Prune drops expired windows and returns how many were removed.
func (m *Memory) Prune(_ context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, w := range m.windows {
		if now.Sub(w.Start) >= m.window {
			delete(m.windows, id)
			removed++
		}
	}
	return removed, nil
}

// Windows returns a snapshot of the live windows.
func (m *Memory) Windows() []RateWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RateWindow, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, *w)
	}
	return out
}
