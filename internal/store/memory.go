// Package store holds the score ledger backends: in-memory, SQLite and Redis.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/stellarlinkco/plusbot/internal/karma"
)

// Memory is a process-local ledger. Scores are lost on restart.
type Memory struct {
	mu     sync.Mutex
	scores map[string]int
}

func NewMemory() *Memory {
	return &Memory{scores: make(map[string]int)}
}

func (m *Memory) Get(_ context.Context, entity string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scores[entity], nil
}

func (m *Memory) Update(_ context.Context, entity string, fn func(int) int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := fn(m.scores[entity])
	m.scores[entity] = next
	return next, nil
}

func (m *Memory) Top(_ context.Context, n int) ([]karma.Standing, error) {
	m.mu.Lock()
	out := make([]karma.Standing, 0, len(m.scores))
	for entity, score := range m.scores {
		out = append(out, karma.Standing{Entity: entity, Score: score})
	}
	m.mu.Unlock()

	sortStandings(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// sortStandings orders by score descending, then entity ascending.
func sortStandings(s []karma.Standing) {
	slices.SortFunc(s, func(a, b karma.Standing) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity, b.Entity)
	})
}
