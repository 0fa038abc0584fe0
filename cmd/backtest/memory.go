package main

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"backtest-service/services/engine"
)

// memStrategies serves strategies built from command-line flags.
type memStrategies map[string]*engine.StrategyDescriptor

func (m memStrategies) LoadStrategy(ctx context.Context, userID, id string) (*engine.StrategyDescriptor, error) {
	s, ok := m[id]
	if !ok {
		return nil, engine.ErrNotFound.WithDetails("strategy %s", id)
	}
	return s, nil
}

// memResults keeps results for the lifetime of one CLI invocation.
type memResults struct {
	mu   sync.Mutex
	rows []*engine.BacktestResult
}

func (m *memResults) SaveResult(ctx context.Context, userID string, res *engine.BacktestResult) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	m.rows = append(m.rows, res)
	return res.ID, nil
}

func (m *memResults) LoadResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.ResultSummary, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memResults) LoadResult(ctx context.Context, userID, id string) (*engine.BacktestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, engine.ErrNotFound.WithDetails("result %s", id)
}
