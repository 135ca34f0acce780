package store

import (
	"context"
	"sort"
	"sync"

	"claimline/internal/domain"
)

// Memory is the in-memory backend, used for tests and ephemeral runs.
// All maps are claim/run scoped; a single mutex is enough since every
// write is one atomic store keyed by identifier.
type Memory struct {
	mu        sync.RWMutex
	claims    map[string]domain.Claim
	events    map[string][]domain.ClaimEvent
	runs      map[string]domain.Run
	runEvents map[string][]domain.RunEvent
	decisions map[string]domain.ReviewerDecision
	apiKeys   map[string]domain.APIKey
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		claims:    make(map[string]domain.Claim),
		events:    make(map[string][]domain.ClaimEvent),
		runs:      make(map[string]domain.Run),
		runEvents: make(map[string][]domain.RunEvent),
		decisions: make(map[string]domain.ReviewerDecision),
	}
}

func (m *Memory) PutClaim(_ context.Context, c domain.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[c.ID] = c
	return nil
}

func (m *Memory) GetClaim(_ context.Context, claimID string) (domain.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[claimID]
	if !ok {
		return domain.Claim{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListClaims(_ context.Context) ([]domain.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Claim, 0, len(m.claims))
	for _, c := range m.claims {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *Memory) UpdateClaimStage(_ context.Context, claimID string, stage domain.Stage, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[claimID]
	if !ok {
		return ErrNotFound
	}
	c.Stage = stage
	c.UpdatedAt = updatedAt
	m.claims[claimID] = c
	return nil
}

func (m *Memory) UpdateClaim(_ context.Context, c domain.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[c.ID]; !ok {
		return ErrNotFound
	}
	m.claims[c.ID] = c
	return nil
}

func (m *Memory) PutEvent(_ context.Context, ev domain.ClaimEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := append(m.events[ev.ClaimID], ev)
	sort.Slice(evs, func(i, j int) bool { return evs[i].EventKey < evs[j].EventKey })
	m.events[ev.ClaimID] = evs
	return nil
}

func (m *Memory) GetLastEvent(_ context.Context, claimID string) (domain.ClaimEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[claimID]
	if len(evs) == 0 {
		return domain.ClaimEvent{}, ErrNotFound
	}
	return evs[len(evs)-1], nil
}

func (m *Memory) GetEvents(_ context.Context, claimID string) ([]domain.ClaimEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[claimID]
	out := make([]domain.ClaimEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (m *Memory) PutRun(_ context.Context, r domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *Memory) GetRun(_ context.Context, runID string) (domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return domain.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) UpdateRun(_ context.Context, r domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		return ErrNotFound
	}
	m.runs[r.ID] = r
	return nil
}

func (m *Memory) GetRunsForClaim(_ context.Context, claimID string) ([]domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Run
	for _, r := range m.runs {
		if r.ClaimID == claimID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt < out[j].StartedAt })
	return out, nil
}

func (m *Memory) PutRunEvent(_ context.Context, ev domain.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runEvents[ev.RunID] = append(m.runEvents[ev.RunID], ev)
	return nil
}

func (m *Memory) GetRunEvents(_ context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RunEvent
	for _, ev := range m.runEvents[runID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *Memory) PutDecision(_ context.Context, d domain.ReviewerDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[d.ClaimID] = d
	return nil
}

func (m *Memory) GetDecision(_ context.Context, claimID string) (domain.ReviewerDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decisions[claimID]
	if !ok {
		return domain.ReviewerDecision{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) PurgeClaim(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, claimID)
	delete(m.events, claimID)
	delete(m.decisions, claimID)
	for id, r := range m.runs {
		if r.ClaimID == claimID {
			delete(m.runs, id)
			delete(m.runEvents, id)
		}
	}
	return nil
}
