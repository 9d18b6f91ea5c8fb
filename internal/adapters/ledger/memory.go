package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/scoring"
)

type receiptKey struct {
	challenge string
	miner     string
}

// Memory is an in-process, append-only ledger.
type Memory struct {
	settings
	mu      sync.RWMutex
	byKey   map[receiptKey]model.Receipt
	byMiner map[string][]model.Receipt
}

var _ scoring.Ledger = (*Memory)(nil)

// NewMemory returns an empty ledger.
func NewMemory(opts ...Option) *Memory {
	s := defaults()
	for _, opt := range opts {
		opt(&s)
	}
	return &Memory{
		settings: s,
		byKey:    make(map[receiptKey]model.Receipt),
		byMiner:  make(map[string][]model.Receipt),
	}
}

// Append stores r once per (challenge, miner); later appends return the first.
func (m *Memory) Append(_ context.Context, r model.Receipt) (model.Receipt, error) {
	if r.ChallengeID == "" || r.MinerID == "" {
		return model.Receipt{}, ErrInvalidReceipt
	}
	key := receiptKey{challenge: r.ChallengeID, miner: r.MinerID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byKey[key]; ok {
		return existing, nil
	}
	m.byKey[key] = r
	m.byMiner[r.MinerID] = append(m.byMiner[r.MinerID], r)
	return r, nil
}

// MultiplierFor aggregates the miner's receipts inside the policy window.
func (m *Memory) MultiplierFor(_ context.Context, minerID string) (float64, error) {
	since := m.policy.since(m.now())

	m.mu.RLock()
	defer m.mu.RUnlock()
	passed, total := 0, 0
	for _, r := range m.byMiner[minerID] {
		if r.CreatedAt.Before(since) {
			continue
		}
		total++
		if m.policy.Passed(r.Result) {
			passed++
		}
	}
	return m.policy.Multiplier(passed, total), nil
}

// Receipts returns the miner's receipts in append order.
func (m *Memory) Receipts(_ context.Context, minerID string) ([]model.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Receipt(nil), m.byMiner[minerID]...), nil
}

// Latest returns each miner's most recent receipt, ordered by miner id.
func (m *Memory) Latest(_ context.Context) ([]model.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Receipt, 0, len(m.byMiner))
	for _, rs := range m.byMiner {
		latest := rs[0]
		for _, r := range rs[1:] {
			if !r.CreatedAt.Before(latest.CreatedAt) {
				latest = r
			}
		}
		out = append(out, latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinerID < out[j].MinerID })
	return out, nil
}
