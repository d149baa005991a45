package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for demo and test use.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]*Snapshot // wallet → snapshots, oldest first
}

// NewMemoryStore creates an in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string][]*Snapshot)}
}

func (s *MemoryStore) Record(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snap
	cp.Labels = append([]Label(nil), snap.Labels...)
	s.snaps[snap.Wallet] = append(s.snaps[snap.Wallet], &cp)
	return nil
}

func (s *MemoryStore) ListByWallet(_ context.Context, wallet string, limit int) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snaps[Normalize(wallet)]
	if len(all) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Most recent first.
	out := make([]*Snapshot, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		cp.Labels = append([]Label(nil), all[i].Labels...)
		out = append(out, &cp)
	}
	return out, nil
}
