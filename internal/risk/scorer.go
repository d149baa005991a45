package risk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Khongirad/INOMAD-sub003/internal/idgen"
	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
)

// Scorer owns the profile map and the blacklist/whitelist sets.
// All state is in-memory; scoring never performs network calls.
type Scorer struct {
	mu        sync.Mutex
	profiles  map[string]*Profile
	blacklist map[string]struct{}
	whitelist map[string]struct{}

	store Store
	now   func() time.Time
}

// NewScorer creates a scorer backed by the given audit store (may be nil).
// The zero address starts out blacklisted.
func NewScorer(store Store) *Scorer {
	s := &Scorer{
		profiles:  make(map[string]*Profile),
		blacklist: make(map[string]struct{}),
		whitelist: make(map[string]struct{}),
		store:     store,
		now:       time.Now,
	}
	s.blacklist[ZeroAddress] = struct{}{}
	return s
}

// WithClock overrides the wall clock, for deterministic tests.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score folds the given labels into the wallet's profile and returns the
// new score.
//
// The computation is: previous score plus the weight of each label, minus
// one point per full hour elapsed since the previous scoring call, clamped
// to [0, MaxScore]. Decay applies to the combined value, not just the
// stale base, so a same-call spike can be partially cancelled by a long
// quiet period.
func (s *Scorer) Score(ctx context.Context, address string, labels []Label) int {
	addr := Normalize(address)

	s.mu.Lock()
	now := s.now()
	prof, existed := s.profiles[addr]

	raw := 0
	if existed {
		raw = prof.CurrentScore
	}
	for _, l := range labels {
		raw += l.Type.Weight()
	}

	if existed {
		hours := int(now.Sub(prof.LastUpdated).Hours())
		if hours > 0 {
			raw -= hours
		}
	}

	if raw < 0 {
		raw = 0
	}
	if raw > MaxScore {
		raw = MaxScore
	}

	if !existed {
		prof = &Profile{Address: addr}
		s.profiles[addr] = prof
	}
	prof.CurrentScore = raw
	if raw > prof.HighestScore {
		prof.HighestScore = raw
	}
	prof.LastUpdated = now
	if len(labels) > 0 {
		prof.FlagCount++
	}
	prof.RecentLabels = append([]Label(nil), labels...)
	s.mu.Unlock()

	metrics.RiskScores.Observe(float64(raw))

	// Audit trail is best-effort and off the hot path.
	if s.store != nil {
		snap := &Snapshot{
			ID:       idgen.WithPrefix("risk_"),
			Wallet:   addr,
			Score:    raw,
			Labels:   append([]Label(nil), labels...),
			ScoredAt: now,
		}
		go func() {
			_ = s.store.Record(context.WithoutCancel(ctx), snap)
		}()
	}

	return raw
}

// ShouldAutoLock reports whether the wallet's current score has reached the
// auto-lock threshold. Unknown wallets never auto-lock.
func (s *Scorer) ShouldAutoLock(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[Normalize(address)]
	return ok && prof.CurrentScore >= AutoLockThreshold
}

// ResetScore zeroes the wallet's score and clears its recent labels.
// The highest-score watermark, flag count, and decay anchor are kept.
// No-op for unknown wallets.
func (s *Scorer) ResetScore(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[Normalize(address)]
	if !ok {
		return
	}
	prof.CurrentScore = 0
	prof.RecentLabels = nil
}

// Profile returns a copy of the wallet's profile, if one exists.
func (s *Scorer) Profile(address string) (*Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof, ok := s.profiles[Normalize(address)]
	if !ok {
		return nil, false
	}
	cp := *prof
	cp.RecentLabels = append([]Label(nil), prof.RecentLabels...)
	return &cp, true
}

// HighRiskWallets returns copies of all profiles at or above threshold,
// sorted by score descending.
func (s *Scorer) HighRiskWallets(threshold int) []*Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Profile
	for _, prof := range s.profiles {
		if prof.CurrentScore >= threshold {
			cp := *prof
			cp.RecentLabels = append([]Label(nil), prof.RecentLabels...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CurrentScore > out[j].CurrentScore
	})
	return out
}

// AddToBlacklist adds the address to the blacklist. Idempotent.
func (s *Scorer) AddToBlacklist(address string) {
	s.mu.Lock()
	s.blacklist[Normalize(address)] = struct{}{}
	s.mu.Unlock()
}

// AddToWhitelist adds the address to the whitelist. Idempotent.
func (s *Scorer) AddToWhitelist(address string) {
	s.mu.Lock()
	s.whitelist[Normalize(address)] = struct{}{}
	s.mu.Unlock()
}

// IsBlacklisted reports blacklist membership.
func (s *Scorer) IsBlacklisted(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[Normalize(address)]
	return ok
}

// IsWhitelisted reports whitelist membership.
func (s *Scorer) IsWhitelisted(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.whitelist[Normalize(address)]
	return ok
}

// ProfileCount returns the number of tracked wallets.
func (s *Scorer) ProfileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// Normalize lowercases an address so map keys and set members agree
// regardless of checksum casing.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
