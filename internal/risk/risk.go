// Package risk maintains per-wallet risk profiles with weighted,
// time-decayed scoring.
//
// Every suspicion label observed for a wallet adds a fixed weight to its
// score; quiet hours erode it. Scores range from 0 (clean) to 100, and a
// wallet whose score reaches the auto-lock threshold is a candidate for
// on-chain enforcement.
package risk

import (
	"context"
	"time"
)

// LabelType identifies the behavioral pattern a label describes.
type LabelType string

const (
	HighFrequency        LabelType = "high_frequency"
	LargeTransaction     LabelType = "large_transaction"
	NewRecipient         LabelType = "new_recipient"
	DrainPattern         LabelType = "drain_pattern"
	UnlimitedApproval    LabelType = "unlimited_approval"
	BlacklistInteraction LabelType = "blacklist_interaction"
)

// Severity grades how alarming a single label is on its own.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Label is one typed, severity-tagged classification of an observed event.
type Label struct {
	Type        LabelType `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
}

// labelWeights are the fixed per-type score contributions.
var labelWeights = map[LabelType]int{
	HighFrequency:        20,
	LargeTransaction:     15,
	NewRecipient:         5,
	DrainPattern:         30,
	UnlimitedApproval:    25,
	BlacklistInteraction: 40,
}

// Weight returns the score contribution of this label type.
// Unknown types contribute nothing.
func (t LabelType) Weight() int {
	return labelWeights[t]
}

// Score bounds and thresholds.
const (
	MaxScore          = 100
	AutoLockThreshold = 80
)

// ZeroAddress is blacklisted from process start.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Profile is the persistent scoring state for one wallet.
// HighestScore is a lifetime watermark and never decreases; FlagCount counts
// scoring calls that carried at least one label.
type Profile struct {
	Address      string    `json:"address"`
	CurrentScore int       `json:"currentScore"`
	HighestScore int       `json:"highestScore"`
	LastUpdated  time.Time `json:"lastUpdated"`
	FlagCount    int       `json:"flagCount"`
	RecentLabels []Label   `json:"recentLabels"`
}

// Snapshot is one scoring outcome, retained for the audit trail.
type Snapshot struct {
	ID       string    `json:"id"`
	Wallet   string    `json:"wallet"`
	Score    int       `json:"score"`
	Labels   []Label   `json:"labels"`
	ScoredAt time.Time `json:"scoredAt"`
}

// Store persists score snapshots for audit. Recording is best-effort:
// the scorer never blocks on or surfaces store failures.
type Store interface {
	Record(ctx context.Context, snap *Snapshot) error
	ListByWallet(ctx context.Context, wallet string, limit int) ([]*Snapshot, error)
}
