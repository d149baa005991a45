// Package protection is the policy layer of the sentinel.
//
// The orchestrator turns suspicion labels into scores, scores into alerts,
// and scores past the auto-lock threshold into enforcement-contract calls.
// Enforcement is always best-effort: a dead contract degrades lock attempts
// to false and status reads to null, never to a caller-visible error.
package protection

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Khongirad/INOMAD-sub003/internal/alerts"
	"github.com/Khongirad/INOMAD-sub003/internal/circuitbreaker"
	"github.com/Khongirad/INOMAD-sub003/internal/guard"
	"github.com/Khongirad/INOMAD-sub003/internal/indexer"
	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
	"github.com/Khongirad/INOMAD-sub003/internal/risk"
	"github.com/Khongirad/INOMAD-sub003/internal/traces"
)

// Alert thresholds on the risk score.
const (
	lowAlertThreshold    = 30
	mediumAlertThreshold = 50
)

// Action is the outcome of one suspicion event.
type Action string

const (
	ActionLocked    Action = "locked"
	ActionMonitored Action = "monitored"
)

// Result summarizes what the orchestrator did with one event.
type Result struct {
	Wallet string `json:"wallet"`
	Score  int    `json:"score"`
	Action Action `json:"action"`
}

// HistoryReader exposes the detector's cached per-account history.
type HistoryReader interface {
	HistoryLength(address string) int
	History(address string, limit int) []indexer.TransactionRecord
}

// WalletStatus merges off-chain profile state with on-chain lock state.
// OnChain is nil when the enforcement contract is unreachable or not
// configured.
type WalletStatus struct {
	Wallet        string            `json:"wallet"`
	Profile       *risk.Profile     `json:"profile,omitempty"`
	HistoryLength int               `json:"historyLength"`
	Blacklisted   bool              `json:"blacklisted"`
	Whitelisted   bool              `json:"whitelisted"`
	OnChain       *guard.LockStatus `json:"onChain,omitempty"`
}

// Orchestrator wires the scorer, dispatcher, detector history, and
// enforcement contract together. guard may be nil when no enforcement key
// is configured; all contract-touching operations then degrade.
type Orchestrator struct {
	scorer  *risk.Scorer
	alerts  *alerts.Dispatcher
	guard   guard.Contract // may be nil
	history HistoryReader
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// Breaker keys for the two enforcement-contract write paths.
const (
	breakerKeyLock   = "guard_lock"
	breakerKeyScore  = "guard_score"
	breakerKeyStatus = "guard_status"
)

// New creates the orchestrator. guardContract may be nil.
func New(scorer *risk.Scorer, dispatcher *alerts.Dispatcher, guardContract guard.Contract, history HistoryReader, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scorer:  scorer,
		alerts:  dispatcher,
		guard:   guardContract,
		history: history,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// classify maps a free-text pattern description to a typed label.
// The substring rules are ordered; the first match wins and anything
// unmatched falls through to large_transaction.
func classify(raw string) risk.Label {
	lower := strings.ToLower(raw)

	var typ risk.LabelType
	switch {
	case strings.Contains(lower, "frequency"):
		typ = risk.HighFrequency
	case strings.Contains(lower, "draining"):
		typ = risk.DrainPattern
	case strings.Contains(lower, "approval"):
		typ = risk.UnlimitedApproval
	case strings.Contains(lower, "blacklist"):
		typ = risk.BlacklistInteraction
	case strings.Contains(lower, "new recipient"):
		typ = risk.NewRecipient
	default:
		typ = risk.LargeTransaction
	}

	var sev risk.Severity
	switch {
	case strings.Contains(lower, "draining"), strings.Contains(lower, "blacklist"):
		sev = risk.SeverityHigh
	case strings.Contains(lower, "frequency"), strings.Contains(lower, "approval"):
		sev = risk.SeverityMedium
	default:
		sev = risk.SeverityLow
	}

	return risk.Label{Type: typ, Severity: sev, Description: raw}
}

// ProcessSuspiciousActivity scores free-text pattern descriptions.
// This is the external entry point; the indexer's typed labels bypass the
// string classification via HandleSuspicion.
func (o *Orchestrator) ProcessSuspiciousActivity(ctx context.Context, wallet string, patterns []string, meta indexer.TxMeta) *Result {
	labels := make([]risk.Label, 0, len(patterns))
	for _, p := range patterns {
		labels = append(labels, classify(p))
	}
	return o.process(ctx, wallet, labels, meta)
}

// HandleSuspicion receives typed labels from the event indexer.
func (o *Orchestrator) HandleSuspicion(ctx context.Context, wallet string, labels []risk.Label, meta indexer.TxMeta) {
	o.process(ctx, wallet, labels, meta)
}

var _ indexer.Sink = (*Orchestrator)(nil)

func (o *Orchestrator) process(ctx context.Context, wallet string, labels []risk.Label, meta indexer.TxMeta) *Result {
	ctx, span := traces.StartSpan(ctx, "protection.process",
		traces.Wallet(risk.Normalize(wallet)),
		traces.Labels(len(labels)),
		traces.TxHash(meta.TxHash),
	)
	defer span.End()

	addr := risk.Normalize(wallet)
	score := o.scorer.Score(ctx, addr, labels)
	span.SetAttributes(traces.Score(score))

	// Mirror the score on-chain. Failures are logged and swallowed.
	o.pushScore(ctx, addr, score)

	result := &Result{Wallet: addr, Score: score, Action: ActionMonitored}

	labelStrings := make([]string, len(labels))
	for i, l := range labels {
		labelStrings[i] = string(l.Type)
	}

	switch {
	case score >= risk.AutoLockThreshold:
		// The action reflects the decision, not the contract outcome: a
		// failed lock attempt is retried by the next scoring call.
		result.Action = ActionLocked
		locked := o.LockWallet(ctx, addr, "automatic lock: risk score threshold exceeded")
		if locked {
			metrics.WalletsLockedTotal.WithLabelValues("auto").Inc()
		}
		o.alerts.HighRisk(addr, score, labelStrings)

	case score >= mediumAlertThreshold:
		o.alerts.MediumRisk(addr, score, labelStrings)

	case score >= lowAlertThreshold:
		o.alerts.LowRisk(addr, score, labelStrings)
	}

	o.logger.Info("suspicion processed",
		"wallet", addr,
		"score", score,
		"action", result.Action,
		"labels", labelStrings,
	)
	return result
}

// pushScore mirrors the current score to the enforcement contract.
func (o *Orchestrator) pushScore(ctx context.Context, wallet string, score int) {
	if o.guard == nil {
		return
	}
	if !o.breaker.Allow(breakerKeyScore) {
		return
	}

	if score > risk.MaxScore {
		score = risk.MaxScore
	}
	if _, err := o.guard.UpdateRiskScore(ctx, wallet, uint8(score)); err != nil {
		o.breaker.RecordFailure(breakerKeyScore)
		o.logger.Warn("risk score push failed", "wallet", wallet, "error", err)
		return
	}
	o.breaker.RecordSuccess(breakerKeyScore)
}

// LockWallet asks the enforcement contract to lock the wallet. Returns
// true on confirmed send, false on any failure including an unconfigured
// or circuit-broken contract.
func (o *Orchestrator) LockWallet(ctx context.Context, wallet, reason string) bool {
	if o.guard == nil {
		o.logger.Warn("lock requested without enforcement contract", "wallet", wallet)
		return false
	}
	if !o.breaker.Allow(breakerKeyLock) {
		o.logger.Warn("lock skipped, enforcement circuit open", "wallet", wallet)
		return false
	}

	txHash, err := o.guard.LockWallet(ctx, wallet, reason)
	if err != nil {
		o.breaker.RecordFailure(breakerKeyLock)
		o.logger.Error("wallet lock failed", "wallet", wallet, "error", err)
		return false
	}
	o.breaker.RecordSuccess(breakerKeyLock)

	o.logger.Info("wallet locked", "wallet", wallet, "reason", reason, "tx", txHash)
	return true
}

// ManualLock locks a wallet on operator request. The manual-lock alert is
// emitted only when the contract call succeeds.
func (o *Orchestrator) ManualLock(ctx context.Context, wallet, reason, lockedBy string) bool {
	addr := risk.Normalize(wallet)
	if !o.LockWallet(ctx, addr, reason) {
		return false
	}

	metrics.WalletsLockedTotal.WithLabelValues("manual").Inc()
	o.alerts.ManualLock(addr, reason, lockedBy)
	return true
}

// RequestJudicialFreeze records a CRITICAL freeze-request alert. The
// actual freeze needs multi-party approval out of band, so the contract is
// never called here.
func (o *Orchestrator) RequestJudicialFreeze(wallet, caseHash, requestedBy string) map[string]string {
	addr := risk.Normalize(wallet)
	o.alerts.JudicialFreeze(addr, caseHash, requestedBy)

	o.logger.Info("judicial freeze requested",
		"wallet", addr,
		"caseHash", caseHash,
		"requestedBy", requestedBy,
	)
	return map[string]string{"status": "pending"}
}

// GetWalletStatus merges the off-chain profile, cached history length,
// list membership, and on-chain lock state. A failed on-chain read leaves
// OnChain nil.
func (o *Orchestrator) GetWalletStatus(ctx context.Context, wallet string) *WalletStatus {
	addr := risk.Normalize(wallet)

	status := &WalletStatus{
		Wallet:      addr,
		Blacklisted: o.scorer.IsBlacklisted(addr),
		Whitelisted: o.scorer.IsWhitelisted(addr),
	}
	if prof, ok := o.scorer.Profile(addr); ok {
		status.Profile = prof
	}
	if o.history != nil {
		status.HistoryLength = o.history.HistoryLength(addr)
	}

	if o.guard != nil && o.breaker.Allow(breakerKeyStatus) {
		onChain, err := o.guard.GetLockStatus(ctx, addr)
		if err != nil {
			o.breaker.RecordFailure(breakerKeyStatus)
			o.logger.Warn("on-chain status read failed", "wallet", addr, "error", err)
		} else {
			o.breaker.RecordSuccess(breakerKeyStatus)
			status.OnChain = onChain
		}
	}

	return status
}

// History returns the wallet's recent cached transactions, newest first.
func (o *Orchestrator) History(wallet string, limit int) []indexer.TransactionRecord {
	if o.history == nil {
		return nil
	}
	return o.history.History(wallet, limit)
}

// Scorer exposes the underlying scorer for the administrative surface.
func (o *Orchestrator) Scorer() *risk.Scorer {
	return o.scorer
}
