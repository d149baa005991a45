package indexer

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
	"github.com/Khongirad/INOMAD-sub003/internal/risk"
)

// Detection windows and limits.
const (
	historyRetention = 24 * time.Hour

	highFrequencyWindow = time.Hour
	highFrequencyLimit  = 10 // label when count exceeds this

	drainWindow      = 5 * time.Minute
	drainMinOutgoing = 3

	newRecipientMinHistory = 5
)

// maxUint256 is 2^256 - 1; approvals at or above half of it are treated as
// unlimited.
var (
	maxUint256             = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	unlimitedApprovalFloor = new(big.Int).Rsh(maxUint256, 1)
)

// TransactionRecord is one observed ledger event. Immutable once created.
type TransactionRecord struct {
	Kind        string    `json:"kind"` // "transfer" or "approval"
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      *big.Int  `json:"amount"`
	Timestamp   time.Time `json:"timestamp"` // ingest time, not chain time
	BlockNumber uint64    `json:"blockNumber"`
	TxHash      string    `json:"txHash"`
}

// TxMeta carries the chain coordinates of an event.
type TxMeta struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash"`
}

// ListChecker answers blacklist membership questions. Kept as an interface
// so the detector has no dependency on the scorer.
type ListChecker interface {
	IsBlacklisted(address string) bool
}

// accountWindow is the rolling history for one account.
// Transfers feed pattern detection; approvals are retained for display only.
type accountWindow struct {
	mu        sync.Mutex
	transfers []TransactionRecord
	approvals []TransactionRecord
}

// Detector classifies ledger events against each account's own rolling
// 24-hour history. It holds no global transaction state.
type Detector struct {
	windows sync.Map // address → *accountWindow

	lists            ListChecker // may be nil
	largeTxThreshold *big.Int    // nil disables the large-transaction rule
	now              func() time.Time
}

// NewDetector creates a pattern detector. lists may be nil;
// largeTxThreshold may be nil to disable large-transfer labeling.
func NewDetector(lists ListChecker, largeTxThreshold *big.Int) *Detector {
	return &Detector{
		lists:            lists,
		largeTxThreshold: largeTxThreshold,
		now:              time.Now,
	}
}

// WithClock overrides the wall clock, for deterministic tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// OnTransfer records a transfer against the sender's history and returns
// all triggered labels. Transfers are cached only against the sender; the
// labels are not mutually exclusive.
func (d *Detector) OnTransfer(from, to string, amount *big.Int, meta TxMeta) []risk.Label {
	account := risk.Normalize(from)
	dest := risk.Normalize(to)
	now := d.now()

	w := d.getWindow(account)
	w.mu.Lock()
	w.transfers = append(w.transfers, TransactionRecord{
		Kind:        "transfer",
		From:        account,
		To:          dest,
		Amount:      new(big.Int).Set(amount),
		Timestamp:   now,
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
	})
	pruneRecords(&w.transfers, now.Add(-historyRetention))
	history := append([]TransactionRecord(nil), w.transfers...)
	w.mu.Unlock()

	var labels []risk.Label

	// 1. High frequency: more than highFrequencyLimit transfers in the
	// trailing hour.
	hourAgo := now.Add(-highFrequencyWindow)
	recent := 0
	for _, rec := range history {
		if rec.Timestamp.After(hourAgo) {
			recent++
		}
	}
	if recent > highFrequencyLimit {
		labels = append(labels, risk.Label{
			Type:        risk.HighFrequency,
			Severity:    risk.SeverityMedium,
			Description: fmt.Sprintf("%d transfers in the last hour", recent),
		})
	}

	// 2. Drain pattern: sustained outflow with nothing coming in over the
	// trailing five minutes.
	drainCutoff := now.Add(-drainWindow)
	outgoing, incoming := 0, 0
	for _, rec := range history {
		if !rec.Timestamp.After(drainCutoff) {
			continue
		}
		if rec.From == account {
			outgoing++
		}
		if rec.To == account {
			incoming++
		}
	}
	if outgoing >= drainMinOutgoing && incoming == 0 {
		labels = append(labels, risk.Label{
			Type:        risk.DrainPattern,
			Severity:    risk.SeverityHigh,
			Description: fmt.Sprintf("%d outgoing transfers in 5 minutes with no inflow", outgoing),
		})
	}

	// 3. New recipient: only meaningful once the account has a baseline.
	if len(history) > newRecipientMinHistory {
		seen := false
		for _, rec := range history[:len(history)-1] {
			if rec.To == dest {
				seen = true
				break
			}
		}
		if !seen {
			labels = append(labels, risk.Label{
				Type:        risk.NewRecipient,
				Severity:    risk.SeverityLow,
				Description: fmt.Sprintf("first transfer to %s", dest),
			})
		}
	}

	// 4. Large transaction, when a threshold is configured.
	if d.largeTxThreshold != nil && amount.Cmp(d.largeTxThreshold) >= 0 {
		labels = append(labels, risk.Label{
			Type:        risk.LargeTransaction,
			Severity:    risk.SeverityMedium,
			Description: fmt.Sprintf("transfer of %s exceeds the large-transaction threshold", amount.String()),
		})
	}

	// 5. Blacklisted counterparty.
	if d.lists != nil && d.lists.IsBlacklisted(dest) {
		labels = append(labels, risk.Label{
			Type:        risk.BlacklistInteraction,
			Severity:    risk.SeverityHigh,
			Description: fmt.Sprintf("transfer to blacklisted address %s", dest),
		})
	}

	for _, l := range labels {
		metrics.SuspicionLabelsTotal.WithLabelValues(string(l.Type)).Inc()
	}
	return labels
}

// OnApproval records an approval against the owner's approval log and
// labels unlimited approvals. Approvals do not enter the transfer-pattern
// history.
func (d *Detector) OnApproval(owner, spender string, amount *big.Int, meta TxMeta) []risk.Label {
	account := risk.Normalize(owner)
	now := d.now()

	w := d.getWindow(account)
	w.mu.Lock()
	w.approvals = append(w.approvals, TransactionRecord{
		Kind:        "approval",
		From:        account,
		To:          risk.Normalize(spender),
		Amount:      new(big.Int).Set(amount),
		Timestamp:   now,
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
	})
	pruneRecords(&w.approvals, now.Add(-historyRetention))
	w.mu.Unlock()

	if amount.Cmp(unlimitedApprovalFloor) < 0 {
		return nil
	}

	metrics.SuspicionLabelsTotal.WithLabelValues(string(risk.UnlimitedApproval)).Inc()
	return []risk.Label{{
		Type:        risk.UnlimitedApproval,
		Severity:    risk.SeverityHigh,
		Description: fmt.Sprintf("unlimited approval granted to %s", risk.Normalize(spender)),
	}}
}

// HistoryLength returns the account's current transfer-history size.
// Unknown accounts have an empty history; that is not an error.
func (d *Detector) HistoryLength(address string) int {
	w, ok := d.peekWindow(risk.Normalize(address))
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	pruneRecords(&w.transfers, d.now().Add(-historyRetention))
	return len(w.transfers)
}

// History returns up to limit of the account's most recent transfer
// records, newest first.
func (d *Detector) History(address string, limit int) []TransactionRecord {
	w, ok := d.peekWindow(risk.Normalize(address))
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	pruneRecords(&w.transfers, d.now().Add(-historyRetention))

	out := make([]TransactionRecord, 0, limit)
	for i := len(w.transfers) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, w.transfers[i])
	}
	return out
}

// getWindow returns or creates the window for an account.
func (d *Detector) getWindow(account string) *accountWindow {
	v, _ := d.windows.LoadOrStore(account, &accountWindow{})
	return v.(*accountWindow)
}

// peekWindow returns the window only if it already exists.
func (d *Detector) peekWindow(account string) (*accountWindow, bool) {
	v, ok := d.windows.Load(account)
	if !ok {
		return nil, false
	}
	return v.(*accountWindow), true
}

// pruneRecords drops entries at or before the cutoff. Records are appended
// in arrival order, so the prefix is the stale part.
func pruneRecords(records *[]TransactionRecord, cutoff time.Time) {
	recs := *records
	start := 0
	for start < len(recs) && !recs[start].Timestamp.After(cutoff) {
		start++
	}
	if start > 0 {
		*records = recs[start:]
	}
}
