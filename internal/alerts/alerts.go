// Package alerts provides tiered operator notifications for the protection
// pipeline.
//
// Alerts live in a fixed-capacity, newest-first ring buffer; the oldest
// entries are evicted silently on overflow. Dispatch is independent of the
// risk scorer's internal weights; callers decide the tier.
package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Khongirad/INOMAD-sub003/internal/idgen"
	"github.com/Khongirad/INOMAD-sub003/internal/metrics"
)

// Level is the alert severity tier.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Type categorizes what triggered the alert.
type Type string

const (
	TypeRiskScore      Type = "risk_score"
	TypeManualLock     Type = "manual_lock"
	TypeJudicialFreeze Type = "judicial_freeze"
	TypeBlacklist      Type = "blacklist"
	TypeSystem         Type = "system"
)

// maxAlerts caps the ring buffer.
const maxAlerts = 1000

// Alert is one operator-facing notification.
type Alert struct {
	ID             string         `json:"id"`
	Level          Level          `json:"level"`
	Type           Type           `json:"type"`
	Wallet         string         `json:"wallet,omitempty"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt,omitempty"`
}

// Publisher receives every created alert, e.g. a WebSocket hub.
// Implementations must not block.
type Publisher interface {
	PublishAlert(a *Alert)
}

// Dispatcher owns the alert ring buffer.
type Dispatcher struct {
	mu     sync.RWMutex
	alerts []*Alert // newest first

	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates an alert dispatcher. publisher may be nil.
func NewDispatcher(publisher Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the wall clock, for deterministic tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// HighRisk records a HIGH risk-score alert.
func (d *Dispatcher) HighRisk(wallet string, score int, labels []string) *Alert {
	return d.riskAlert(LevelHigh, wallet, score, labels)
}

// MediumRisk records a MEDIUM risk-score alert.
func (d *Dispatcher) MediumRisk(wallet string, score int, labels []string) *Alert {
	return d.riskAlert(LevelMedium, wallet, score, labels)
}

// LowRisk records a LOW risk-score alert.
func (d *Dispatcher) LowRisk(wallet string, score int, labels []string) *Alert {
	return d.riskAlert(LevelLow, wallet, score, labels)
}

func (d *Dispatcher) riskAlert(level Level, wallet string, score int, labels []string) *Alert {
	return d.push(&Alert{
		Level:   level,
		Type:    TypeRiskScore,
		Wallet:  wallet,
		Message: fmt.Sprintf("Wallet risk score reached %d", score),
		Details: map[string]any{
			"score":  score,
			"labels": labels,
		},
	})
}

// ManualLock records a HIGH manual-lock alert.
func (d *Dispatcher) ManualLock(wallet, reason, lockedBy string) *Alert {
	return d.push(&Alert{
		Level:   LevelHigh,
		Type:    TypeManualLock,
		Wallet:  wallet,
		Message: fmt.Sprintf("Wallet manually locked by %s", lockedBy),
		Details: map[string]any{
			"reason":   reason,
			"lockedBy": lockedBy,
		},
	})
}

// JudicialFreeze records a CRITICAL judicial-freeze alert.
func (d *Dispatcher) JudicialFreeze(wallet, caseHash, requestedBy string) *Alert {
	return d.push(&Alert{
		Level:   LevelCritical,
		Type:    TypeJudicialFreeze,
		Wallet:  wallet,
		Message: fmt.Sprintf("Judicial freeze requested for case %s", caseHash),
		Details: map[string]any{
			"caseHash":    caseHash,
			"requestedBy": requestedBy,
		},
	})
}

// System records a system-level alert at the given tier.
func (d *Dispatcher) System(level Level, message string, details map[string]any) *Alert {
	return d.push(&Alert{
		Level:   level,
		Type:    TypeSystem,
		Message: message,
		Details: details,
	})
}

// push assigns identity, inserts newest-first, and trims to capacity.
func (d *Dispatcher) push(a *Alert) *Alert {
	a.ID = idgen.WithPrefix("alert_")
	a.Timestamp = d.now()

	d.mu.Lock()
	d.alerts = append([]*Alert{a}, d.alerts...)
	if len(d.alerts) > maxAlerts {
		d.alerts = d.alerts[:maxAlerts]
	}
	d.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(string(a.Level)).Inc()
	d.logger.Info("alert created",
		"id", a.ID,
		"level", a.Level,
		"type", a.Type,
		"wallet", a.Wallet,
	)

	if d.publisher != nil {
		d.publisher.PublishAlert(a)
	}
	return a
}

// Filter selects alerts in Query. Zero values match everything.
type Filter struct {
	Level              Level
	Type               Type
	Wallet             string
	UnacknowledgedOnly bool
	Limit              int
}

// Query returns alerts matching the filter, newest first.
// Limit defaults to 50.
func (d *Dispatcher) Query(f Filter) []*Alert {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Alert, 0, limit)
	for _, a := range d.alerts {
		if f.Level != "" && a.Level != f.Level {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Wallet != "" && a.Wallet != f.Wallet {
			continue
		}
		if f.UnacknowledgedOnly && a.Acknowledged {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Acknowledge marks the alert acknowledged. Unknown IDs are a no-op and
// return false.
func (d *Dispatcher) Acknowledge(id, by string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, a := range d.alerts {
		if a.ID == id {
			now := d.now()
			a.Acknowledged = true
			a.AcknowledgedBy = by
			a.AcknowledgedAt = &now
			return true
		}
	}
	return false
}

// Stats summarizes the buffer.
type Stats struct {
	Total          int           `json:"total"`
	Last24h        map[Level]int `json:"last24h"`
	Unacknowledged int           `json:"unacknowledged"`
}

// Stats returns totals, per-level counts for the trailing 24 hours, and the
// unacknowledged count.
func (d *Dispatcher) Stats() Stats {
	cutoff := d.now().Add(-24 * time.Hour)

	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		Total: len(d.alerts),
		Last24h: map[Level]int{
			LevelLow:      0,
			LevelMedium:   0,
			LevelHigh:     0,
			LevelCritical: 0,
		},
	}
	for _, a := range d.alerts {
		if a.Timestamp.After(cutoff) {
			s.Last24h[a.Level]++
		}
		if !a.Acknowledged {
			s.Unacknowledged++
		}
	}
	return s
}

// Len returns the current buffer size.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.alerts)
}
