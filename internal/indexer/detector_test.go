package indexer

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khongirad/INOMAD-sub003/internal/risk"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type stubLists struct {
	blocked map[string]bool
}

func (s *stubLists) IsBlacklisted(address string) bool {
	return s.blocked[address]
}

func labelSet(labels []risk.Label) map[risk.LabelType]bool {
	out := make(map[risk.LabelType]bool, len(labels))
	for _, l := range labels {
		out[l.Type] = true
	}
	return out
}

func TestDetectorHighFrequency(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	// Spaced out enough that the drain window never sees three transfers.
	var labels []risk.Label
	for i := 0; i < 11; i++ {
		labels = d.OnTransfer("0xSender", "0xDest", big.NewInt(1), TxMeta{})
		clock.Advance(3 * time.Minute)
	}

	got := labelSet(labels)
	assert.True(t, got[risk.HighFrequency], "11th transfer within the hour should flag")
	assert.False(t, got[risk.DrainPattern])
	assert.False(t, got[risk.NewRecipient], "repeat recipient is not new")
}

func TestDetectorHighFrequencyNotAtLimit(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	var labels []risk.Label
	for i := 0; i < 10; i++ {
		labels = d.OnTransfer("0xSender", "0xDest", big.NewInt(1), TxMeta{})
		clock.Advance(3 * time.Minute)
	}

	assert.False(t, labelSet(labels)[risk.HighFrequency], "exactly 10 in an hour is below the limit")
}

func TestDetectorDrainPattern(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	var labels []risk.Label
	for i := 0; i < 3; i++ {
		labels = d.OnTransfer("0xVictim", "0xAttacker", big.NewInt(100), TxMeta{})
		clock.Advance(time.Minute)
	}

	got := labelSet(labels)
	assert.True(t, got[risk.DrainPattern], "3 rapid outgoing transfers with no inflow should flag")
	assert.False(t, got[risk.HighFrequency])
}

func TestDetectorDrainSuppressedByInflow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	// Self-transfers count as inflow too, which suppresses the pattern.
	var labels []risk.Label
	for i := 0; i < 3; i++ {
		labels = d.OnTransfer("0xWallet", "0xWallet", big.NewInt(100), TxMeta{})
		clock.Advance(time.Minute)
	}

	assert.False(t, labelSet(labels)[risk.DrainPattern])
}

func TestDetectorNewRecipient(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	// Build a baseline with a familiar recipient.
	for i := 0; i < 6; i++ {
		labels := d.OnTransfer("0xSender", "0xUsual", big.NewInt(1), TxMeta{})
		assert.False(t, labelSet(labels)[risk.NewRecipient])
		clock.Advance(10 * time.Minute)
	}

	labels := d.OnTransfer("0xSender", "0xStranger", big.NewInt(1), TxMeta{})
	assert.True(t, labelSet(labels)[risk.NewRecipient])

	// A second transfer to the same address is no longer novel.
	clock.Advance(10 * time.Minute)
	labels = d.OnTransfer("0xSender", "0xStranger", big.NewInt(1), TxMeta{})
	assert.False(t, labelSet(labels)[risk.NewRecipient])
}

func TestDetectorNewRecipientNeedsBaseline(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	// Every early recipient is technically new, but without history the
	// signal is meaningless.
	for i := 0; i < 5; i++ {
		labels := d.OnTransfer("0xFresh", "0xDest", big.NewInt(1), TxMeta{})
		assert.False(t, labelSet(labels)[risk.NewRecipient])
		clock.Advance(10 * time.Minute)
	}
}

func TestDetectorLargeTransaction(t *testing.T) {
	d := NewDetector(nil, big.NewInt(1000))

	labels := d.OnTransfer("0xSender", "0xDest", big.NewInt(999), TxMeta{})
	assert.False(t, labelSet(labels)[risk.LargeTransaction])

	labels = d.OnTransfer("0xSender", "0xDest", big.NewInt(1000), TxMeta{})
	assert.True(t, labelSet(labels)[risk.LargeTransaction], "threshold is inclusive")
}

func TestDetectorBlacklistedRecipient(t *testing.T) {
	lists := &stubLists{blocked: map[string]bool{"0xevil": true}}
	d := NewDetector(lists, nil)

	labels := d.OnTransfer("0xSender", "0xEVIL", big.NewInt(1), TxMeta{})
	require.Len(t, labels, 1)
	assert.Equal(t, risk.BlacklistInteraction, labels[0].Type)
	assert.Equal(t, risk.SeverityHigh, labels[0].Severity)
}

func TestDetectorUnlimitedApproval(t *testing.T) {
	d := NewDetector(nil, nil)

	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	half := new(big.Int).Rsh(max, 1)

	labels := d.OnApproval("0xOwner", "0xSpender", max, TxMeta{})
	require.Len(t, labels, 1)
	assert.Equal(t, risk.UnlimitedApproval, labels[0].Type)
	assert.Equal(t, risk.SeverityHigh, labels[0].Severity)

	labels = d.OnApproval("0xOwner", "0xSpender", half, TxMeta{})
	assert.Len(t, labels, 1, "exactly half of max counts as unlimited")

	belowHalf := new(big.Int).Sub(half, big.NewInt(1))
	labels = d.OnApproval("0xOwner", "0xSpender", belowHalf, TxMeta{})
	assert.Empty(t, labels)
}

func TestDetectorHistoryExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	d.OnTransfer("0xSender", "0xDest", big.NewInt(1), TxMeta{})
	assert.Equal(t, 1, d.HistoryLength("0xSender"))

	clock.Advance(25 * time.Hour)
	assert.Equal(t, 0, d.HistoryLength("0xSender"))
}

func TestDetectorHistoryNewestFirst(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	for i := 1; i <= 3; i++ {
		d.OnTransfer("0xSender", "0xDest", big.NewInt(int64(i)), TxMeta{BlockNumber: uint64(i)})
		clock.Advance(time.Minute)
	}

	history := d.History("0xSender", 2)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(3), history[0].BlockNumber)
	assert.Equal(t, uint64(2), history[1].BlockNumber)
}

func TestDetectorUnknownAccount(t *testing.T) {
	d := NewDetector(nil, nil)

	assert.Equal(t, 0, d.HistoryLength("0xNobody"))
	assert.Empty(t, d.History("0xNobody", 10))
}

func TestDetectorNormalizesAddresses(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	d := NewDetector(nil, nil).WithClock(clock.Now)

	d.OnTransfer("0xABCD", "0xDest", big.NewInt(1), TxMeta{})
	d.OnTransfer("  0xabcd  ", "0xDest", big.NewInt(1), TxMeta{})

	assert.Equal(t, 2, d.HistoryLength("0xAbCd"))
}
