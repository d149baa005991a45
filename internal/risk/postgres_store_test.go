package risk

import (
	"context"
	"testing"
	"time"

	"github.com/Khongirad/INOMAD-sub003/internal/testutil"
)

func TestPostgresStoreRecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	wallet := "0xaaa0000000000000000000000000000000000001"

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snaps := []*Snapshot{
		{ID: "snap-1", Wallet: wallet, Score: 20, ScoredAt: base},
		{ID: "snap-2", Wallet: wallet, Score: 70, Labels: []Label{
			{Type: DrainPattern, Severity: SeverityHigh, Description: "draining detected"},
			{Type: BlacklistInteraction, Severity: SeverityHigh, Description: "blacklist interaction"},
		}, ScoredAt: base.Add(time.Minute)},
		{ID: "snap-3", Wallet: wallet, Score: 95, Labels: []Label{
			{Type: UnlimitedApproval, Severity: SeverityHigh, Description: "unlimited approval"},
		}, ScoredAt: base.Add(2 * time.Minute)},
	}
	for _, snap := range snaps {
		if err := store.Record(ctx, snap); err != nil {
			t.Fatalf("Record(%s): %v", snap.ID, err)
		}
	}

	got, err := store.ListByWallet(ctx, wallet, 10)
	if err != nil {
		t.Fatalf("ListByWallet: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(got))
	}

	// Newest first.
	if got[0].ID != "snap-3" || got[2].ID != "snap-1" {
		t.Errorf("expected newest-first order, got %s..%s", got[0].ID, got[2].ID)
	}
	if got[0].Score != 95 {
		t.Errorf("expected score 95, got %d", got[0].Score)
	}
	if len(got[1].Labels) != 2 || got[1].Labels[0].Type != DrainPattern {
		t.Errorf("labels did not round-trip: %+v", got[1].Labels)
	}
}

func TestPostgresStoreListLimit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	wallet := "0xbbb0000000000000000000000000000000000002"

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		snap := &Snapshot{
			ID:       "lim-" + string(rune('a'+i)),
			Wallet:   wallet,
			Score:    i * 10,
			ScoredAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.Record(ctx, snap); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := store.ListByWallet(ctx, wallet, 2)
	if err != nil {
		t.Fatalf("ListByWallet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots with limit 2, got %d", len(got))
	}
	if got[0].Score != 40 {
		t.Errorf("expected latest snapshot first, got score %d", got[0].Score)
	}
}

func TestPostgresStoreUnknownWallet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	got, err := store.ListByWallet(context.Background(), "0xdeadbeef00000000000000000000000000000000", 10)
	if err != nil {
		t.Fatalf("ListByWallet: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no snapshots, got %d", len(got))
	}
}
