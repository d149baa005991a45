package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists score snapshots in PostgreSQL.
// Schema lives in migrations/0001_create_risk_snapshots.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed snapshot store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, snap *Snapshot) error {
	labelsJSON, err := json.Marshal(snap.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_snapshots (id, wallet, score, labels, scored_at)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.ID, snap.Wallet, snap.Score, labelsJSON, snap.ScoredAt)
	if err != nil {
		return fmt.Errorf("record risk snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, score, labels, scored_at
		FROM risk_snapshots
		WHERE wallet = $1
		ORDER BY scored_at DESC
		LIMIT $2
	`, Normalize(wallet), limit)
	if err != nil {
		return nil, fmt.Errorf("list risk snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var labelsJSON []byte
		if err := rows.Scan(&snap.ID, &snap.Wallet, &snap.Score, &labelsJSON, &snap.ScoredAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(labelsJSON, &snap.Labels)
		out = append(out, &snap)
	}
	return out, rows.Err()
}
