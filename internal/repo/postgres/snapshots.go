package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/repo"
)

const insertSnapshotQuery = `INSERT INTO market_snapshots (snapshot_hash, valuation_date, payload, created_at)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (snapshot_hash) DO NOTHING`

type SnapshotStore struct {
	db  DB
	now func() time.Time
}

func NewSnapshotStore(db DB) *SnapshotStore {
	if db == nil {
		return nil
	}
	return &SnapshotStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Put stores the canonical bytes under their hash. Re-putting an identical
// snapshot is a no-op.
func (s *SnapshotStore) Put(ctx context.Context, snapshot domain.MarketDataSnapshot) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("snapshot store not initialized")
	}
	hash, payload, err := repo.SnapshotHash(snapshot)
	if err != nil {
		return "", err
	}
	normalized := snapshot.Normalize()
	_, err = s.db.ExecContext(
		ctx,
		insertSnapshotQuery,
		hash,
		normalized.ValuationDate,
		payload,
		s.now(),
	)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return hash, nil
}

func (s *SnapshotStore) Get(ctx context.Context, hash string) (domain.MarketDataSnapshot, error) {
	if s == nil || s.db == nil {
		return domain.MarketDataSnapshot{}, fmt.Errorf("snapshot store not initialized")
	}
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return domain.MarketDataSnapshot{}, fmt.Errorf("snapshot hash is required")
	}
	var payload []byte
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM market_snapshots WHERE snapshot_hash = $1`, hash)
	if err := row.Scan(&payload); err != nil {
		return domain.MarketDataSnapshot{}, handleNotFound(err)
	}
	var snapshot domain.MarketDataSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.MarketDataSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	got, _, err := repo.SnapshotHash(snapshot)
	if err != nil {
		return domain.MarketDataSnapshot{}, err
	}
	if got != hash {
		return domain.MarketDataSnapshot{}, fmt.Errorf("snapshot %s content hash mismatch", hash)
	}
	return snapshot, nil
}
