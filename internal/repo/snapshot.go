package repo

import (
	"fmt"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/lineage"
)

// SnapshotHash returns the content hash a snapshot is stored under, together
// with its canonical bytes. The snapshot is normalized first so equivalent
// inputs hash identically.
func SnapshotHash(snapshot domain.MarketDataSnapshot) (string, []byte, error) {
	snapshot = snapshot.Normalize()
	b, err := lineage.Canonical(snapshot)
	if err != nil {
		return "", nil, fmt.Errorf("snapshot hash: %w", err)
	}
	return lineage.Hash(b), b, nil
}
