// Package memory provides in-process repositories for tests and single-node
// deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/repo"
)

type RunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

func NewRunStore() *RunStore {
	return &RunStore{runs: map[string]domain.Run{}}
}

func (s *RunStore) Create(_ context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *RunStore) Get(_ context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run.Clone(), nil
}

func (s *RunStore) Update(_ context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if current.State.Terminal() {
		return fmt.Errorf("run %s is %s and read-only", run.ID, current.State)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *RunStore) CompleteRun(_ context.Context, run domain.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if run.State != domain.RunStateCompleted || run.Result == nil {
		return errors.New("complete run requires completed state and a result")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if !domain.CanTransitionRunState(current.State, domain.RunStateCompleted) {
		return fmt.Errorf("run %s cannot complete from %s", run.ID, current.State)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *RunStore) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.RLock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.State != "" && run.State != filter.State {
			continue
		}
		out = append(out, run.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.MarketDataSnapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: map[string]domain.MarketDataSnapshot{}}
}

func (s *SnapshotStore) Put(_ context.Context, snapshot domain.MarketDataSnapshot) (string, error) {
	hash, _, err := repo.SnapshotHash(snapshot)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[hash]; !ok {
		s.snapshots[hash] = snapshot.Normalize()
	}
	return hash, nil
}

func (s *SnapshotStore) Get(_ context.Context, hash string) (domain.MarketDataSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[strings.TrimSpace(hash)]
	if !ok {
		return domain.MarketDataSnapshot{}, repo.ErrNotFound
	}
	// Normalize copies the quote slices and maps.
	return snapshot.Normalize(), nil
}
