package runs

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/repo"
)

var errInterrupted = errors.New("run interrupted: the process driving it stopped")

// recoverRuns picks up runs a previous process left in the run store. Queued
// runs go to the front of the queue oldest first. Runs caught between
// admission and a terminal state cannot resume and fail as internal errors.
func (s *Service) recoverRuns(ctx context.Context) {
	var queued []domain.Run
	interrupted := 0
	for _, state := range []domain.RunState{
		domain.RunStatePending, domain.RunStateValidated, domain.RunStateQueued, domain.RunStateRunning,
	} {
		found, err := s.runs.List(ctx, repo.RunFilter{State: state})
		if err != nil {
			s.logger.Error("list runs for recovery", "state", state, "error", err)
			continue
		}
		if state == domain.RunStateQueued {
			queued = found
			continue
		}
		for _, run := range found {
			if s.owned(run.ID) {
				continue
			}
			s.fail(ctx, &run, "", errInterrupted)
			interrupted++
		}
	}
	requeued := s.adopt(queued, true)
	if requeued > 0 || interrupted > 0 {
		s.logger.Info("recovered runs", "requeued", requeued, "interrupted", interrupted)
	}
}

// poll adopts runs queued by other processes sharing the run store until ctx
// is done or the service stops.
func (s *Service) poll(ctx, base context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.halt:
			return
		case <-ticker.C:
		}
		queued, err := s.runs.List(base, repo.RunFilter{State: domain.RunStateQueued})
		if err != nil {
			s.logger.Warn("poll queued runs", "error", err)
			continue
		}
		if n := s.adopt(queued, false); n > 0 {
			s.logger.Info("adopted queued runs", "count", n)
		}
	}
}

// adopt enqueues the queued runs this process does not know yet, oldest
// first, ahead of the current queue when front is set.
func (s *Service) adopt(queued []domain.Run, front bool) int {
	sort.SliceStable(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return 0
	}
	known := make(map[string]bool, len(s.queue))
	for _, id := range s.queue {
		known[id] = true
	}
	var ids []string
	for _, run := range queued {
		if known[run.ID] || s.active[run.ID] {
			continue
		}
		if _, ok := s.done[run.ID]; !ok {
			s.done[run.ID] = make(chan struct{})
		}
		ids = append(ids, run.ID)
	}
	if len(ids) == 0 {
		return 0
	}
	if front {
		s.queue = append(ids, s.queue...)
	} else {
		s.queue = append(s.queue, ids...)
	}
	s.wake.Broadcast()
	return len(ids)
}

func (s *Service) owned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[id] {
		return true
	}
	for _, queued := range s.queue {
		if queued == id {
			return true
		}
	}
	return false
}
