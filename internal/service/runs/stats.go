package runs

import (
	"context"
	"errors"
)

// Stats is a point-in-time view of the worker pool.
type Stats struct {
	Workers  int  `json:"workers"`
	Started  bool `json:"started"`
	Stopping bool `json:"stopping"`
	Queued   int  `json:"queued"`
	InFlight int  `json:"in_flight"`
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Workers:  s.cfg.Workers,
		Started:  s.started,
		Stopping: s.stopping,
		Queued:   len(s.queue),
		InFlight: len(s.active),
	}
}

// Ready fails until the workers are started and once shutdown has begun.
func (s *Service) Ready(context.Context) error {
	st := s.Stats()
	switch {
	case st.Stopping:
		return ErrStopped
	case !st.Started:
		return errors.New("run workers not started")
	}
	return nil
}
