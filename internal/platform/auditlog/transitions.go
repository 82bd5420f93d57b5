package auditlog

import (
	"context"
	"errors"
	"strings"

	"github.com/animus-labs/swapval/internal/domain"
)

// RunAuditor writes one audit event per run state transition.
type RunAuditor struct {
	q     QueryRower
	actor string
}

func NewRunAuditor(q QueryRower, actor string) *RunAuditor {
	if q == nil {
		return nil
	}
	if strings.TrimSpace(actor) == "" {
		actor = "valuationd"
	}
	return &RunAuditor{q: q, actor: actor}
}

// TransitionEvent builds the audit event for run moving from -> to.
func TransitionEvent(actor string, run domain.Run, from, to domain.RunState) Event {
	payload := map[string]any{
		"run_id":        run.ID,
		"kind":          string(run.Spec.Kind),
		"snapshot_hash": run.SnapshotHash,
		"model_version": run.ModelVersion,
		"from":          string(from),
		"to":            string(to),
	}
	if head := run.Lineage.Head(); head != "" {
		payload["lineage_head"] = head
	}
	if run.Error != nil {
		payload["error_kind"] = string(run.Error.Kind)
		payload["error_stage"] = run.Error.Stage
	}
	at, _ := run.TransitionedAt(to)
	return Event{
		OccurredAt:   at,
		Actor:        actor,
		Action:       "run." + string(to),
		ResourceType: "valuation_run",
		ResourceID:   run.ID,
		Payload:      payload,
	}
}

func (a *RunAuditor) RecordTransition(ctx context.Context, run domain.Run, from, to domain.RunState) error {
	if a == nil || a.q == nil {
		return errors.New("run auditor not initialized")
	}
	if from == to {
		return nil
	}
	_, err := Insert(ctx, a.q, TransitionEvent(a.actor, run, from, to))
	return err
}
