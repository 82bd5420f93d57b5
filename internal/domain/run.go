package domain

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

// Transition records when a run entered a state.
type Transition struct {
	State RunState  `json:"state"`
	At    time.Time `json:"at"`
}

// Run is the aggregate root of one valuation. Curves, Schedules, Result and
// Lineage are owned by the run and only written by the worker executing it.
type Run struct {
	ID              string           `json:"id"`
	Spec            InstrumentSpec   `json:"spec"`
	SnapshotHash    string           `json:"snapshotHash"`
	ModelVersion    string           `json:"modelVersion"`
	ModelHash       string           `json:"modelHash"`
	State           RunState         `json:"state"`
	Curves          []Curve          `json:"curves,omitempty"`
	Schedules       []Schedule       `json:"schedules,omitempty"`
	Result          *ValuationResult `json:"result,omitempty"`
	Lineage         LineageRecord    `json:"lineage"`
	Error           *RunError        `json:"error,omitempty"`
	Transitions     []Transition     `json:"transitions"`
	CancelRequested bool             `json:"cancelRequested,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if r.Spec.Kind != KindIRS && r.Spec.Kind != KindCCS {
		return errors.New("instrument kind is required")
	}
	if strings.TrimSpace(r.SnapshotHash) == "" {
		return errors.New("snapshot hash is required")
	}
	if strings.TrimSpace(r.ModelVersion) == "" {
		return errors.New("model version is required")
	}
	if NormalizeRunState(string(r.State)) == "" {
		return errors.New("state is required")
	}
	return nil
}

// TransitionedAt returns when the run entered state, if it did.
func (r Run) TransitionedAt(state RunState) (time.Time, bool) {
	for _, t := range r.Transitions {
		if t.State == state {
			return t.At, true
		}
	}
	return time.Time{}, false
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (r Run) Clone() Run {
	out := r
	out.Spec = r.Spec.clone()
	out.Curves = cloneCurves(r.Curves)
	out.Schedules = cloneSchedules(r.Schedules)
	if r.Result != nil {
		res := r.Result.clone()
		out.Result = &res
	}
	out.Lineage = r.Lineage.Clone()
	if r.Error != nil {
		e := *r.Error
		e.Issues = append([]string(nil), r.Error.Issues...)
		out.Error = &e
	}
	out.Transitions = append([]Transition(nil), r.Transitions...)
	return out
}

func (s InstrumentSpec) clone() InstrumentSpec {
	out := InstrumentSpec{Kind: s.Kind}
	if s.IRS != nil {
		irs := *s.IRS
		out.IRS = &irs
	}
	if s.CCS != nil {
		ccs := *s.CCS
		out.CCS = &ccs
	}
	return out
}

func cloneCurves(in []Curve) []Curve {
	if in == nil {
		return nil
	}
	out := make([]Curve, len(in))
	for i, c := range in {
		c.Points = slices.Clone(c.Points)
		out[i] = c
	}
	return out
}

func cloneSchedules(in []Schedule) []Schedule {
	if in == nil {
		return nil
	}
	out := make([]Schedule, len(in))
	for i, s := range in {
		s.Periods = slices.Clone(s.Periods)
		out[i] = s
	}
	return out
}

// clone keeps nil and empty collections apart so a copy canonicalizes to the
// same bytes as the original.
func (r ValuationResult) clone() ValuationResult {
	out := r
	out.Legs = slices.Clone(r.Legs)
	for i := range out.Legs {
		out.Legs[i].Cashflows = slices.Clone(out.Legs[i].Cashflows)
	}
	out.Sensitivities = maps.Clone(r.Sensitivities)
	if r.DiscountFactors != nil {
		out.DiscountFactors = make(map[string][]DiscountFactorUsed, len(r.DiscountFactors))
		for k, v := range r.DiscountFactors {
			out.DiscountFactors[k] = slices.Clone(v)
		}
	}
	return out
}
