package domain

import "strings"

// RunState is the lifecycle state of a valuation run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateValidated RunState = "validated"
	RunStateQueued    RunState = "queued"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// NormalizeRunState maps free-form status values to canonical run states.
func NormalizeRunState(value string) RunState {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStatePending), "created":
		return RunStatePending
	case string(RunStateValidated):
		return RunStateValidated
	case string(RunStateQueued):
		return RunStateQueued
	case string(RunStateRunning):
		return RunStateRunning
	case string(RunStateCompleted), "succeeded":
		return RunStateCompleted
	case string(RunStateFailed):
		return RunStateFailed
	default:
		return ""
	}
}

// Terminal reports whether no further transitions are allowed.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// CanTransitionRunState enforces forward-only progression. Any non-terminal
// state may fail; completion is only reachable from running.
func CanTransitionRunState(current, next RunState) bool {
	if current == "" || next == "" {
		return false
	}
	if current.Terminal() {
		return false
	}
	switch next {
	case RunStateFailed:
		return true
	case RunStateCompleted:
		return current == RunStateRunning
	}
	return runStateOrder(next) == runStateOrder(current)+1
}

func runStateOrder(state RunState) int {
	switch state {
	case RunStatePending:
		return 1
	case RunStateValidated:
		return 2
	case RunStateQueued:
		return 3
	case RunStateRunning:
		return 4
	case RunStateCompleted, RunStateFailed:
		return 5
	default:
		return 0
	}
}
