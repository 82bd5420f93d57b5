package domain

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a run is stopped at a caller's request.
var ErrCancelled = errors.New("run cancelled")

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation_error"
	ErrorKindCurveConstruction ErrorKind = "curve_construction_error"
	ErrorKindInvalidSchedule   ErrorKind = "invalid_schedule_error"
	ErrorKindPricing           ErrorKind = "pricing_error"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindInternal          ErrorKind = "internal_error"
)

// RunError is the persisted failure payload of a run.
type RunError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	Issues  []string  `json:"issues,omitempty"`
}

func (e *RunError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s in %s: %s", e.Kind, e.Stage, e.Message)
}
