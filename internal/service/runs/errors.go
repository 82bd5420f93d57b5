package runs

import (
	"errors"

	"github.com/animus-labs/swapval/internal/curve"
	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/instrument"
	"github.com/animus-labs/swapval/internal/pricer"
	"github.com/animus-labs/swapval/internal/schedule"
)

var (
	// ErrNotReady is returned when a run has not produced the requested output yet.
	ErrNotReady = errors.New("run not ready")
	// ErrStopped is returned by Submit once Shutdown has begun.
	ErrStopped = errors.New("run service stopped")
)

// classify maps a stage error onto the persisted failure payload.
func classify(stage string, err error) *domain.RunError {
	out := &domain.RunError{Kind: domain.ErrorKindInternal, Stage: stage, Message: err.Error()}

	var verr *instrument.ValidationError
	var cerr *curve.ConstructionError
	var serr *schedule.InvalidScheduleError
	var perr *pricer.PricingError
	switch {
	case errors.Is(err, domain.ErrCancelled):
		out.Kind = domain.ErrorKindCancelled
	case errors.As(err, &verr):
		out.Kind = domain.ErrorKindValidation
		out.Issues = verr.Messages()
	case errors.As(err, &cerr):
		out.Kind = domain.ErrorKindCurveConstruction
	case errors.As(err, &serr):
		out.Kind = domain.ErrorKindInvalidSchedule
	case errors.As(err, &perr):
		out.Kind = domain.ErrorKindPricing
	}
	return out
}
