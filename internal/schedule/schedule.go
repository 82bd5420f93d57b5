// Package schedule generates accrual and payment schedules for swap legs.
//
// Roll dates are built backward from maturity in whole multiples of the leg
// frequency, so any stub falls at the front. The effective and maturity dates
// are always the outer period boundaries; intermediate roll dates are moved
// onto business days with the leg's convention.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/animus-labs/swapval/internal/calendar"
	"github.com/animus-labs/swapval/internal/daycount"
	"github.com/animus-labs/swapval/internal/domain"
)

// InvalidScheduleError reports a frequency that does not divide the leg
// span, or parameters that cannot produce a schedule.
type InvalidScheduleError struct {
	Leg    string
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	if e.Leg == "" {
		return "invalid schedule: " + e.Reason
	}
	return fmt.Sprintf("invalid schedule for %s leg: %s", e.Leg, e.Reason)
}

// Params describes one leg schedule.
type Params struct {
	Leg               string
	Effective         time.Time
	Maturity          time.Time
	Frequency         domain.Frequency
	DayCount          domain.DayCount
	Calendar          *calendar.Calendar
	BusinessDay       domain.BusinessDayConvention
	StubToleranceDays int
	PaymentLagDays    int
}

// Generate builds the schedule described by p.
func Generate(p Params) (domain.Schedule, error) {
	if p.Calendar == nil {
		return domain.Schedule{}, &InvalidScheduleError{Leg: p.Leg, Reason: "calendar is required"}
	}
	if !domain.KnownBusinessDayConvention(p.BusinessDay) {
		return domain.Schedule{}, &InvalidScheduleError{Leg: p.Leg, Reason: fmt.Sprintf("unknown business day convention %q", p.BusinessDay)}
	}
	if !domain.KnownDayCount(p.DayCount) {
		return domain.Schedule{}, &InvalidScheduleError{Leg: p.Leg, Reason: fmt.Sprintf("unknown day count %q", p.DayCount)}
	}
	if p.PaymentLagDays < 0 {
		return domain.Schedule{}, &InvalidScheduleError{Leg: p.Leg, Reason: "payment lag must not be negative"}
	}
	rolls, err := RollDates(p.Effective, p.Maturity, p.Frequency, p.StubToleranceDays)
	if err != nil {
		var invalid *InvalidScheduleError
		if errors.As(err, &invalid) {
			invalid.Leg = p.Leg
		}
		return domain.Schedule{}, err
	}

	bounds := make([]time.Time, len(rolls))
	for i, d := range rolls {
		if i == 0 || i == len(rolls)-1 {
			bounds[i] = d
			continue
		}
		bounds[i] = p.Calendar.Adjust(d, p.BusinessDay)
	}

	sched := domain.Schedule{
		Leg:         p.Leg,
		Frequency:   p.Frequency,
		DayCount:    domain.NormalizeDayCount(p.DayCount),
		Calendar:    p.Calendar.Name(),
		BusinessDay: p.BusinessDay,
		Periods:     make([]domain.Period, 0, len(bounds)-1),
	}
	for i := 0; i+1 < len(bounds); i++ {
		start, end := bounds[i], bounds[i+1]
		if !end.After(start) {
			return domain.Schedule{}, &InvalidScheduleError{
				Leg:    p.Leg,
				Reason: fmt.Sprintf("adjusted period %d collapses (%s to %s)", i+1, start.Format(time.DateOnly), end.Format(time.DateOnly)),
			}
		}
		dcf, err := daycount.YearFraction(start, end, p.DayCount)
		if err != nil {
			return domain.Schedule{}, &InvalidScheduleError{Leg: p.Leg, Reason: err.Error()}
		}
		payment := p.Calendar.Adjust(end, p.BusinessDay)
		if p.PaymentLagDays > 0 {
			payment = p.Calendar.AddBusinessDays(payment, p.PaymentLagDays)
		}
		sched.Periods = append(sched.Periods, domain.Period{
			Index:            i + 1,
			Start:            start,
			End:              end,
			Payment:          payment,
			DayCountFraction: dcf,
		})
	}
	return sched, nil
}

// RollDates returns the unadjusted period boundaries from effective to
// maturity. A roll date within toleranceDays of effective is replaced by
// effective; a front gap larger than that is rejected.
func RollDates(effective, maturity time.Time, freq domain.Frequency, toleranceDays int) ([]time.Time, error) {
	effective, maturity = domain.DateOf(effective), domain.DateOf(maturity)
	months := freq.Months()
	if months == 0 {
		return nil, &InvalidScheduleError{Reason: fmt.Sprintf("unknown frequency %q", freq)}
	}
	if effective.IsZero() || maturity.IsZero() {
		return nil, &InvalidScheduleError{Reason: "effective and maturity dates are required"}
	}
	if !maturity.After(effective) {
		return nil, &InvalidScheduleError{Reason: "maturity must be after effective"}
	}
	if toleranceDays < 0 {
		toleranceDays = 0
	}
	tolerance := float64(toleranceDays)

	backward := []time.Time{maturity}
	for k := 1; ; k++ {
		d := domain.AddMonths(maturity, -k*months)
		if daycount.Days(effective, d) > tolerance {
			backward = append(backward, d)
			continue
		}
		if gap := daycount.Days(d, effective); gap > tolerance {
			return nil, &InvalidScheduleError{
				Reason: fmt.Sprintf("frequency %s leaves a %.0f day front stub between %s and %s, tolerance is %d days",
					freq, gap, effective.Format(time.DateOnly), backward[len(backward)-1].Format(time.DateOnly), toleranceDays),
			}
		}
		backward = append(backward, effective)
		break
	}

	out := make([]time.Time, len(backward))
	for i, d := range backward {
		out[len(backward)-1-i] = d
	}
	return out, nil
}

// PeriodCount reports how many periods RollDates would produce.
func PeriodCount(effective, maturity time.Time, freq domain.Frequency, toleranceDays int) (int, error) {
	rolls, err := RollDates(effective, maturity, freq, toleranceDays)
	if err != nil {
		return 0, err
	}
	return len(rolls) - 1, nil
}
