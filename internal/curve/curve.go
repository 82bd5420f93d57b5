// Package curve bootstraps discount curves from market quotes and reads
// discount factors off them.
//
// Pillars are solved strictly in quote order: each discount factor depends
// only on the quote itself and on pillars already solved. The time axis is
// ACT/365F from the valuation date. All arithmetic runs over slices in a
// fixed order so identical inputs give bit-identical discount factors.
package curve

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/animus-labs/swapval/internal/daycount"
	"github.com/animus-labs/swapval/internal/domain"
)

const (
	anchorTenor       = "0D"
	maxSwapIterations = 100
	swapTolerance     = 1e-15
)

// ConstructionError reports quotes that cannot produce a valid curve.
type ConstructionError struct {
	Curve  string
	Tenor  string
	Reason string
}

func (e *ConstructionError) Error() string {
	if e.Tenor == "" {
		return fmt.Sprintf("curve %s: %s", e.Curve, e.Reason)
	}
	return fmt.Sprintf("curve %s at %s: %s", e.Curve, e.Tenor, e.Reason)
}

// Options tune the compounding rules used by Bootstrap.
type Options struct {
	Method          domain.InterpolationMethod
	DepositBasis    domain.DayCount
	SwapBasis       domain.DayCount
	SwapFixedMonths int
}

// DefaultOptions uses log-linear interpolation, ACT/360 deposits and
// annual ACT/360 swap fixed legs.
func DefaultOptions() Options {
	return Options{
		Method:          domain.LogLinear,
		DepositBasis:    domain.DayCountACT360,
		SwapBasis:       domain.DayCountACT360,
		SwapFixedMonths: 12,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Method == "" {
		o.Method = d.Method
	}
	if o.DepositBasis == "" {
		o.DepositBasis = d.DepositBasis
	}
	if o.SwapBasis == "" {
		o.SwapBasis = d.SwapBasis
	}
	if o.SwapFixedMonths <= 0 {
		o.SwapFixedMonths = d.SwapFixedMonths
	}
	return o
}

// Bootstrap builds the named curve from quotes ordered by ascending tenor.
// Duplicate or out-of-order tenors are rejected.
func Bootstrap(name string, quotes []domain.Quote, valuationDate time.Time, opts Options) (domain.Curve, error) {
	opts = opts.withDefaults()
	valuationDate = domain.DateOf(valuationDate)
	if opts.Method != domain.LogLinear && opts.Method != domain.LinearZero {
		return domain.Curve{}, &ConstructionError{Curve: name, Reason: fmt.Sprintf("unknown interpolation method %q", opts.Method)}
	}
	if valuationDate.IsZero() {
		return domain.Curve{}, &ConstructionError{Curve: name, Reason: "valuation date is required"}
	}
	if len(quotes) == 0 {
		return domain.Curve{}, &ConstructionError{Curve: name, Reason: "no quotes"}
	}

	points := make([]domain.CurvePoint, 0, len(quotes)+1)
	points = append(points, domain.CurvePoint{Tenor: anchorTenor, Date: valuationDate, Time: 0, DiscountFactor: 1})
	seen := make(map[string]struct{}, len(quotes))

	for _, q := range quotes {
		if _, dup := seen[q.Tenor]; dup {
			return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: "duplicate tenor"}
		}
		seen[q.Tenor] = struct{}{}

		pillar, err := PillarDate(valuationDate, q.Tenor)
		if err != nil {
			return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: err.Error()}
		}
		prev := points[len(points)-1]
		if !pillar.After(prev.Date) {
			reason := "tenors must be strictly ascending"
			if pillar.Equal(prev.Date) {
				reason = "duplicate tenor"
			}
			return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: reason}
		}

		rate := q.Rate.InexactFloat64()
		var df float64
		switch q.Kind {
		case domain.QuoteDeposit:
			tau, err := daycount.YearFraction(valuationDate, pillar, opts.DepositBasis)
			if err != nil {
				return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: err.Error()}
			}
			df = 1 / (1 + rate*tau)
		case domain.QuoteZero, "":
			df = math.Exp(-rate * yearTime(valuationDate, pillar))
		case domain.QuoteSwap:
			df, err = solveSwap(points, opts, valuationDate, pillar, rate)
			if err != nil {
				return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: err.Error()}
			}
		default:
			return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: fmt.Sprintf("unknown quote kind %q", q.Kind)}
		}
		if math.IsNaN(df) || math.IsInf(df, 0) || df <= 0 {
			return domain.Curve{}, &ConstructionError{Curve: name, Tenor: q.Tenor, Reason: fmt.Sprintf("non-positive discount factor %v", df)}
		}
		points = append(points, domain.CurvePoint{
			Tenor:          q.Tenor,
			Date:           pillar,
			Time:           yearTime(valuationDate, pillar),
			DiscountFactor: df,
		})
	}

	return domain.Curve{
		Name:          name,
		ValuationDate: valuationDate,
		Method:        opts.Method,
		Points:        points,
	}, nil
}

// solveSwap returns the pillar discount factor that reprices a par swap
// with fixed rate rate. Coupon dates between the last solved pillar and the
// new one are interpolated against the candidate pillar, so the solution is
// iterated to a fixed point.
func solveSwap(points []domain.CurvePoint, opts Options, valuationDate, pillar time.Time, rate float64) (float64, error) {
	var dates []time.Time
	for k := 1; ; k++ {
		d := domain.AddMonths(valuationDate, k*opts.SwapFixedMonths)
		if !d.Before(pillar) {
			break
		}
		dates = append(dates, d)
	}
	dates = append(dates, pillar)

	alphas := make([]float64, len(dates))
	prev := valuationDate
	for i, d := range dates {
		alpha, err := daycount.YearFraction(prev, d, opts.SwapBasis)
		if err != nil {
			return 0, err
		}
		alphas[i] = alpha
		prev = d
	}
	den := 1 + rate*alphas[len(alphas)-1]
	if den == 0 {
		return 0, fmt.Errorf("degenerate swap accrual")
	}

	trial := append(append([]domain.CurvePoint(nil), points...), domain.CurvePoint{
		Date: pillar,
		Time: yearTime(valuationDate, pillar),
	})
	guess, _ := discount(points, opts.Method, trial[len(trial)-1].Time)
	for iter := 0; iter < maxSwapIterations; iter++ {
		if guess <= 0 || math.IsNaN(guess) || math.IsInf(guess, 0) {
			return guess, nil
		}
		trial[len(trial)-1].DiscountFactor = guess
		annuity := 0.0
		for i := 0; i < len(dates)-1; i++ {
			df, _ := discount(trial, opts.Method, yearTime(valuationDate, dates[i]))
			annuity += alphas[i] * df
		}
		next := (1 - rate*annuity) / den
		if math.Abs(next-guess) < swapTolerance {
			return next, nil
		}
		guess = next
	}
	return 0, fmt.Errorf("swap bootstrap did not converge")
}

// Interpolated is a discount factor read off a curve. Extrapolated is set
// when date lies outside the pillar range.
type Interpolated struct {
	DiscountFactor float64
	Extrapolated   bool
}

// Interpolate returns the discount factor of c at date.
func Interpolate(c domain.Curve, date time.Time) (Interpolated, error) {
	if len(c.Points) < 2 {
		return Interpolated{}, fmt.Errorf("curve %s has no pillars", c.Name)
	}
	df, extrapolated := discount(c.Points, c.Method, yearTime(c.ValuationDate, date))
	return Interpolated{DiscountFactor: df, Extrapolated: extrapolated}, nil
}

// ZeroRate returns the continuously compounded zero rate of c at date.
func ZeroRate(c domain.Curve, date time.Time) (float64, error) {
	t := yearTime(c.ValuationDate, date)
	if t == 0 {
		return 0, fmt.Errorf("zero rate undefined at the valuation date")
	}
	in, err := Interpolate(c, date)
	if err != nil {
		return 0, err
	}
	return -math.Log(in.DiscountFactor) / t, nil
}

func discount(points []domain.CurvePoint, method domain.InterpolationMethod, t float64) (float64, bool) {
	n := len(points)
	if n == 1 {
		return points[0].DiscountFactor, t != points[0].Time
	}
	first, last := points[0], points[n-1]
	switch {
	case t < first.Time:
		return flatForward(first, points[1], t), true
	case t > last.Time:
		return flatForward(points[n-2], last, t), true
	}
	i := 1
	for i < n-1 && points[i].Time < t {
		i++
	}
	lo, hi := points[i-1], points[i]
	if t == hi.Time {
		return hi.DiscountFactor, false
	}
	if t == lo.Time {
		return lo.DiscountFactor, false
	}
	w := (t - lo.Time) / (hi.Time - lo.Time)
	if method == domain.LinearZero {
		zlo, zhi := zeroAt(points, i-1), zeroAt(points, i)
		z := zlo + (zhi-zlo)*w
		return math.Exp(-z * t), false
	}
	lnDF := math.Log(lo.DiscountFactor) + (math.Log(hi.DiscountFactor)-math.Log(lo.DiscountFactor))*w
	return math.Exp(lnDF), false
}

// zeroAt is the zero rate at pillar i. The anchor borrows the first
// pillar's rate so the opening segment is flat in zero rate.
func zeroAt(points []domain.CurvePoint, i int) float64 {
	if points[i].Time == 0 {
		i++
	}
	return -math.Log(points[i].DiscountFactor) / points[i].Time
}

// flatForward extends the segment a→b with its constant forward rate.
func flatForward(a, b domain.CurvePoint, t float64) float64 {
	f := (math.Log(a.DiscountFactor) - math.Log(b.DiscountFactor)) / (b.Time - a.Time)
	if t < a.Time {
		return a.DiscountFactor * math.Exp(-f*(t-a.Time))
	}
	return b.DiscountFactor * math.Exp(-f*(t-b.Time))
}

func yearTime(valuationDate, d time.Time) float64 {
	return daycount.Days(valuationDate, d) / 365.0
}

// Bump returns a copy of quotes with every rate shifted by bp basis points.
func Bump(quotes []domain.Quote, bp float64) []domain.Quote {
	shift := decimal.NewFromFloat(bp).Shift(-4)
	out := make([]domain.Quote, len(quotes))
	for i, q := range quotes {
		q.Rate = q.Rate.Add(shift)
		out[i] = q
	}
	return out
}
