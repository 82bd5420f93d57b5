// Package pricer projects, discounts and nets swap leg cashflows.
//
// Total PV is fixed leg PV minus floating leg PV in the reporting currency.
// Coupons paying on or before the valuation date are treated as settled and
// left out.
package pricer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/animus-labs/swapval/internal/curve"
	"github.com/animus-labs/swapval/internal/domain"
)

// Leg names used for schedules and results.
const (
	LegFixed = "fixed"
	LegFloat = "float"
)

// PricingError reports a numerical failure while valuing a leg.
type PricingError struct {
	Leg    string
	Period int
	Reason string
}

func (e *PricingError) Error() string {
	if e.Period > 0 {
		return fmt.Sprintf("pricing %s leg period %d: %s", e.Leg, e.Period, e.Reason)
	}
	if e.Leg != "" {
		return fmt.Sprintf("pricing %s leg: %s", e.Leg, e.Reason)
	}
	return "pricing: " + e.Reason
}

// legTerms is the instrument-independent description of one leg.
type legTerms struct {
	name       string
	currency   string
	notional   float64
	fixedRate  float64
	floating   bool
	spread     float64
	discount   string
	projection string
	exchange   bool
	effective  time.Time
	maturity   time.Time
}

// Price values spec over the given schedules and curves. fxRate is units of
// the domestic currency per unit of foreign currency and is only read for
// CCS.
func Price(spec domain.InstrumentSpec, schedules []domain.Schedule, curves []domain.Curve, fxRate float64) (domain.ValuationResult, error) {
	fixed, float, err := terms(spec)
	if err != nil {
		return domain.ValuationResult{}, err
	}
	if spec.Kind == domain.KindCCS && (fxRate <= 0 || math.IsNaN(fxRate) || math.IsInf(fxRate, 0)) {
		return domain.ValuationResult{}, &PricingError{Reason: fmt.Sprintf("invalid fx rate %v", fxRate)}
	}

	book := newDFBook(curves)
	fixedLeg, err := priceLeg(fixed, schedules, book)
	if err != nil {
		return domain.ValuationResult{}, err
	}
	floatLeg, err := priceLeg(float, schedules, book)
	if err != nil {
		return domain.ValuationResult{}, err
	}

	result := domain.ValuationResult{
		Currency:        spec.ReportingCurrency(),
		DiscountFactors: book.used(),
	}
	fixedLeg.PVDomestic = fixedLeg.PV
	floatLeg.PVDomestic = floatLeg.PV
	if spec.Kind == domain.KindCCS {
		floatLeg.PVDomestic = floatLeg.PV * fxRate
		result.FXRate = fxRate
	}
	result.Legs = []domain.LegResult{fixedLeg, floatLeg}
	result.TotalPV = fixedLeg.PVDomestic - floatLeg.PVDomestic
	if math.IsNaN(result.TotalPV) || math.IsInf(result.TotalPV, 0) {
		return domain.ValuationResult{}, &PricingError{Reason: "total present value is not finite"}
	}
	return result, nil
}

func terms(spec domain.InstrumentSpec) (legTerms, legTerms, error) {
	switch spec.Kind {
	case domain.KindIRS:
		s := spec.IRS
		if s == nil {
			return legTerms{}, legTerms{}, &PricingError{Reason: "irs payload missing"}
		}
		name := s.FloatIndex.CurveName()
		fixed := legTerms{
			name:      LegFixed,
			currency:  s.Currency,
			notional:  s.Notional.InexactFloat64(),
			fixedRate: s.FixedRate.InexactFloat64(),
			discount:  name,
			effective: s.Effective,
			maturity:  s.Maturity,
		}
		float := fixed
		float.name = LegFloat
		float.fixedRate = 0
		float.floating = true
		float.spread = s.FloatSpread.InexactFloat64()
		float.projection = name
		return fixed, float, nil
	case domain.KindCCS:
		s := spec.CCS
		if s == nil {
			return legTerms{}, legTerms{}, &PricingError{Reason: "ccs payload missing"}
		}
		fixed := legTerms{
			name:      LegFixed,
			currency:  s.Currency,
			notional:  s.Notional.InexactFloat64(),
			fixedRate: s.FixedRate.InexactFloat64(),
			discount:  s.FloatIndex.CurveName(),
			exchange:  s.ExchangeNotional,
			effective: s.Effective,
			maturity:  s.Maturity,
		}
		float := legTerms{
			name:       LegFloat,
			currency:   s.ForeignCurrency,
			notional:   s.ForeignNotional.InexactFloat64(),
			floating:   true,
			spread:     s.ForeignSpread.InexactFloat64(),
			discount:   s.ForeignIndex.CurveName(),
			projection: s.ForeignIndex.CurveName(),
			exchange:   s.ExchangeNotional,
			effective:  s.Effective,
			maturity:   s.Maturity,
		}
		return fixed, float, nil
	default:
		return legTerms{}, legTerms{}, &PricingError{Reason: fmt.Sprintf("unsupported instrument kind %q", spec.Kind)}
	}
}

func priceLeg(leg legTerms, schedules []domain.Schedule, book *dfBook) (domain.LegResult, error) {
	var sched *domain.Schedule
	for i := range schedules {
		if schedules[i].Leg == leg.name {
			sched = &schedules[i]
			break
		}
	}
	if sched == nil || len(sched.Periods) == 0 {
		return domain.LegResult{}, &PricingError{Leg: leg.name, Reason: "schedule missing"}
	}
	valuationDate, err := book.valuationDate(leg.discount)
	if err != nil {
		return domain.LegResult{}, &PricingError{Leg: leg.name, Reason: err.Error()}
	}

	out := domain.LegResult{Name: leg.name, Currency: leg.currency}
	add := func(row domain.CashflowRow) {
		out.Cashflows = append(out.Cashflows, row)
		out.PV += row.PresentValue
	}

	if leg.exchange && leg.effective.After(valuationDate) {
		row, err := notionalRow(leg, book, leg.effective, -leg.notional)
		if err != nil {
			return domain.LegResult{}, err
		}
		add(row)
	}

	for _, p := range sched.Periods {
		if !p.Payment.After(valuationDate) {
			continue
		}
		if p.DayCountFraction <= 0 {
			return domain.LegResult{}, &PricingError{Leg: leg.name, Period: p.Index, Reason: "day count fraction must be positive"}
		}
		row := domain.CashflowRow{
			Leg:              leg.name,
			Kind:             domain.CashflowCoupon,
			Start:            p.Start,
			End:              p.End,
			Payment:          p.Payment,
			Currency:         leg.currency,
			Notional:         leg.notional,
			Rate:             leg.fixedRate,
			DayCountFraction: p.DayCountFraction,
		}
		if leg.floating {
			dfStart, err := book.read(leg.projection, p.Start)
			if err != nil {
				return domain.LegResult{}, &PricingError{Leg: leg.name, Period: p.Index, Reason: err.Error()}
			}
			dfEnd, err := book.read(leg.projection, p.End)
			if err != nil {
				return domain.LegResult{}, &PricingError{Leg: leg.name, Period: p.Index, Reason: err.Error()}
			}
			row.Rate = (dfStart.DiscountFactor/dfEnd.DiscountFactor-1)/p.DayCountFraction + leg.spread
			row.Extrapolated = dfStart.Extrapolated || dfEnd.Extrapolated
		}
		df, err := book.read(leg.discount, p.Payment)
		if err != nil {
			return domain.LegResult{}, &PricingError{Leg: leg.name, Period: p.Index, Reason: err.Error()}
		}
		row.Amount = leg.notional * row.Rate * p.DayCountFraction
		row.DiscountFactor = df.DiscountFactor
		row.PresentValue = row.Amount * df.DiscountFactor
		row.Extrapolated = row.Extrapolated || df.Extrapolated
		if !finite(row.Rate) || !finite(row.PresentValue) {
			return domain.LegResult{}, &PricingError{Leg: leg.name, Period: p.Index, Reason: "cashflow is not finite"}
		}
		add(row)
	}

	if leg.exchange && leg.maturity.After(valuationDate) {
		last := sched.Periods[len(sched.Periods)-1]
		row, err := notionalRow(leg, book, last.Payment, leg.notional)
		if err != nil {
			return domain.LegResult{}, err
		}
		add(row)
	}
	return out, nil
}

func notionalRow(leg legTerms, book *dfBook, payment time.Time, amount float64) (domain.CashflowRow, error) {
	df, err := book.read(leg.discount, payment)
	if err != nil {
		return domain.CashflowRow{}, &PricingError{Leg: leg.name, Reason: err.Error()}
	}
	return domain.CashflowRow{
		Leg:            leg.name,
		Kind:           domain.CashflowNotional,
		Start:          payment,
		End:            payment,
		Payment:        payment,
		Currency:       leg.currency,
		Notional:       leg.notional,
		Amount:         amount,
		DiscountFactor: df.DiscountFactor,
		PresentValue:   amount * df.DiscountFactor,
		Extrapolated:   df.Extrapolated,
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// dfBook reads discount factors and remembers every one it served.
type dfBook struct {
	curves map[string]domain.Curve
	seen   map[string]map[time.Time]domain.DiscountFactorUsed
}

func newDFBook(curves []domain.Curve) *dfBook {
	b := &dfBook{
		curves: make(map[string]domain.Curve, len(curves)),
		seen:   make(map[string]map[time.Time]domain.DiscountFactorUsed),
	}
	for _, c := range curves {
		b.curves[c.Name] = c
	}
	return b
}

func (b *dfBook) valuationDate(name string) (time.Time, error) {
	c, ok := b.curves[name]
	if !ok {
		return time.Time{}, fmt.Errorf("curve %s not available", name)
	}
	return c.ValuationDate, nil
}

func (b *dfBook) read(name string, date time.Time) (curve.Interpolated, error) {
	c, ok := b.curves[name]
	if !ok {
		return curve.Interpolated{}, fmt.Errorf("curve %s not available", name)
	}
	in, err := curve.Interpolate(c, date)
	if err != nil {
		return curve.Interpolated{}, err
	}
	if !finite(in.DiscountFactor) || in.DiscountFactor <= 0 {
		return curve.Interpolated{}, fmt.Errorf("curve %s gives invalid discount factor %v at %s", name, in.DiscountFactor, date.Format(time.DateOnly))
	}
	if b.seen[name] == nil {
		b.seen[name] = make(map[time.Time]domain.DiscountFactorUsed)
	}
	date = domain.DateOf(date)
	b.seen[name][date] = domain.DiscountFactorUsed{Date: date, DiscountFactor: in.DiscountFactor, Extrapolated: in.Extrapolated}
	return in, nil
}

func (b *dfBook) used() map[string][]domain.DiscountFactorUsed {
	out := make(map[string][]domain.DiscountFactorUsed, len(b.seen))
	for name, byDate := range b.seen {
		list := make([]domain.DiscountFactorUsed, 0, len(byDate))
		for _, u := range byDate {
			list = append(list, u)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
		out[name] = list
	}
	return out
}
