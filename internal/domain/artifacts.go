package domain

import "time"

// InterpolationMethod selects how discount factors are read between pillars.
type InterpolationMethod string

const (
	LogLinear  InterpolationMethod = "LOG_LINEAR"
	LinearZero InterpolationMethod = "LINEAR_ZERO"
)

// CurvePoint is one solved pillar. Time is the ACT/365F year fraction from
// the valuation date.
type CurvePoint struct {
	Tenor          string    `json:"tenor"`
	Date           time.Time `json:"date"`
	Time           float64   `json:"time"`
	DiscountFactor float64   `json:"discountFactor"`
}

// Curve is a bootstrapped discount curve. The first point is the valuation
// date anchor with a discount factor of one.
type Curve struct {
	Name          string              `json:"name"`
	ValuationDate time.Time           `json:"valuationDate"`
	Method        InterpolationMethod `json:"method"`
	Points        []CurvePoint        `json:"points"`
}

// Period is one accrual period of a leg schedule.
type Period struct {
	Index            int       `json:"index"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Payment          time.Time `json:"payment"`
	DayCountFraction float64   `json:"dayCountFraction"`
}

// Schedule is the ordered accrual schedule of one leg.
type Schedule struct {
	Leg         string                `json:"leg"`
	Frequency   Frequency             `json:"frequency"`
	DayCount    DayCount              `json:"dayCount"`
	Calendar    string                `json:"calendar"`
	BusinessDay BusinessDayConvention `json:"businessDay"`
	Periods     []Period              `json:"periods"`
}

// CashflowKind separates coupon flows from principal exchanges.
type CashflowKind string

const (
	CashflowCoupon   CashflowKind = "COUPON"
	CashflowNotional CashflowKind = "NOTIONAL"
)

// CashflowRow is one projected and discounted leg cashflow.
type CashflowRow struct {
	Leg              string       `json:"leg"`
	Kind             CashflowKind `json:"kind"`
	Start            time.Time    `json:"start"`
	End              time.Time    `json:"end"`
	Payment          time.Time    `json:"payment"`
	Currency         string       `json:"currency"`
	Notional         float64      `json:"notional"`
	Rate             float64      `json:"rate"`
	DayCountFraction float64      `json:"dayCountFraction"`
	Amount           float64      `json:"amount"`
	DiscountFactor   float64      `json:"discountFactor"`
	PresentValue     float64      `json:"presentValue"`
	Extrapolated     bool         `json:"extrapolated,omitempty"`
}

// LegResult is the valuation of a single leg. PVDomestic equals PV for
// legs already in the reporting currency.
type LegResult struct {
	Name       string        `json:"name"`
	Currency   string        `json:"currency"`
	PV         float64       `json:"pv"`
	PVDomestic float64       `json:"pvDomestic"`
	Cashflows  []CashflowRow `json:"cashflows"`
}

// DiscountFactorUsed records a discount factor read during pricing.
type DiscountFactorUsed struct {
	Date           time.Time `json:"date"`
	DiscountFactor float64   `json:"discountFactor"`
	Extrapolated   bool      `json:"extrapolated,omitempty"`
}

// ValuationResult is the materialized outcome of a completed run.
type ValuationResult struct {
	TotalPV         float64                         `json:"totalPv"`
	Currency        string                          `json:"currency"`
	Legs            []LegResult                     `json:"legs"`
	FXRate          float64                         `json:"fxRate,omitempty"`
	Sensitivities   map[string]float64              `json:"sensitivities"`
	DiscountFactors map[string][]DiscountFactorUsed `json:"discountFactors"`
}

// Leg returns the named leg result.
func (r ValuationResult) Leg(name string) (LegResult, bool) {
	for _, leg := range r.Legs {
		if leg.Name == name {
			return leg, true
		}
	}
	return LegResult{}, false
}
