package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteKind tells the curve engine which compounding rule a quote follows.
type QuoteKind string

const (
	QuoteDeposit QuoteKind = "DEPOSIT"
	QuoteSwap    QuoteKind = "SWAP"
	QuoteZero    QuoteKind = "ZERO"
)

// Quote is a single market rate at a tenor, as a decimal fraction (0.05 = 5%).
type Quote struct {
	Tenor string          `json:"tenor"`
	Rate  decimal.Decimal `json:"rate"`
	Kind  QuoteKind       `json:"kind"`
}

// MarketDataSnapshot is an immutable set of curve quotes and FX rates.
// Curves keeps quotes in the order they were supplied.
type MarketDataSnapshot struct {
	AsOf          time.Time                  `json:"asOf"`
	ValuationDate time.Time                  `json:"valuationDate"`
	Curves        map[string][]Quote         `json:"curves"`
	FXRates       map[string]decimal.Decimal `json:"fxRates,omitempty"`
}

// Normalize returns a copy with upper-cased keys and UTC dates.
func (s MarketDataSnapshot) Normalize() MarketDataSnapshot {
	out := MarketDataSnapshot{
		AsOf:          s.AsOf.UTC(),
		ValuationDate: DateOf(s.ValuationDate),
		Curves:        make(map[string][]Quote, len(s.Curves)),
	}
	if out.ValuationDate.IsZero() {
		out.ValuationDate = DateOf(s.AsOf)
	}
	for name, quotes := range s.Curves {
		copied := make([]Quote, len(quotes))
		for i, q := range quotes {
			copied[i] = Quote{
				Tenor: strings.ToUpper(strings.TrimSpace(q.Tenor)),
				Rate:  q.Rate,
				Kind:  QuoteKind(strings.ToUpper(strings.TrimSpace(string(q.Kind)))),
			}
			if copied[i].Kind == "" {
				copied[i].Kind = QuoteZero
			}
		}
		out.Curves[strings.ToUpper(strings.TrimSpace(name))] = copied
	}
	if len(s.FXRates) > 0 {
		out.FXRates = make(map[string]decimal.Decimal, len(s.FXRates))
		for pair, rate := range s.FXRates {
			out.FXRates[strings.ToUpper(strings.TrimSpace(pair))] = rate
		}
	}
	return out
}

// FXRate looks up pair (e.g. EURUSD), falling back to the inverse quote.
func (s MarketDataSnapshot) FXRate(pair string) (decimal.Decimal, bool) {
	pair = strings.ToUpper(pair)
	if rate, ok := s.FXRates[pair]; ok {
		return rate, true
	}
	if len(pair) == 6 {
		inverse := pair[3:] + pair[:3]
		if rate, ok := s.FXRates[inverse]; ok && !rate.IsZero() {
			return decimal.NewFromInt(1).DivRound(rate, 16), true
		}
	}
	return decimal.Decimal{}, false
}
