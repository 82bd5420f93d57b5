package instrument

import (
	"fmt"

	"github.com/animus-labs/swapval/internal/domain"
)

// ValidateMarketData checks that snapshot carries what a validated spec
// needs: every curve it references, the FX pair for spot-fixed CCS, and a
// valuation date no later than maturity. Quote contents are left to the
// curve engine.
func ValidateMarketData(spec domain.InstrumentSpec, snapshot domain.MarketDataSnapshot) error {
	issues := &ValidationError{}

	if snapshot.ValuationDate.IsZero() {
		issues.Add(CodeMarketData, "snapshot.valuationDate", "snapshot has no valuation date")
	}
	for _, name := range spec.CurveNames() {
		quotes, ok := snapshot.Curves[name]
		switch {
		case !ok:
			issues.Add(CodeMarketData, "snapshot.curves", fmt.Sprintf("curve %s is missing", name))
		case len(quotes) == 0:
			issues.Add(CodeMarketData, "snapshot.curves", fmt.Sprintf("curve %s has no quotes", name))
		}
	}
	if spec.Kind == domain.KindCCS && spec.CCS != nil && spec.CCS.FXFixing == domain.FXFixingSnapshotSpot {
		pair := spec.CCS.FXPair()
		if rate, ok := snapshot.FXRate(pair); !ok || !rate.IsPositive() {
			issues.Add(CodeMarketData, "snapshot.fxRates", fmt.Sprintf("fx rate %s is missing", pair))
		}
	}
	if _, maturity := spec.Dates(); !snapshot.ValuationDate.IsZero() && !maturity.After(snapshot.ValuationDate) {
		issues.Add(CodeMarketData, "snapshot.valuationDate", "instrument has matured before the valuation date")
	}

	return issues.OrNil()
}
