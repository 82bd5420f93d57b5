package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKind discriminates the supported swap variants.
type InstrumentKind string

const (
	KindIRS InstrumentKind = "IRS"
	KindCCS InstrumentKind = "CCS"
)

// DayCount names an accrual day-count convention.
type DayCount string

const (
	DayCountACT360   DayCount = "ACT/360"
	DayCountACT365F  DayCount = "ACT/365F"
	DayCountACTACT   DayCount = "ACT/ACT"
	DayCount30360    DayCount = "30/360"
	DayCount30E360   DayCount = "30E/360"
	dayCountACT365   DayCount = "ACT/365"
	dayCountACTACTIS DayCount = "ACT/ACT ISDA"
)

// NormalizeDayCount maps accepted aliases onto canonical conventions.
// Unknown values are returned upper-cased so validation can report them.
func NormalizeDayCount(value DayCount) DayCount {
	v := DayCount(strings.ToUpper(strings.TrimSpace(string(value))))
	switch v {
	case dayCountACT365:
		return DayCountACT365F
	case dayCountACTACTIS:
		return DayCountACTACT
	}
	return v
}

// KnownDayCount reports whether dc is a supported day-count convention.
func KnownDayCount(dc DayCount) bool {
	switch NormalizeDayCount(dc) {
	case DayCountACT360, DayCountACT365F, DayCountACTACT, DayCount30360, DayCount30E360:
		return true
	default:
		return false
	}
}

// Frequency is a regular payment frequency.
type Frequency string

const (
	FrequencyMonthly    Frequency = "M"
	FrequencyQuarterly  Frequency = "Q"
	FrequencySemiAnnual Frequency = "S"
	FrequencyAnnual     Frequency = "A"
)

// Months returns the period length in months, or 0 for an unknown frequency.
func (f Frequency) Months() int {
	switch Frequency(strings.ToUpper(strings.TrimSpace(string(f)))) {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiAnnual:
		return 6
	case FrequencyAnnual:
		return 12
	default:
		return 0
	}
}

// BusinessDayConvention controls how non-business days are rolled.
type BusinessDayConvention string

const (
	Following         BusinessDayConvention = "FOLLOWING"
	ModifiedFollowing BusinessDayConvention = "MODIFIED_FOLLOWING"
	Preceding         BusinessDayConvention = "PRECEDING"
	ModifiedPreceding BusinessDayConvention = "MODIFIED_PRECEDING"
	Unadjusted        BusinessDayConvention = "UNADJUSTED"
)

// KnownBusinessDayConvention reports whether bdc is supported.
func KnownBusinessDayConvention(bdc BusinessDayConvention) bool {
	switch bdc {
	case Following, ModifiedFollowing, Preceding, ModifiedPreceding, Unadjusted:
		return true
	default:
		return false
	}
}

// FloatingIndex identifies a floating-rate benchmark.
type FloatingIndex string

const (
	IndexSOFR       FloatingIndex = "SOFR"
	IndexESTR       FloatingIndex = "ESTR"
	IndexSONIA      FloatingIndex = "SONIA"
	IndexTONA       FloatingIndex = "TONA"
	IndexSARON      FloatingIndex = "SARON"
	IndexUSDLibor3M FloatingIndex = "USD-LIBOR-3M"
	IndexEuribor3M  FloatingIndex = "EURIBOR-3M"
	IndexEuribor6M  FloatingIndex = "EURIBOR-6M"
)

var indexCurrency = map[FloatingIndex]string{
	IndexSOFR:       "USD",
	IndexESTR:       "EUR",
	IndexSONIA:      "GBP",
	IndexTONA:       "JPY",
	IndexSARON:      "CHF",
	IndexUSDLibor3M: "USD",
	IndexEuribor3M:  "EUR",
	IndexEuribor6M:  "EUR",
}

// Currency returns the currency of the index and whether the index is known.
func (i FloatingIndex) Currency() (string, bool) {
	ccy, ok := indexCurrency[i]
	return ccy, ok
}

// CurveName is the market-data curve that projects and discounts this index.
func (i FloatingIndex) CurveName() string {
	return string(i)
}

// FXFixing selects where the CCS conversion rate comes from.
type FXFixing string

const (
	FXFixingSnapshotSpot FXFixing = "SNAPSHOT_SPOT"
	FXFixingContract     FXFixing = "CONTRACT"
)

// IRSSpec is a single-currency fixed-versus-floating swap.
type IRSSpec struct {
	Currency       string                `json:"currency"`
	Notional       decimal.Decimal       `json:"notional"`
	FixedRate      decimal.Decimal       `json:"fixedRate"`
	FloatIndex     FloatingIndex         `json:"floatIndex"`
	FloatSpread    decimal.Decimal       `json:"floatSpread"`
	Effective      time.Time             `json:"effective"`
	Maturity       time.Time             `json:"maturity"`
	FixedFrequency Frequency             `json:"fixedFrequency"`
	FloatFrequency Frequency             `json:"floatFrequency"`
	FixedDayCount  DayCount              `json:"fixedDayCount"`
	FloatDayCount  DayCount              `json:"floatDayCount"`
	Calendar       string                `json:"calendar"`
	BusinessDay    BusinessDayConvention `json:"businessDay"`
}

// CCSSpec is a fixed domestic leg against a floating foreign leg.
// FloatIndex names the domestic discounting benchmark.
type CCSSpec struct {
	Currency         string                `json:"currency"`
	Notional         decimal.Decimal       `json:"notional"`
	FixedRate        decimal.Decimal       `json:"fixedRate"`
	FloatIndex       FloatingIndex         `json:"floatIndex"`
	FixedFrequency   Frequency             `json:"fixedFrequency"`
	FixedDayCount    DayCount              `json:"fixedDayCount"`
	ForeignCurrency  string                `json:"foreignCurrency"`
	ForeignNotional  decimal.Decimal       `json:"foreignNotional"`
	ForeignIndex     FloatingIndex         `json:"foreignIndex"`
	ForeignSpread    decimal.Decimal       `json:"foreignSpread"`
	ForeignFrequency Frequency             `json:"foreignFrequency"`
	ForeignDayCount  DayCount              `json:"foreignDayCount"`
	FXFixing         FXFixing              `json:"fxFixing"`
	FXRate           decimal.Decimal       `json:"fxRate"`
	ExchangeNotional bool                  `json:"exchangeNotional"`
	Effective        time.Time             `json:"effective"`
	Maturity         time.Time             `json:"maturity"`
	Calendar         string                `json:"calendar"`
	BusinessDay      BusinessDayConvention `json:"businessDay"`
}

// FXPair returns the snapshot key for foreign→domestic conversion, e.g. EURUSD.
func (s CCSSpec) FXPair() string {
	return strings.ToUpper(s.ForeignCurrency + s.Currency)
}

// InstrumentSpec is a closed union over the supported instruments.
// Exactly one of IRS or CCS is set and it must match Kind.
type InstrumentSpec struct {
	Kind InstrumentKind `json:"kind"`
	IRS  *IRSSpec       `json:"irs,omitempty"`
	CCS  *CCSSpec       `json:"ccs,omitempty"`
}

// Dates returns the effective and maturity dates of whichever variant is set.
func (s InstrumentSpec) Dates() (time.Time, time.Time) {
	switch s.Kind {
	case KindIRS:
		if s.IRS != nil {
			return s.IRS.Effective, s.IRS.Maturity
		}
	case KindCCS:
		if s.CCS != nil {
			return s.CCS.Effective, s.CCS.Maturity
		}
	}
	return time.Time{}, time.Time{}
}

// ReportingCurrency is the currency the total PV is expressed in.
func (s InstrumentSpec) ReportingCurrency() string {
	switch s.Kind {
	case KindIRS:
		if s.IRS != nil {
			return s.IRS.Currency
		}
	case KindCCS:
		if s.CCS != nil {
			return s.CCS.Currency
		}
	}
	return ""
}

// CurveNames lists the market-data curves the instrument needs, sorted.
func (s InstrumentSpec) CurveNames() []string {
	switch s.Kind {
	case KindIRS:
		if s.IRS != nil {
			return []string{s.IRS.FloatIndex.CurveName()}
		}
	case KindCCS:
		if s.CCS != nil {
			dom := s.CCS.FloatIndex.CurveName()
			foreign := s.CCS.ForeignIndex.CurveName()
			if dom == foreign {
				return []string{dom}
			}
			if foreign < dom {
				return []string{foreign, dom}
			}
			return []string{dom, foreign}
		}
	}
	return nil
}

// Normalize returns a copy with dates truncated to UTC calendar days and
// enumerations upper-cased, so equal instruments serialize identically.
func (s InstrumentSpec) Normalize() InstrumentSpec {
	out := InstrumentSpec{Kind: InstrumentKind(strings.ToUpper(strings.TrimSpace(string(s.Kind))))}
	if s.IRS != nil {
		irs := *s.IRS
		irs.Currency = strings.ToUpper(strings.TrimSpace(irs.Currency))
		irs.FloatIndex = FloatingIndex(strings.ToUpper(strings.TrimSpace(string(irs.FloatIndex))))
		irs.Effective = DateOf(irs.Effective)
		irs.Maturity = DateOf(irs.Maturity)
		irs.FixedFrequency = Frequency(strings.ToUpper(string(irs.FixedFrequency)))
		irs.FloatFrequency = Frequency(strings.ToUpper(string(irs.FloatFrequency)))
		irs.FixedDayCount = NormalizeDayCount(irs.FixedDayCount)
		irs.FloatDayCount = NormalizeDayCount(irs.FloatDayCount)
		irs.Calendar = strings.ToUpper(strings.TrimSpace(irs.Calendar))
		irs.BusinessDay = normalizeBDC(irs.BusinessDay)
		out.IRS = &irs
	}
	if s.CCS != nil {
		ccs := *s.CCS
		ccs.Currency = strings.ToUpper(strings.TrimSpace(ccs.Currency))
		ccs.ForeignCurrency = strings.ToUpper(strings.TrimSpace(ccs.ForeignCurrency))
		ccs.FloatIndex = FloatingIndex(strings.ToUpper(strings.TrimSpace(string(ccs.FloatIndex))))
		ccs.ForeignIndex = FloatingIndex(strings.ToUpper(strings.TrimSpace(string(ccs.ForeignIndex))))
		ccs.Effective = DateOf(ccs.Effective)
		ccs.Maturity = DateOf(ccs.Maturity)
		ccs.FixedFrequency = Frequency(strings.ToUpper(string(ccs.FixedFrequency)))
		ccs.ForeignFrequency = Frequency(strings.ToUpper(string(ccs.ForeignFrequency)))
		ccs.FixedDayCount = NormalizeDayCount(ccs.FixedDayCount)
		ccs.ForeignDayCount = NormalizeDayCount(ccs.ForeignDayCount)
		ccs.Calendar = strings.ToUpper(strings.TrimSpace(ccs.Calendar))
		ccs.BusinessDay = normalizeBDC(ccs.BusinessDay)
		ccs.FXFixing = FXFixing(strings.ToUpper(strings.TrimSpace(string(ccs.FXFixing))))
		if ccs.FXFixing == "" {
			ccs.FXFixing = FXFixingSnapshotSpot
		}
		out.CCS = &ccs
	}
	return out
}

func normalizeBDC(bdc BusinessDayConvention) BusinessDayConvention {
	v := BusinessDayConvention(strings.ToUpper(strings.TrimSpace(string(bdc))))
	if v == "" {
		return ModifiedFollowing
	}
	return v
}
