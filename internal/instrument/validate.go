// Package instrument validates swap specifications before a run is created.
//
// Validate is pure. It never touches market data; ValidateMarketData checks
// that a snapshot can serve an already validated instrument.
package instrument

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/schedule"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CalendarSet resolves calendar names.
type CalendarSet interface {
	Has(name string) bool
}

// Options holds the configurable validation bounds.
type Options struct {
	MinFixedRate      decimal.Decimal
	MaxFixedRate      decimal.Decimal
	StubToleranceDays int
	Calendars         CalendarSet
}

// DefaultStubToleranceDays absorbs roll drift such as a 29 February effective
// date against a 28th month-end maturity.
const DefaultStubToleranceDays = 7

// DefaultOptions bounds fixed rates to [-5%, 50%] and tolerates front stubs
// of up to DefaultStubToleranceDays.
func DefaultOptions(calendars CalendarSet) Options {
	return Options{
		MinFixedRate:      decimal.RequireFromString("-0.05"),
		MaxFixedRate:      decimal.RequireFromString("0.50"),
		StubToleranceDays: DefaultStubToleranceDays,
		Calendars:         calendars,
	}
}

// Validate normalizes spec and checks it. The returned spec is the
// normalized form and is only meaningful when err is nil.
func Validate(spec domain.InstrumentSpec, opts Options) (domain.InstrumentSpec, error) {
	spec = spec.Normalize()
	issues := &ValidationError{}

	switch spec.Kind {
	case domain.KindIRS:
		if spec.IRS == nil {
			issues.Add(CodeRequired, "irs", "irs payload is required for kind IRS")
		}
		if spec.CCS != nil {
			issues.Add(CodeInvalid, "ccs", "ccs payload is not allowed for kind IRS")
		}
		if spec.IRS != nil {
			validateIRS(issues, *spec.IRS, opts)
		}
	case domain.KindCCS:
		if spec.CCS == nil {
			issues.Add(CodeRequired, "ccs", "ccs payload is required for kind CCS")
		}
		if spec.IRS != nil {
			issues.Add(CodeInvalid, "irs", "irs payload is not allowed for kind CCS")
		}
		if spec.CCS != nil {
			validateCCS(issues, *spec.CCS, opts)
		}
	case "":
		issues.Add(CodeRequired, "kind", "instrument kind is required")
	default:
		issues.Add(CodeUnknown, "kind", fmt.Sprintf("unsupported instrument kind %q", spec.Kind))
	}

	if err := issues.OrNil(); err != nil {
		return domain.InstrumentSpec{}, err
	}
	return spec, nil
}

func validateIRS(issues *ValidationError, s domain.IRSSpec, opts Options) {
	checkCurrency(issues, "irs.currency", s.Currency)
	checkNotional(issues, "irs.notional", s.Notional)
	checkFixedRate(issues, "irs.fixedRate", s.FixedRate, opts)
	checkIndex(issues, "irs.floatIndex", s.FloatIndex, s.Currency)
	datesOK := checkDates(issues, "irs", s.Effective, s.Maturity)
	checkDayCount(issues, "irs.fixedDayCount", s.FixedDayCount)
	checkDayCount(issues, "irs.floatDayCount", s.FloatDayCount)
	checkBusinessDay(issues, "irs.businessDay", s.BusinessDay)
	checkCalendar(issues, "irs.calendar", s.Calendar, opts)
	if checkFrequency(issues, "irs.fixedFrequency", s.FixedFrequency) && datesOK {
		checkPeriods(issues, "irs.fixedFrequency", s.Effective, s.Maturity, s.FixedFrequency, opts)
	}
	if checkFrequency(issues, "irs.floatFrequency", s.FloatFrequency) && datesOK {
		checkPeriods(issues, "irs.floatFrequency", s.Effective, s.Maturity, s.FloatFrequency, opts)
	}
}

func validateCCS(issues *ValidationError, s domain.CCSSpec, opts Options) {
	checkCurrency(issues, "ccs.currency", s.Currency)
	checkCurrency(issues, "ccs.foreignCurrency", s.ForeignCurrency)
	if s.Currency != "" && s.Currency == s.ForeignCurrency {
		issues.Add(CodeInvalid, "ccs.foreignCurrency", "foreign currency must differ from the domestic currency")
	}
	checkNotional(issues, "ccs.notional", s.Notional)
	checkNotional(issues, "ccs.foreignNotional", s.ForeignNotional)
	checkFixedRate(issues, "ccs.fixedRate", s.FixedRate, opts)
	checkIndex(issues, "ccs.floatIndex", s.FloatIndex, s.Currency)
	checkIndex(issues, "ccs.foreignIndex", s.ForeignIndex, s.ForeignCurrency)
	datesOK := checkDates(issues, "ccs", s.Effective, s.Maturity)
	checkDayCount(issues, "ccs.fixedDayCount", s.FixedDayCount)
	checkDayCount(issues, "ccs.foreignDayCount", s.ForeignDayCount)
	checkBusinessDay(issues, "ccs.businessDay", s.BusinessDay)
	checkCalendar(issues, "ccs.calendar", s.Calendar, opts)

	switch s.FXFixing {
	case domain.FXFixingSnapshotSpot:
	case domain.FXFixingContract:
		if !s.FXRate.IsPositive() {
			issues.Add(CodeRequired, "ccs.fxRate", "a positive fxRate is required for CONTRACT fixing")
		}
	default:
		issues.Add(CodeUnknown, "ccs.fxFixing", fmt.Sprintf("unsupported fx fixing %q", s.FXFixing))
	}

	if checkFrequency(issues, "ccs.fixedFrequency", s.FixedFrequency) && datesOK {
		checkPeriods(issues, "ccs.fixedFrequency", s.Effective, s.Maturity, s.FixedFrequency, opts)
	}
	if checkFrequency(issues, "ccs.foreignFrequency", s.ForeignFrequency) && datesOK {
		checkPeriods(issues, "ccs.foreignFrequency", s.Effective, s.Maturity, s.ForeignFrequency, opts)
	}
}

func checkCurrency(issues *ValidationError, field, ccy string) {
	switch {
	case ccy == "":
		issues.Add(CodeRequired, field, "currency is required")
	case !currencyPattern.MatchString(ccy):
		issues.Add(CodeInvalid, field, fmt.Sprintf("currency %q is not a three letter code", ccy))
	}
}

func checkNotional(issues *ValidationError, field string, notional decimal.Decimal) {
	if !notional.IsPositive() {
		issues.Add(CodeOutOfRange, field, "notional must be greater than zero")
	}
}

func checkFixedRate(issues *ValidationError, field string, rate decimal.Decimal, opts Options) {
	if rate.LessThan(opts.MinFixedRate) || rate.GreaterThan(opts.MaxFixedRate) {
		issues.Add(CodeOutOfRange, field, fmt.Sprintf("fixed rate %s outside [%s, %s]", rate, opts.MinFixedRate, opts.MaxFixedRate))
	}
}

func checkIndex(issues *ValidationError, field string, index domain.FloatingIndex, legCurrency string) {
	if index == "" {
		issues.Add(CodeRequired, field, "floating index is required")
		return
	}
	ccy, ok := index.Currency()
	if !ok {
		issues.Add(CodeUnknown, field, fmt.Sprintf("unknown floating index %q", index))
		return
	}
	if legCurrency != "" && ccy != legCurrency {
		issues.Add(CodeInvalid, field, fmt.Sprintf("index %s is a %s index, leg currency is %s", index, ccy, legCurrency))
	}
}

func checkDates(issues *ValidationError, prefix string, effective, maturity time.Time) bool {
	ok := true
	if effective.IsZero() {
		issues.Add(CodeRequired, prefix+".effective", "effective date is required")
		ok = false
	}
	if maturity.IsZero() {
		issues.Add(CodeRequired, prefix+".maturity", "maturity date is required")
		ok = false
	}
	if ok && !maturity.After(effective) {
		issues.Add(CodeInvalid, prefix+".maturity", "maturity must be after the effective date")
		ok = false
	}
	return ok
}

func checkDayCount(issues *ValidationError, field string, dc domain.DayCount) {
	if dc == "" {
		issues.Add(CodeRequired, field, "day count is required")
		return
	}
	if !domain.KnownDayCount(dc) {
		issues.Add(CodeUnknown, field, fmt.Sprintf("unknown day count %q", dc))
	}
}

func checkBusinessDay(issues *ValidationError, field string, bdc domain.BusinessDayConvention) {
	if !domain.KnownBusinessDayConvention(bdc) {
		issues.Add(CodeUnknown, field, fmt.Sprintf("unknown business day convention %q", bdc))
	}
}

func checkCalendar(issues *ValidationError, field, name string, opts Options) {
	if name == "" {
		issues.Add(CodeRequired, field, "calendar is required")
		return
	}
	if opts.Calendars != nil && !opts.Calendars.Has(name) {
		issues.Add(CodeUnknown, field, fmt.Sprintf("unknown calendar %q", name))
	}
}

func checkFrequency(issues *ValidationError, field string, freq domain.Frequency) bool {
	if freq == "" {
		issues.Add(CodeRequired, field, "frequency is required")
		return false
	}
	if freq.Months() == 0 {
		issues.Add(CodeUnknown, field, fmt.Sprintf("unknown frequency %q", freq))
		return false
	}
	return true
}

func checkPeriods(issues *ValidationError, field string, effective, maturity time.Time, freq domain.Frequency, opts Options) {
	if _, err := schedule.PeriodCount(effective, maturity, freq, opts.StubToleranceDays); err != nil {
		issues.Add(CodeScheduleMismatch, field, err.Error())
	}
}
