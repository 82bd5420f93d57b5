// Package fixture reads instrument specs and market snapshots from YAML.
//
// Rates, notionals and dates are read as their literal text so decimal
// inputs keep their exact value.
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/swapval/internal/domain"
)

type specFile struct {
	Kind string   `yaml:"kind"`
	IRS  *irsFile `yaml:"irs"`
	CCS  *ccsFile `yaml:"ccs"`
}

type irsFile struct {
	Currency       string `yaml:"currency"`
	Notional       string `yaml:"notional"`
	FixedRate      string `yaml:"fixed_rate"`
	FloatIndex     string `yaml:"float_index"`
	FloatSpread    string `yaml:"float_spread"`
	Effective      string `yaml:"effective"`
	Maturity       string `yaml:"maturity"`
	FixedFrequency string `yaml:"fixed_frequency"`
	FloatFrequency string `yaml:"float_frequency"`
	FixedDayCount  string `yaml:"fixed_day_count"`
	FloatDayCount  string `yaml:"float_day_count"`
	Calendar       string `yaml:"calendar"`
	BusinessDay    string `yaml:"business_day"`
}

type ccsFile struct {
	Currency         string `yaml:"currency"`
	Notional         string `yaml:"notional"`
	FixedRate        string `yaml:"fixed_rate"`
	FloatIndex       string `yaml:"float_index"`
	FixedFrequency   string `yaml:"fixed_frequency"`
	FixedDayCount    string `yaml:"fixed_day_count"`
	ForeignCurrency  string `yaml:"foreign_currency"`
	ForeignNotional  string `yaml:"foreign_notional"`
	ForeignIndex     string `yaml:"foreign_index"`
	ForeignSpread    string `yaml:"foreign_spread"`
	ForeignFrequency string `yaml:"foreign_frequency"`
	ForeignDayCount  string `yaml:"foreign_day_count"`
	FXFixing         string `yaml:"fx_fixing"`
	FXRate           string `yaml:"fx_rate"`
	ExchangeNotional bool   `yaml:"exchange_notional"`
	Effective        string `yaml:"effective"`
	Maturity         string `yaml:"maturity"`
	Calendar         string `yaml:"calendar"`
	BusinessDay      string `yaml:"business_day"`
}

type marketFile struct {
	AsOf          string                 `yaml:"as_of"`
	ValuationDate string                 `yaml:"valuation_date"`
	Curves        map[string][]quoteFile `yaml:"curves"`
	FXRates       map[string]string      `yaml:"fx_rates"`
}

type quoteFile struct {
	Tenor string `yaml:"tenor"`
	Rate  string `yaml:"rate"`
	Kind  string `yaml:"kind"`
}

// LoadSpec reads an instrument spec file.
func LoadSpec(path string) (domain.InstrumentSpec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.InstrumentSpec{}, fmt.Errorf("read spec: %w", err)
	}
	return DecodeSpec(bytes.NewReader(b))
}

// LoadSnapshot reads a market snapshot file.
func LoadSnapshot(path string) (domain.MarketDataSnapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.MarketDataSnapshot{}, fmt.Errorf("read market data: %w", err)
	}
	return DecodeSnapshot(bytes.NewReader(b))
}

func DecodeSpec(r io.Reader) (domain.InstrumentSpec, error) {
	var f specFile
	if err := decode(r, &f); err != nil {
		return domain.InstrumentSpec{}, fmt.Errorf("decode spec: %w", err)
	}
	p := &parser{}
	spec := domain.InstrumentSpec{Kind: domain.InstrumentKind(f.Kind)}
	if f.IRS != nil {
		spec.IRS = &domain.IRSSpec{
			Currency:       f.IRS.Currency,
			Notional:       p.decimal("irs.notional", f.IRS.Notional),
			FixedRate:      p.decimal("irs.fixed_rate", f.IRS.FixedRate),
			FloatIndex:     domain.FloatingIndex(f.IRS.FloatIndex),
			FloatSpread:    p.decimal("irs.float_spread", f.IRS.FloatSpread),
			Effective:      p.date("irs.effective", f.IRS.Effective),
			Maturity:       p.date("irs.maturity", f.IRS.Maturity),
			FixedFrequency: domain.Frequency(f.IRS.FixedFrequency),
			FloatFrequency: domain.Frequency(f.IRS.FloatFrequency),
			FixedDayCount:  domain.DayCount(f.IRS.FixedDayCount),
			FloatDayCount:  domain.DayCount(f.IRS.FloatDayCount),
			Calendar:       f.IRS.Calendar,
			BusinessDay:    domain.BusinessDayConvention(f.IRS.BusinessDay),
		}
	}
	if f.CCS != nil {
		spec.CCS = &domain.CCSSpec{
			Currency:         f.CCS.Currency,
			Notional:         p.decimal("ccs.notional", f.CCS.Notional),
			FixedRate:        p.decimal("ccs.fixed_rate", f.CCS.FixedRate),
			FloatIndex:       domain.FloatingIndex(f.CCS.FloatIndex),
			FixedFrequency:   domain.Frequency(f.CCS.FixedFrequency),
			FixedDayCount:    domain.DayCount(f.CCS.FixedDayCount),
			ForeignCurrency:  f.CCS.ForeignCurrency,
			ForeignNotional:  p.decimal("ccs.foreign_notional", f.CCS.ForeignNotional),
			ForeignIndex:     domain.FloatingIndex(f.CCS.ForeignIndex),
			ForeignSpread:    p.decimal("ccs.foreign_spread", f.CCS.ForeignSpread),
			ForeignFrequency: domain.Frequency(f.CCS.ForeignFrequency),
			ForeignDayCount:  domain.DayCount(f.CCS.ForeignDayCount),
			FXFixing:         domain.FXFixing(f.CCS.FXFixing),
			FXRate:           p.decimal("ccs.fx_rate", f.CCS.FXRate),
			ExchangeNotional: f.CCS.ExchangeNotional,
			Effective:        p.date("ccs.effective", f.CCS.Effective),
			Maturity:         p.date("ccs.maturity", f.CCS.Maturity),
			Calendar:         f.CCS.Calendar,
			BusinessDay:      domain.BusinessDayConvention(f.CCS.BusinessDay),
		}
	}
	if err := p.err(); err != nil {
		return domain.InstrumentSpec{}, err
	}
	return spec, nil
}

func DecodeSnapshot(r io.Reader) (domain.MarketDataSnapshot, error) {
	var f marketFile
	if err := decode(r, &f); err != nil {
		return domain.MarketDataSnapshot{}, fmt.Errorf("decode market data: %w", err)
	}
	p := &parser{}
	snap := domain.MarketDataSnapshot{
		ValuationDate: p.date("valuation_date", f.ValuationDate),
		Curves:        make(map[string][]domain.Quote, len(f.Curves)),
	}
	if strings.TrimSpace(f.AsOf) != "" {
		asOf, err := time.Parse(time.RFC3339, strings.TrimSpace(f.AsOf))
		if err != nil {
			p.add("as_of", err)
		}
		snap.AsOf = asOf
	} else {
		snap.AsOf = snap.ValuationDate
	}
	for name, quotes := range f.Curves {
		out := make([]domain.Quote, 0, len(quotes))
		for i, q := range quotes {
			field := fmt.Sprintf("curves.%s[%d]", name, i)
			out = append(out, domain.Quote{
				Tenor: strings.TrimSpace(q.Tenor),
				Rate:  p.decimal(field+".rate", q.Rate),
				Kind:  domain.QuoteKind(strings.ToUpper(strings.TrimSpace(q.Kind))),
			})
		}
		snap.Curves[name] = out
	}
	if len(f.FXRates) > 0 {
		snap.FXRates = make(map[string]decimal.Decimal, len(f.FXRates))
		for pair, rate := range f.FXRates {
			snap.FXRates[pair] = p.decimal("fx_rates."+pair, rate)
		}
	}
	if err := p.err(); err != nil {
		return domain.MarketDataSnapshot{}, err
	}
	return snap, nil
}

func decode(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// parser collects field errors so one pass reports all of them.
type parser struct {
	errs []error
}

func (p *parser) add(field string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", field, err))
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

// decimal parses value; empty means zero.
func (p *parser) decimal(field, value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		p.add(field, err)
		return decimal.Zero
	}
	return d
}

// date parses a YYYY-MM-DD value; empty means unset.
func (p *parser) date(field, value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		p.add(field, err)
		return time.Time{}
	}
	return t
}
