package pricer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/swapval/internal/curve"
	"github.com/animus-labs/swapval/internal/domain"
)

// SensitivityOptions selects the bump-and-reprice scenarios.
type SensitivityOptions struct {
	// BumpsBP are parallel quote shifts in basis points.
	BumpsBP []float64
	// FXShifts are relative FX shocks (0.01 = 1%), CCS only.
	FXShifts    []float64
	Parallelism int
	Curve       curve.Options
}

// DefaultSensitivityOptions shifts quotes by ±1bp and ±10bp and FX by ±1%.
func DefaultSensitivityOptions() SensitivityOptions {
	return SensitivityOptions{
		BumpsBP:     []float64{-10, -1, 1, 10},
		FXShifts:    []float64{-0.01, 0.01},
		Parallelism: 4,
		Curve:       curve.DefaultOptions(),
	}
}

// SensitivityInput is everything needed to rebuild and reprice a run.
type SensitivityInput struct {
	Spec          domain.InstrumentSpec
	Schedules     []domain.Schedule
	Curves        []domain.Curve
	Quotes        map[string][]domain.Quote
	FXRate        float64
	BasePV        float64
	ValuationDate time.Time
}

// Scenario is one bump applied to the base inputs.
type Scenario struct {
	Name    string
	Curve   string
	BumpBP  float64
	FXShift float64
}

// Scenarios lists the scenarios for curveNames, sorted by name.
func Scenarios(curveNames []string, withFX bool, opts SensitivityOptions) []Scenario {
	names := append([]string(nil), curveNames...)
	sort.Strings(names)
	var out []Scenario
	for _, name := range names {
		for _, bp := range opts.BumpsBP {
			out = append(out, Scenario{Name: name + ":" + signed(bp) + "bp", Curve: name, BumpBP: bp})
		}
	}
	if withFX {
		for _, shift := range opts.FXShifts {
			out = append(out, Scenario{Name: "fx:" + signed(shift*100) + "%", FXShift: shift})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func signed(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v >= 0 {
		return "+" + s
	}
	return s
}

// Sensitivities reprices every scenario through curve.Bootstrap and Price,
// the same path as the base valuation, and reports PV deltas against
// in.BasePV. When both ±1bp are requested each curve also gets
// "<curve>:pv01", the central difference (Δ+1bp − Δ−1bp)/2.
func Sensitivities(ctx context.Context, in SensitivityInput, opts SensitivityOptions) (map[string]float64, error) {
	scenarios := Scenarios(in.Spec.CurveNames(), in.Spec.Kind == domain.KindCCS, opts)
	deltas := make([]float64, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallelism > 0 {
		g.SetLimit(opts.Parallelism)
	}
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pv, err := reprice(in, sc, opts.Curve)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
			deltas[i] = pv - in.BasePV
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(scenarios))
	for i, sc := range scenarios {
		out[sc.Name] = deltas[i]
	}
	for _, name := range in.Spec.CurveNames() {
		up, okUp := out[name+":+1bp"]
		down, okDown := out[name+":-1bp"]
		if okUp && okDown {
			out[name+":pv01"] = (up - down) / 2
		}
	}
	return out, nil
}

func reprice(in SensitivityInput, sc Scenario, opts curve.Options) (float64, error) {
	curves := in.Curves
	if sc.Curve != "" {
		quotes, ok := in.Quotes[sc.Curve]
		if !ok {
			return 0, fmt.Errorf("quotes for curve %s not available", sc.Curve)
		}
		bumped, err := curve.Bootstrap(sc.Curve, curve.Bump(quotes, sc.BumpBP), in.ValuationDate, opts)
		if err != nil {
			return 0, err
		}
		curves = make([]domain.Curve, len(in.Curves))
		for i, c := range in.Curves {
			if c.Name == sc.Curve {
				c = bumped
			}
			curves[i] = c
		}
	}
	fx := in.FXRate * (1 + sc.FXShift)
	result, err := Price(in.Spec, in.Schedules, curves, fx)
	if err != nil {
		return 0, err
	}
	return result.TotalPV, nil
}
