package runs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/swapval/internal/curve"
	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/lineage"
	"github.com/animus-labs/swapval/internal/pricer"
	"github.com/animus-labs/swapval/internal/repo"
	"github.com/animus-labs/swapval/internal/schedule"
)

// Artifact kinds recorded in lineage.
const (
	ArtifactInstrument = "instrument"
	ArtifactSnapshot   = "snapshot"
	ArtifactModel      = "model"
	ArtifactValidation = "validation"
	ArtifactCurves     = "curves"
	ArtifactSchedules  = "schedules"
	ArtifactFX         = "fx"
	ArtifactResult     = "result"
)

// modelDescriptor is everything besides the instrument and market data that
// can change a valuation.
type modelDescriptor struct {
	Version           string    `json:"version,omitempty"`
	Interpolation     string    `json:"interpolation"`
	DepositBasis      string    `json:"depositBasis"`
	SwapBasis         string    `json:"swapBasis"`
	SwapFixedMonths   int       `json:"swapFixedMonths"`
	StubToleranceDays int       `json:"stubToleranceDays"`
	PaymentLagDays    int       `json:"paymentLagDays"`
	MinFixedRate      string    `json:"minFixedRate"`
	MaxFixedRate      string    `json:"maxFixedRate"`
	BumpsBP           []float64 `json:"bumpsBp"`
	FXShifts          []float64 `json:"fxShifts"`
}

func describeModel(cfg Config, version string) modelDescriptor {
	return modelDescriptor{
		Version:           version,
		Interpolation:     string(cfg.Curve.Method),
		DepositBasis:      string(cfg.Curve.DepositBasis),
		SwapBasis:         string(cfg.Curve.SwapBasis),
		SwapFixedMonths:   cfg.Curve.SwapFixedMonths,
		StubToleranceDays: cfg.Instrument.StubToleranceDays,
		PaymentLagDays:    cfg.PaymentLagDays,
		MinFixedRate:      cfg.Instrument.MinFixedRate.String(),
		MaxFixedRate:      cfg.Instrument.MaxFixedRate.String(),
		BumpsBP:           cfg.Sensitivity.BumpsBP,
		FXShifts:          cfg.Sensitivity.FXShifts,
	}
}

func modelConfigHash(cfg Config) (string, error) {
	b, err := lineage.Canonical(describeModel(cfg, ""))
	if err != nil {
		return "", fmt.Errorf("model hash: %w", err)
	}
	return lineage.Hash(b), nil
}

// validation is the output of the validate stage and the shared input of the
// stages after it.
type validation struct {
	Spec          domain.InstrumentSpec `json:"spec"`
	SnapshotHash  string                `json:"snapshotHash"`
	ModelVersion  string                `json:"modelVersion"`
	ModelHash     string                `json:"modelHash"`
	ValuationDate time.Time             `json:"valuationDate"`
	Curves        []string              `json:"curves"`
}

type fxInput struct {
	Pair   string  `json:"pair"`
	Fixing string  `json:"fixing"`
	Rate   float64 `json:"rate"`
}

// state carries one run through the worker stages.
type state struct {
	run        domain.Run
	snapshot   domain.MarketDataSnapshot
	validation lineage.Artifact
	snapArt    lineage.Artifact

	curves    []domain.Curve
	curvesArt lineage.Artifact
	schedules []domain.Schedule
	schedArt  lineage.Artifact
	result    domain.ValuationResult
}

func snapshotArtifact(snapshot domain.MarketDataSnapshot) (lineage.Artifact, error) {
	hash, b, err := repo.SnapshotHash(snapshot)
	if err != nil {
		return lineage.Artifact{}, err
	}
	return lineage.Artifact{Kind: ArtifactSnapshot, Hash: hash, Bytes: b}, nil
}

func validationArtifact(run domain.Run, snapshot domain.MarketDataSnapshot) (lineage.Artifact, error) {
	return lineage.NewArtifact(ArtifactValidation, validation{
		Spec:          run.Spec,
		SnapshotHash:  run.SnapshotHash,
		ModelVersion:  run.ModelVersion,
		ModelHash:     run.ModelHash,
		ValuationDate: snapshot.ValuationDate,
		Curves:        run.Spec.CurveNames(),
	})
}

func (s *Service) recordValidation(ctx context.Context, rec *lineage.Recorder, run domain.Run, snapshot domain.MarketDataSnapshot) error {
	specArt, err := lineage.NewArtifact(ArtifactInstrument, run.Spec)
	if err != nil {
		return err
	}
	snapArt, err := snapshotArtifact(snapshot)
	if err != nil {
		return err
	}
	modelArt, err := lineage.NewArtifact(ArtifactModel, describeModel(s.cfg, run.ModelVersion))
	if err != nil {
		return err
	}
	out, err := validationArtifact(run, snapshot)
	if err != nil {
		return err
	}
	_, err = rec.Record(ctx, domain.StageValidate, []lineage.Artifact{specArt, snapArt, modelArt}, out)
	return err
}

type stage struct {
	name string
	run  func(ctx context.Context, st *state, rec *lineage.Recorder) error
}

func (s *Service) stages() []stage {
	return []stage{
		{name: domain.StageBootstrap, run: s.bootstrap},
		{name: domain.StageSchedule, run: s.schedule},
		{name: domain.StagePrice, run: s.price},
	}
}

func (s *Service) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	log := s.logger.With("worker", workerID)
	log.Debug("worker started")
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopping {
			s.wake.Wait()
		}
		if s.stopping {
			s.mu.Unlock()
			log.Debug("worker stopped")
			return
		}
		id := s.queue[0]
		s.queue = s.queue[1:]
		s.active[id] = true
		s.mu.Unlock()

		s.execute(ctx, id, log.With("run_id", id))
	}
}

func (s *Service) execute(ctx context.Context, id string, log *slog.Logger) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		log.Error("load queued run", "error", err)
		s.release(id)
		return
	}
	st := &state{run: run}
	current := ""
	var rec *lineage.Recorder
	defer func() {
		if v := recover(); v != nil {
			log.Error("run panicked", "stage", current, "panic", v)
			if rec != nil {
				st.keep(rec)
			}
			s.fail(ctx, &st.run, current, fmt.Errorf("panic: %v", v))
		}
	}()

	if s.cancelRequested(id) {
		s.fail(ctx, &st.run, "", fmt.Errorf("%w before start", domain.ErrCancelled))
		return
	}
	if err := s.advance(ctx, &st.run, domain.RunStateRunning); err != nil {
		s.fail(ctx, &st.run, "", err)
		return
	}
	log.Info("run started")

	st.snapshot, err = s.snapshots.Get(ctx, st.run.SnapshotHash)
	if err != nil {
		s.fail(ctx, &st.run, domain.StageBootstrap, fmt.Errorf("load snapshot: %w", err))
		return
	}
	if st.snapArt, err = snapshotArtifact(st.snapshot); err != nil {
		s.fail(ctx, &st.run, domain.StageBootstrap, err)
		return
	}
	if st.validation, err = validationArtifact(st.run, st.snapshot); err != nil {
		s.fail(ctx, &st.run, domain.StageBootstrap, err)
		return
	}

	rec = lineage.NewRecorder(s.artifacts, st.run.Lineage, s.cfg.Now)
	for _, stg := range s.stages() {
		current = stg.name
		if s.cfg.beforeStage != nil {
			s.cfg.beforeStage(id, stg.name)
		}
		if s.cancelRequested(id) {
			st.keep(rec)
			s.fail(ctx, &st.run, stg.name, fmt.Errorf("%w before %s", domain.ErrCancelled, stg.name))
			return
		}
		started := time.Now()
		if err := stg.run(ctx, st, rec); err != nil {
			st.keep(rec)
			s.fail(ctx, &st.run, stg.name, err)
			return
		}
		log.Debug("stage finished", "stage", stg.name, "duration_ms", time.Since(started).Milliseconds())
	}

	st.keep(rec)
	result := st.result
	st.run.Result = &result
	if err := s.advance(ctx, &st.run, domain.RunStateCompleted); err != nil {
		s.fail(ctx, &st.run, domain.StagePrice, err)
		return
	}
	log.Info("run completed", "total_pv", result.TotalPV, "lineage_head", st.run.Lineage.Head())
}

// keep copies the partial artifacts onto the run record.
func (st *state) keep(rec *lineage.Recorder) {
	st.run.Lineage = rec.Lineage()
	st.run.Curves = st.curves
	st.run.Schedules = st.schedules
}

func (s *Service) bootstrap(ctx context.Context, st *state, rec *lineage.Recorder) error {
	names := st.run.Spec.CurveNames()
	curves := make([]domain.Curve, 0, len(names))
	for _, name := range names {
		c, err := curve.Bootstrap(name, st.snapshot.Curves[name], st.snapshot.ValuationDate, s.cfg.Curve)
		if err != nil {
			return err
		}
		curves = append(curves, c)
	}
	out, err := lineage.NewArtifact(ArtifactCurves, curves)
	if err != nil {
		return err
	}
	if _, err := rec.Record(ctx, domain.StageBootstrap, []lineage.Artifact{st.validation, st.snapArt}, out); err != nil {
		return err
	}
	st.curves, st.curvesArt = curves, out
	return nil
}

func (s *Service) schedule(ctx context.Context, st *state, rec *lineage.Recorder) error {
	schedules, err := legSchedules(st.run.Spec, s.cfg, s.cfg.PaymentLagDays)
	if err != nil {
		return err
	}
	out, err := lineage.NewArtifact(ArtifactSchedules, schedules)
	if err != nil {
		return err
	}
	if _, err := rec.Record(ctx, domain.StageSchedule, []lineage.Artifact{st.validation}, out); err != nil {
		return err
	}
	st.schedules, st.schedArt = schedules, out
	return nil
}

func (s *Service) price(ctx context.Context, st *state, rec *lineage.Recorder) error {
	inputs := []lineage.Artifact{st.validation, st.curvesArt, st.schedArt}
	fx, err := fxRate(st.run.Spec, st.snapshot)
	if err != nil {
		return err
	}
	if st.run.Spec.Kind == domain.KindCCS {
		fxArt, err := lineage.NewArtifact(ArtifactFX, fx)
		if err != nil {
			return err
		}
		inputs = append(inputs, fxArt)
	}

	result, err := pricer.Price(st.run.Spec, st.schedules, st.curves, fx.Rate)
	if err != nil {
		return err
	}
	sens, err := pricer.Sensitivities(ctx, pricer.SensitivityInput{
		Spec:          st.run.Spec,
		Schedules:     st.schedules,
		Curves:        st.curves,
		Quotes:        st.snapshot.Curves,
		FXRate:        fx.Rate,
		BasePV:        result.TotalPV,
		ValuationDate: st.snapshot.ValuationDate,
	}, s.cfg.Sensitivity)
	if err != nil {
		return err
	}
	result.Sensitivities = sens

	out, err := lineage.NewArtifact(ArtifactResult, result)
	if err != nil {
		return err
	}
	if _, err := rec.Record(ctx, domain.StagePrice, inputs, out); err != nil {
		return err
	}
	st.result = result
	return nil
}

type legParams struct {
	name string
	freq domain.Frequency
	dc   domain.DayCount
}

func legSchedules(spec domain.InstrumentSpec, cfg Config, paymentLag int) ([]domain.Schedule, error) {
	effective, maturity := spec.Dates()
	var calName string
	var bdc domain.BusinessDayConvention
	var legs []legParams
	switch spec.Kind {
	case domain.KindIRS:
		s := spec.IRS
		calName, bdc = s.Calendar, s.BusinessDay
		legs = []legParams{
			{pricer.LegFixed, s.FixedFrequency, s.FixedDayCount},
			{pricer.LegFloat, s.FloatFrequency, s.FloatDayCount},
		}
	case domain.KindCCS:
		s := spec.CCS
		calName, bdc = s.Calendar, s.BusinessDay
		legs = []legParams{
			{pricer.LegFixed, s.FixedFrequency, s.FixedDayCount},
			{pricer.LegFloat, s.ForeignFrequency, s.ForeignDayCount},
		}
	default:
		return nil, &schedule.InvalidScheduleError{Reason: fmt.Sprintf("unsupported instrument kind %q", spec.Kind)}
	}
	cal, err := cfg.Calendars.Lookup(calName)
	if err != nil {
		return nil, &schedule.InvalidScheduleError{Reason: err.Error()}
	}

	out := make([]domain.Schedule, 0, len(legs))
	for _, leg := range legs {
		sched, err := schedule.Generate(schedule.Params{
			Leg:               leg.name,
			Effective:         effective,
			Maturity:          maturity,
			Frequency:         leg.freq,
			DayCount:          leg.dc,
			Calendar:          cal,
			BusinessDay:       bdc,
			StubToleranceDays: cfg.Instrument.StubToleranceDays,
			PaymentLagDays:    paymentLag,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, nil
}

func fxRate(spec domain.InstrumentSpec, snapshot domain.MarketDataSnapshot) (fxInput, error) {
	if spec.Kind != domain.KindCCS || spec.CCS == nil {
		return fxInput{}, nil
	}
	in := fxInput{Pair: spec.CCS.FXPair(), Fixing: string(spec.CCS.FXFixing)}
	switch spec.CCS.FXFixing {
	case domain.FXFixingContract:
		in.Rate = spec.CCS.FXRate.InexactFloat64()
	default:
		rate, ok := snapshot.FXRate(in.Pair)
		if !ok {
			return fxInput{}, &pricer.PricingError{Reason: fmt.Sprintf("fx rate %s not in snapshot", in.Pair)}
		}
		in.Rate = rate.InexactFloat64()
	}
	if in.Rate <= 0 {
		return fxInput{}, &pricer.PricingError{Reason: fmt.Sprintf("fx rate %s must be positive", in.Pair)}
	}
	return in, nil
}
