package runs

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/instrument"
	"github.com/animus-labs/swapval/internal/lineage"
	"github.com/animus-labs/swapval/internal/repo"
	"github.com/animus-labs/swapval/internal/repo/memory"
)

var valuationDate = domain.Day(2025, time.January, 6)

func irsSpec() domain.InstrumentSpec {
	return domain.InstrumentSpec{
		Kind: domain.KindIRS,
		IRS: &domain.IRSSpec{
			Currency:       "USD",
			Notional:       decimal.NewFromInt(10_000_000),
			FixedRate:      decimal.RequireFromString("0.041"),
			FloatIndex:     domain.IndexSOFR,
			Effective:      valuationDate,
			Maturity:       domain.Day(2027, time.January, 6),
			FixedFrequency: domain.FrequencySemiAnnual,
			FloatFrequency: domain.FrequencyQuarterly,
			FixedDayCount:  domain.DayCount30360,
			FloatDayCount:  domain.DayCountACT360,
			Calendar:       "USD",
		},
	}
}

func ccsSpec() domain.InstrumentSpec {
	return domain.InstrumentSpec{
		Kind: domain.KindCCS,
		CCS: &domain.CCSSpec{
			Currency:         "USD",
			Notional:         decimal.NewFromInt(11_000_000),
			FixedRate:        decimal.RequireFromString("0.04"),
			FloatIndex:       domain.IndexSOFR,
			FixedFrequency:   domain.FrequencyAnnual,
			FixedDayCount:    domain.DayCountACT360,
			ForeignCurrency:  "EUR",
			ForeignNotional:  decimal.NewFromInt(10_000_000),
			ForeignIndex:     domain.IndexESTR,
			ForeignFrequency: domain.FrequencyQuarterly,
			ForeignDayCount:  domain.DayCountACT360,
			ExchangeNotional: true,
			Effective:        valuationDate,
			Maturity:         domain.Day(2027, time.January, 6),
			Calendar:         "USD+TARGET",
		},
	}
}

func quote(tenor, rate string, kind domain.QuoteKind) domain.Quote {
	return domain.Quote{Tenor: tenor, Rate: decimal.RequireFromString(rate), Kind: kind}
}

func testSnapshot() domain.MarketDataSnapshot {
	return domain.MarketDataSnapshot{
		AsOf:          valuationDate.Add(17 * time.Hour),
		ValuationDate: valuationDate,
		Curves: map[string][]domain.Quote{
			"SOFR": {
				quote("3M", "0.043", domain.QuoteDeposit),
				quote("1Y", "0.042", domain.QuoteZero),
				quote("2Y", "0.040", domain.QuoteZero),
				quote("3Y", "0.039", domain.QuoteZero),
			},
			"ESTR": {
				quote("3M", "0.029", domain.QuoteDeposit),
				quote("1Y", "0.028", domain.QuoteZero),
				quote("3Y", "0.026", domain.QuoteZero),
			},
		},
		FXRates: map[string]decimal.Decimal{"EURUSD": decimal.RequireFromString("1.085")},
	}
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAuditor) RecordTransition(_ context.Context, run domain.Run, from, to domain.RunState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, string(from)+">"+string(to))
	return nil
}

type fixture struct {
	svc       *Service
	runs      *memory.RunStore
	snapshots *memory.SnapshotStore
	artifacts *lineage.MemoryStore
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		runs:      memory.NewRunStore(),
		snapshots: memory.NewSnapshotStore(),
		artifacts: lineage.NewMemoryStore(),
	}
	cfg := Config{
		Workers:      2,
		ModelVersion: "test-1",
		Instrument:   instrument.Options{StubToleranceDays: 7},
		Now:          func() time.Time { return time.Unix(1736200000, 0).UTC() },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(f.runs, f.snapshots, f.artifacts, cfg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	f.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return f
}

func (f *fixture) putSnapshot(t *testing.T, snap domain.MarketDataSnapshot) string {
	t.Helper()
	hash, err := f.snapshots.Put(context.Background(), snap)
	if err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	return hash
}

func waitTerminal(t *testing.T, svc *Service, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := svc.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait() err=%v", err)
	}
	return st
}

func TestSubmitCompletesIRS(t *testing.T) {
	auditor := &recordingAuditor{}
	f := newFixture(t, func(c *Config) { c.Auditor = auditor })
	ctx := context.Background()
	f.svc.Start(ctx)

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	st := waitTerminal(t, f.svc, id)
	if st.State != domain.RunStateCompleted {
		t.Fatalf("state=%s err=%+v, want completed", st.State, st.Error)
	}

	var states []domain.RunState
	for _, tr := range st.Transitions {
		states = append(states, tr.State)
	}
	want := []domain.RunState{
		domain.RunStatePending, domain.RunStateValidated, domain.RunStateQueued,
		domain.RunStateRunning, domain.RunStateCompleted,
	}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}

	result, err := f.svc.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result() err=%v", err)
	}
	if math.IsNaN(result.TotalPV) || result.Currency != "USD" || len(result.Legs) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	fixed, _ := result.Leg("fixed")
	float, _ := result.Leg("float")
	if len(fixed.Cashflows) != 4 || len(float.Cashflows) != 8 {
		t.Fatalf("cashflows fixed=%d float=%d, want 4 and 8", len(fixed.Cashflows), len(float.Cashflows))
	}
	if math.Abs(result.TotalPV-(fixed.PVDomestic-float.PVDomestic)) > 1e-9 {
		t.Fatalf("total pv %v is not fixed minus float", result.TotalPV)
	}
	for _, key := range []string{"SOFR:+1bp", "SOFR:-1bp", "SOFR:+10bp", "SOFR:-10bp", "SOFR:pv01"} {
		if _, ok := result.Sensitivities[key]; !ok {
			t.Fatalf("missing sensitivity %s in %v", key, result.Sensitivities)
		}
	}
	if len(result.DiscountFactors["SOFR"]) == 0 {
		t.Fatalf("expected discount factors used")
	}

	record, err := f.svc.Lineage(ctx, id)
	if err != nil {
		t.Fatalf("Lineage() err=%v", err)
	}
	if diff := cmp.Diff([]string{"validate", "bootstrap", "schedule", "price"}, record.Stages()); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
	ok, err := f.svc.VerifyLineage(ctx, id)
	if err != nil || !ok {
		t.Fatalf("VerifyLineage() = %v, %v", ok, err)
	}

	run, _ := f.svc.Run(ctx, id)
	if len(run.Curves) != 1 || len(run.Schedules) != 2 {
		t.Fatalf("expected persisted curves and schedules, got %d and %d", len(run.Curves), len(run.Schedules))
	}

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	if diff := cmp.Diff([]string{">pending", "pending>validated", "validated>queued", "queued>running", "running>completed"}, auditor.events); diff != "" {
		t.Fatalf("audit events mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitCompletesCCS(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.Start(ctx)

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: ccsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if st := waitTerminal(t, f.svc, id); st.State != domain.RunStateCompleted {
		t.Fatalf("state=%s err=%+v, want completed", st.State, st.Error)
	}
	result, err := f.svc.Result(ctx, id)
	if err != nil {
		t.Fatalf("Result() err=%v", err)
	}
	if result.FXRate != 1.085 {
		t.Fatalf("fx rate=%v, want 1.085", result.FXRate)
	}
	float, _ := result.Leg("float")
	if float.Currency != "EUR" || math.Abs(float.PVDomestic-float.PV*1.085) > 1e-6 {
		t.Fatalf("foreign leg not converted: %+v", float)
	}
	for _, key := range []string{"ESTR:pv01", "SOFR:pv01", "fx:+1%", "fx:-1%"} {
		if _, ok := result.Sensitivities[key]; !ok {
			t.Fatalf("missing sensitivity %s in %v", key, result.Sensitivities)
		}
	}
}

func TestRunsAreDeterministic(t *testing.T) {
	var results []domain.ValuationResult
	var chains [][]string
	var curves [][]domain.Curve
	for i := 0; i < 2; i++ {
		f := newFixture(t, func(c *Config) {
			c.Now = func() time.Time { return time.Now().UTC() }
			c.Sensitivity.BumpsBP = []float64{-1, 1}
			c.Sensitivity.Parallelism = i + 1
		})
		ctx := context.Background()
		f.svc.Start(ctx)
		id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
		if err != nil {
			t.Fatalf("Submit() err=%v", err)
		}
		waitTerminal(t, f.svc, id)
		run, err := f.svc.Run(ctx, id)
		if err != nil || run.Result == nil {
			t.Fatalf("Run() = %+v, %v", run.Error, err)
		}
		results = append(results, *run.Result)
		curves = append(curves, run.Curves)
		var hashes []string
		for _, e := range run.Lineage.Entries {
			hashes = append(hashes, e.InputHash, e.OutputHash, e.EntryHash)
		}
		chains = append(chains, hashes)
	}
	if diff := cmp.Diff(results[0], results[1]); diff != "" {
		t.Fatalf("results differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(curves[0], curves[1]); diff != "" {
		t.Fatalf("curves differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(chains[0], chains[1]); diff != "" {
		t.Fatalf("lineage hashes differ (-first +second):\n%s", diff)
	}
}

func TestSubmitInvalidSpecCreatesNoRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	spec := irsSpec()
	spec.IRS.Notional = decimal.Zero

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: spec, SnapshotHash: f.putSnapshot(t, testSnapshot())})
	var verr *instrument.ValidationError
	if !errors.As(err, &verr) || id != "" {
		t.Fatalf("Submit() = %q, %v; want ValidationError and no id", id, err)
	}
	runs, _ := f.runs.List(ctx, repo.RunFilter{})
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}

func TestSubmitUnknownSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Submit(context.Background(), SubmitRequest{Spec: irsSpec(), SnapshotHash: "missing"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Submit() err=%v, want ErrNotFound", err)
	}
}

func TestSubmitMarketDataFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	snap := testSnapshot()
	delete(snap.Curves, "SOFR")

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, snap)})
	var verr *instrument.ValidationError
	if !errors.As(err, &verr) || id == "" {
		t.Fatalf("Submit() = %q, %v; want failed run id and ValidationError", id, err)
	}
	st, err := f.svc.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status() err=%v", err)
	}
	if st.State != domain.RunStateFailed || st.Error.Kind != domain.ErrorKindValidation || len(st.Error.Issues) == 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := f.svc.Lineage(ctx, id); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Lineage() err=%v, want ErrNotReady", err)
	}
}

func TestDuplicateTenorFailsInBootstrap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.Start(ctx)
	snap := testSnapshot()
	snap.Curves["SOFR"] = append(snap.Curves["SOFR"], quote("2Y", "0.041", domain.QuoteZero))

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, snap)})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	st := waitTerminal(t, f.svc, id)
	if st.State != domain.RunStateFailed || st.Error.Kind != domain.ErrorKindCurveConstruction || st.Error.Stage != domain.StageBootstrap {
		t.Fatalf("unexpected status %+v err=%+v", st, st.Error)
	}
	record, err := f.svc.Lineage(ctx, id)
	if err != nil {
		t.Fatalf("Lineage() err=%v", err)
	}
	if diff := cmp.Diff([]string{"validate"}, record.Stages()); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.svc.Result(ctx, id); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Result() err=%v, want ErrNotReady", err)
	}
}

func TestResultNotReadyAndNotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if st, _ := f.svc.Status(ctx, id); st.State != domain.RunStateQueued {
		t.Fatalf("state=%s, want queued before workers start", st.State)
	}
	if _, err := f.svc.Result(ctx, id); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Result() err=%v, want ErrNotReady", err)
	}
	if _, err := f.svc.Result(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Result() err=%v, want ErrNotFound", err)
	}
	if _, err := f.svc.Status(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Status() err=%v, want ErrNotFound", err)
	}
}

func TestCancelQueuedRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if err := f.svc.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel() err=%v", err)
	}
	st, _ := f.svc.Status(ctx, id)
	if st.State != domain.RunStateFailed || st.Error.Kind != domain.ErrorKindCancelled {
		t.Fatalf("unexpected status %+v", st)
	}

	// A later start must not pick the cancelled run up.
	f.svc.Start(ctx)
	if err := f.svc.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel() on terminal run err=%v", err)
	}
	if err := f.svc.Cancel(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Cancel() err=%v, want ErrNotFound", err)
	}
	if st, _ := f.svc.Status(ctx, id); st.Error.Kind != domain.ErrorKindCancelled {
		t.Fatalf("terminal run changed: %+v", st)
	}
}

func TestCancelRunningRunStopsBetweenStages(t *testing.T) {
	reached := make(chan string, 1)
	hold := make(chan struct{})
	f := newFixture(t, func(c *Config) {
		c.Workers = 1
		c.beforeStage = func(id, stage string) {
			if stage == domain.StageSchedule {
				reached <- id
				<-hold
			}
		}
	})
	ctx := context.Background()
	f.svc.Start(ctx)

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	select {
	case <-reached:
	case <-time.After(10 * time.Second):
		t.Fatalf("run never reached the schedule stage")
	}
	if err := f.svc.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel() err=%v", err)
	}
	close(hold)

	st := waitTerminal(t, f.svc, id)
	if st.State != domain.RunStateFailed || st.Error.Kind != domain.ErrorKindCancelled || st.Error.Stage != domain.StageSchedule {
		t.Fatalf("unexpected status %+v err=%+v", st, st.Error)
	}
	record, _ := f.svc.Lineage(ctx, id)
	if diff := cmp.Diff([]string{"validate", "bootstrap"}, record.Stages()); diff != "" {
		t.Fatalf("partial lineage mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.svc.Result(ctx, id); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Result() err=%v, want ErrNotReady", err)
	}
}

func TestQueueIsFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string
	f := newFixture(t, func(c *Config) {
		c.Workers = 1
		c.beforeStage = func(id, stage string) {
			if stage == domain.StageBootstrap {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
			}
		}
	})
	ctx := context.Background()
	hash := f.putSnapshot(t, testSnapshot())

	var submitted []string
	for i := 0; i < 4; i++ {
		id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: hash})
		if err != nil {
			t.Fatalf("Submit() err=%v", err)
		}
		submitted = append(submitted, id)
	}
	f.svc.Start(ctx)
	for _, id := range submitted {
		waitTerminal(t, f.svc, id)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(submitted, order); diff != "" {
		t.Fatalf("dequeue order mismatch (-want +got):\n%s", diff)
	}
}

func TestTamperedArtifactFailsVerify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.Start(ctx)
	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	waitTerminal(t, f.svc, id)
	record, err := f.svc.Lineage(ctx, id)
	if err != nil {
		t.Fatalf("Lineage() err=%v", err)
	}

	curvesHash := record.Entries[1].OutputHash
	data, err := f.artifacts.Get(ctx, curvesHash)
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	data[len(data)/2] ^= 0x01
	f.artifacts.Overwrite(curvesHash, data)

	ok, err := f.svc.VerifyLineage(ctx, id)
	if err != nil {
		t.Fatalf("VerifyLineage() err=%v", err)
	}
	if ok {
		t.Fatalf("expected verification to fail after tampering")
	}
}

func TestShutdownFailsQueuedRuns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() err=%v", err)
	}
	st, _ := f.svc.Status(ctx, id)
	if st.State != domain.RunStateFailed || st.Error.Kind != domain.ErrorKindCancelled {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit() err=%v, want ErrStopped", err)
	}
}

func TestNewRequiresStores(t *testing.T) {
	if _, err := New(nil, memory.NewSnapshotStore(), lineage.NewMemoryStore(), Config{ModelVersion: "v"}); err == nil {
		t.Fatalf("New() expected error without run store")
	}
	if _, err := New(memory.NewRunStore(), memory.NewSnapshotStore(), lineage.NewMemoryStore(), Config{}); err == nil {
		t.Fatalf("New() expected error without model version")
	}
}

func TestTamperedInputArtifactFailsVerify(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.Start(ctx)
	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	waitTerminal(t, f.svc, id)
	record, err := f.svc.Lineage(ctx, id)
	if err != nil {
		t.Fatalf("Lineage() err=%v", err)
	}

	// instrument, snapshot and model are inputs of the validate stage only.
	for i, hash := range record.Entries[0].InputHashes {
		original, err := f.artifacts.Get(ctx, hash)
		if err != nil {
			t.Fatalf("Get() err=%v", err)
		}
		tampered := append([]byte(nil), original...)
		tampered[len(tampered)/2] ^= 0x01
		f.artifacts.Overwrite(hash, tampered)

		ok, err := f.svc.VerifyLineage(ctx, id)
		if err != nil {
			t.Fatalf("VerifyLineage() err=%v", err)
		}
		if ok {
			t.Fatalf("expected verification to fail with input %d tampered", i)
		}
		f.artifacts.Overwrite(hash, original)
	}
	if ok, err := f.svc.VerifyLineage(ctx, id); err != nil || !ok {
		t.Fatalf("VerifyLineage() after restore = %v, %v", ok, err)
	}
}

// editingRunStore rewrites runs as they are read back.
type editingRunStore struct {
	*memory.RunStore
	mu   sync.Mutex
	edit func(*domain.Run)
}

func (s *editingRunStore) setEdit(edit func(*domain.Run)) {
	s.mu.Lock()
	s.edit = edit
	s.mu.Unlock()
}

func (s *editingRunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	run, err := s.RunStore.Get(ctx, id)
	s.mu.Lock()
	edit := s.edit
	s.mu.Unlock()
	if err == nil && edit != nil {
		edit(&run)
	}
	return run, err
}

func TestVerifyLineageChecksRunRecord(t *testing.T) {
	store := &editingRunStore{RunStore: memory.NewRunStore()}
	snapshots := memory.NewSnapshotStore()
	svc, err := New(store, snapshots, lineage.NewMemoryStore(), Config{ModelVersion: "test-1"})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	ctx := context.Background()
	svc.Start(ctx)

	hash, err := snapshots.Put(ctx, testSnapshot())
	if err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	id, err := svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: hash})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if st := waitTerminal(t, svc, id); st.State != domain.RunStateCompleted {
		t.Fatalf("state=%s err=%+v, want completed", st.State, st.Error)
	}
	if ok, err := svc.VerifyLineage(ctx, id); err != nil || !ok {
		t.Fatalf("VerifyLineage() = %v, %v on untouched run", ok, err)
	}

	tests := []struct {
		name string
		edit func(*domain.Run)
	}{
		{name: "total pv", edit: func(r *domain.Run) { r.Result.TotalPV += 1 }},
		{name: "sensitivity", edit: func(r *domain.Run) { r.Result.Sensitivities["SOFR:pv01"] *= 2 }},
		{name: "result dropped", edit: func(r *domain.Run) { r.Result = nil }},
		{name: "curve point", edit: func(r *domain.Run) { r.Curves[0].Points[1].DiscountFactor -= 1e-6 }},
		{name: "schedule period", edit: func(r *domain.Run) { r.Schedules[0].Periods[0].DayCountFraction += 0.01 }},
		{name: "curves dropped", edit: func(r *domain.Run) { r.Curves = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.setEdit(tt.edit)
			defer store.setEdit(nil)
			ok, err := svc.VerifyLineage(ctx, id)
			if err != nil {
				t.Fatalf("VerifyLineage() err=%v", err)
			}
			if ok {
				t.Fatalf("expected verification to fail for edited %s", tt.name)
			}
		})
	}
}

func TestStartRecoversPersistedRuns(t *testing.T) {
	var mu sync.Mutex
	var order []string
	f := newFixture(t, func(c *Config) {
		c.Workers = 1
		c.beforeStage = func(id, stage string) {
			if stage == domain.StageBootstrap {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
			}
		}
	})
	ctx := context.Background()
	hash := f.putSnapshot(t, testSnapshot())

	// A previous process admitted these runs and went away without running them.
	ids := []string{"run-b", "run-a", "run-c"}
	tick := time.Unix(1736100000, 0).UTC()
	previous, err := New(f.runs, f.snapshots, f.artifacts, Config{
		ModelVersion: "test-1",
		Now: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
		NewID: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := previous.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: hash}); err != nil {
			t.Fatalf("Submit() err=%v", err)
		}
	}

	running, err := f.runs.Get(ctx, "run-c")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	running.State = domain.RunStateRunning
	running.Transitions = append(running.Transitions, domain.Transition{State: domain.RunStateRunning, At: tick})
	if err := f.runs.Update(ctx, running); err != nil {
		t.Fatalf("Update() err=%v", err)
	}
	pending := running.Clone()
	pending.ID = "run-d"
	pending.State = domain.RunStatePending
	pending.Transitions = []domain.Transition{{State: domain.RunStatePending, At: tick}}
	pending.Lineage = domain.LineageRecord{RunID: "run-d"}
	if err := f.runs.Create(ctx, pending); err != nil {
		t.Fatalf("Create() err=%v", err)
	}

	f.svc.Start(ctx)
	for _, id := range []string{"run-b", "run-a"} {
		if st := waitTerminal(t, f.svc, id); st.State != domain.RunStateCompleted {
			t.Fatalf("%s state=%s err=%+v, want completed", id, st.State, st.Error)
		}
		if ok, err := f.svc.VerifyLineage(ctx, id); err != nil || !ok {
			t.Fatalf("VerifyLineage(%s) = %v, %v", id, ok, err)
		}
	}
	for _, id := range []string{"run-c", "run-d"} {
		st, err := f.svc.Status(ctx, id)
		if err != nil {
			t.Fatalf("Status() err=%v", err)
		}
		if st.State != domain.RunStateFailed || st.Error == nil || st.Error.Kind != domain.ErrorKindInternal {
			t.Fatalf("%s status=%+v err=%+v, want failed internal_error", id, st, st.Error)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"run-b", "run-a"}, order); diff != "" {
		t.Fatalf("recovered order mismatch (-want +got):\n%s", diff)
	}
}

func TestPollAdoptsRunsQueuedElsewhere(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.PollInterval = 20 * time.Millisecond })
	ctx := context.Background()
	f.svc.Start(ctx)

	submitter, err := New(f.runs, f.snapshots, f.artifacts, Config{ModelVersion: "test-1"})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	id, err := submitter.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if st := waitTerminal(t, f.svc, id); st.State != domain.RunStateCompleted {
		t.Fatalf("state=%s err=%+v, want completed", st.State, st.Error)
	}
}

func TestStatsAndReady(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Workers = 3 })
	ctx := context.Background()
	if err := f.svc.Ready(ctx); err == nil {
		t.Fatalf("Ready() expected error before Start")
	}
	if _, err := f.svc.Submit(ctx, SubmitRequest{Spec: irsSpec(), SnapshotHash: f.putSnapshot(t, testSnapshot())}); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if diff := cmp.Diff(Stats{Workers: 3, Queued: 1}, f.svc.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}

	f.svc.Start(ctx)
	if err := f.svc.Ready(ctx); err != nil {
		t.Fatalf("Ready() err=%v", err)
	}
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() err=%v", err)
	}
	if err := f.svc.Ready(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("Ready() err=%v, want ErrStopped", err)
	}
	if st := f.svc.Stats(); !st.Stopping || st.Queued != 0 {
		t.Fatalf("unexpected stats after shutdown %+v", st)
	}
}

func TestDefaultStubToleranceAcceptsMonthEndRoll(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Instrument = instrument.Options{} })
	ctx := context.Background()
	f.svc.Start(ctx)

	spec := irsSpec()
	spec.IRS.Effective = domain.Day(2024, time.February, 29)
	spec.IRS.Maturity = domain.Day(2026, time.February, 28)
	snap := testSnapshot()
	snap.ValuationDate = spec.IRS.Effective
	snap.AsOf = spec.IRS.Effective.Add(17 * time.Hour)

	id, err := f.svc.Submit(ctx, SubmitRequest{Spec: spec, SnapshotHash: f.putSnapshot(t, snap)})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if st := waitTerminal(t, f.svc, id); st.State != domain.RunStateCompleted {
		t.Fatalf("state=%s err=%+v, want completed", st.State, st.Error)
	}
}
