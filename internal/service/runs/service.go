package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/swapval/internal/calendar"
	"github.com/animus-labs/swapval/internal/curve"
	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/instrument"
	"github.com/animus-labs/swapval/internal/lineage"
	"github.com/animus-labs/swapval/internal/pricer"
	"github.com/animus-labs/swapval/internal/repo"
)

// TransitionAuditor receives every persisted state change.
type TransitionAuditor interface {
	RecordTransition(ctx context.Context, run domain.Run, from, to domain.RunState) error
}

type Config struct {
	Workers        int
	ModelVersion   string
	PaymentLagDays int
	Instrument     instrument.Options
	Curve          curve.Options
	Sensitivity    pricer.SensitivityOptions
	Calendars      *calendar.Registry
	Auditor        TransitionAuditor
	Logger         *slog.Logger
	Now            func() time.Time
	NewID          func() string

	// PollInterval, when positive, makes a started service adopt runs that
	// other processes sharing the run store left queued.
	PollInterval time.Duration

	// beforeStage runs ahead of each worker stage; tests use it to hold a run.
	beforeStage func(runID, stage string)
}

type SubmitRequest struct {
	Spec         domain.InstrumentSpec
	SnapshotHash string
	// ModelVersion overrides the service default when set.
	ModelVersion string
}

// Status is the externally visible progress of a run.
type Status struct {
	ID          string              `json:"id"`
	State       domain.RunState     `json:"state"`
	Error       *domain.RunError    `json:"error,omitempty"`
	Transitions []domain.Transition `json:"transitions"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type Service struct {
	runs      repo.RunRepository
	snapshots repo.SnapshotRepository
	artifacts lineage.ArtifactStore
	cfg       Config
	logger    *slog.Logger
	modelHash string

	mu        sync.Mutex
	wake      *sync.Cond
	queue     []string
	active    map[string]bool // submitting or running in this process
	cancelled map[string]bool
	done      map[string]chan struct{}
	started   bool
	stopping  bool
	halt      chan struct{}
	wg        sync.WaitGroup
}

func New(runRepo repo.RunRepository, snapshotRepo repo.SnapshotRepository, artifacts lineage.ArtifactStore, cfg Config) (*Service, error) {
	if runRepo == nil || snapshotRepo == nil || artifacts == nil {
		return nil, errors.New("run, snapshot and artifact stores are required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if strings.TrimSpace(cfg.ModelVersion) == "" {
		return nil, errors.New("model version is required")
	}
	if cfg.Calendars == nil {
		cfg.Calendars = calendar.NewRegistry()
	}
	if cfg.Instrument.Calendars == nil {
		cfg.Instrument.Calendars = cfg.Calendars
	}
	if cfg.Instrument.MaxFixedRate.IsZero() && cfg.Instrument.MinFixedRate.IsZero() {
		stub := cfg.Instrument.StubToleranceDays
		cfg.Instrument = instrument.DefaultOptions(cfg.Calendars)
		if stub > 0 {
			cfg.Instrument.StubToleranceDays = stub
		}
	}
	if cfg.Curve.Method == "" {
		cfg.Curve = curve.DefaultOptions()
	}
	if cfg.Sensitivity.BumpsBP == nil && cfg.Sensitivity.FXShifts == nil {
		cfg.Sensitivity = pricer.DefaultSensitivityOptions()
	}
	// Bumped curves must be rebuilt exactly like the base curves.
	cfg.Sensitivity.Curve = cfg.Curve
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	modelHash, err := modelConfigHash(cfg)
	if err != nil {
		return nil, err
	}
	s := &Service{
		runs:      runRepo,
		snapshots: snapshotRepo,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    cfg.Logger,
		modelHash: modelHash,
		active:    map[string]bool{},
		cancelled: map[string]bool{},
		done:      map[string]chan struct{}{},
		halt:      make(chan struct{}),
	}
	s.wake = sync.NewCond(&s.mu)
	return s, nil
}

// ModelHash identifies the pricing configuration every run of this service uses.
func (s *Service) ModelHash() string { return s.modelHash }

// Start recovers runs left in the run store by an earlier process and
// launches the worker pool. Runs submitted earlier are already queued and are
// picked up in order. Cancelling ctx stops dequeuing.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("run workers starting", "workers", s.cfg.Workers, "model_version", s.cfg.ModelVersion)
	base := context.WithoutCancel(ctx)
	s.recoverRuns(base)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(base, i+1)
	}
	if s.cfg.PollInterval > 0 {
		go s.poll(ctx, base)
	}
	go func() {
		<-ctx.Done()
		s.drain(base, "service context cancelled")
	}()
}

// Shutdown stops dequeuing, fails runs still waiting in the queue and waits
// for in-flight runs to finish or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.drain(context.WithoutCancel(ctx), "service shutting down")

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.logger.Info("run workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (s *Service) drain(ctx context.Context, reason string) {
	s.mu.Lock()
	if !s.stopping {
		close(s.halt)
	}
	s.stopping = true
	pending := s.queue
	s.queue = nil
	s.wake.Broadcast()
	s.mu.Unlock()

	for _, id := range pending {
		s.failByID(ctx, id, "", fmt.Errorf("%w: %s", domain.ErrCancelled, reason))
	}
}

// Submit validates and admits a run. An invalid instrument or unknown
// snapshot returns an error without creating a run. A market data failure
// returns both the id of the failed run and the validation error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return "", ErrStopped
	}

	spec, err := instrument.Validate(req.Spec, s.cfg.Instrument)
	if err != nil {
		return "", err
	}
	snapshot, err := s.snapshots.Get(ctx, req.SnapshotHash)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", req.SnapshotHash, err)
	}
	modelVersion := strings.TrimSpace(req.ModelVersion)
	if modelVersion == "" {
		modelVersion = s.cfg.ModelVersion
	}

	now := s.cfg.Now()
	run := domain.Run{
		ID:           s.cfg.NewID(),
		Spec:         spec,
		SnapshotHash: strings.TrimSpace(req.SnapshotHash),
		ModelVersion: modelVersion,
		ModelHash:    s.modelHash,
		State:        domain.RunStatePending,
		Transitions:  []domain.Transition{{State: domain.RunStatePending, At: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	run.Lineage.RunID = run.ID
	// Tracked before it is stored so recovery never mistakes it for an orphan.
	s.track(run.ID)
	if err := s.runs.Create(ctx, run); err != nil {
		s.release(run.ID)
		return "", fmt.Errorf("create run: %w", err)
	}
	s.audit(ctx, run, "")
	log := s.logger.With("run_id", run.ID)
	log.Info("run created", "kind", spec.Kind, "snapshot_hash", run.SnapshotHash)

	if err := instrument.ValidateMarketData(spec, snapshot); err != nil {
		s.fail(ctx, &run, domain.StageValidate, err)
		return run.ID, err
	}

	rec := lineage.NewRecorder(s.artifacts, run.Lineage, s.cfg.Now)
	if err := s.recordValidation(ctx, rec, run, snapshot); err != nil {
		s.fail(ctx, &run, domain.StageValidate, err)
		return run.ID, err
	}
	run.Lineage = rec.Lineage()
	if err := s.advance(ctx, &run, domain.RunStateValidated); err != nil {
		s.fail(ctx, &run, domain.StageValidate, err)
		return run.ID, err
	}
	if err := s.advance(ctx, &run, domain.RunStateQueued); err != nil {
		s.fail(ctx, &run, domain.StageValidate, err)
		return run.ID, err
	}

	s.mu.Lock()
	switch {
	case s.cancelled[run.ID]:
		err = fmt.Errorf("%w before admission", domain.ErrCancelled)
	case s.stopping:
		err = fmt.Errorf("%w: service shutting down", domain.ErrCancelled)
	default:
		s.queue = append(s.queue, run.ID)
		delete(s.active, run.ID)
		s.wake.Signal()
	}
	s.mu.Unlock()
	if err != nil {
		s.fail(ctx, &run, "", err)
		return run.ID, nil
	}
	log.Debug("run queued")
	return run.ID, nil
}

// Cancel removes a queued run or flags a running one. Terminal runs are left
// as they are.
func (s *Service) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			s.mu.Unlock()
			s.logger.Info("queued run cancelled", "run_id", id)
			s.failByID(ctx, id, "", fmt.Errorf("%w while queued", domain.ErrCancelled))
			return nil
		}
	}
	if s.active[id] {
		s.cancelled[id] = true
		s.mu.Unlock()
		s.logger.Info("run cancellation requested", "run_id", id)
		return nil
	}
	s.mu.Unlock()

	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return nil
	}
	// Not owned by this process, e.g. left over from a previous one.
	s.fail(ctx, &run, "", fmt.Errorf("%w: run not owned by a worker", domain.ErrCancelled))
	return nil
}

func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return statusOf(run), nil
}

func statusOf(run domain.Run) Status {
	return Status{
		ID:          run.ID,
		State:       run.State,
		Error:       run.Error,
		Transitions: run.Transitions,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
	}
}

// Result returns the valuation of a completed run.
func (s *Service) Result(ctx context.Context, id string) (domain.ValuationResult, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return domain.ValuationResult{}, err
	}
	if run.State != domain.RunStateCompleted || run.Result == nil {
		return domain.ValuationResult{}, ErrNotReady
	}
	return *run.Result, nil
}

// Run returns the full run record including curves and schedules.
func (s *Service) Run(ctx context.Context, id string) (domain.Run, error) {
	return s.runs.Get(ctx, id)
}

// Lineage returns the recorded chain once at least one entry exists.
func (s *Service) Lineage(ctx context.Context, id string) (domain.LineageRecord, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return domain.LineageRecord{}, err
	}
	if len(run.Lineage.Entries) == 0 {
		return domain.LineageRecord{}, ErrNotReady
	}
	return run.Lineage, nil
}

// VerifyLineage recomputes the chain of a run against the artifact store and
// checks that the curves, schedules and result held on the run record are
// the outputs the chain recorded.
func (s *Service) VerifyLineage(ctx context.Context, id string) (bool, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if len(run.Lineage.Entries) == 0 {
		return false, ErrNotReady
	}
	ok, err := lineage.Verify(ctx, s.artifacts, run.Lineage)
	if err != nil || !ok {
		return false, err
	}
	return recordMatchesLineage(run)
}

// recordMatchesLineage re-canonicalizes the stage outputs persisted on run and
// compares them with the output hash of the matching lineage entry.
func recordMatchesLineage(run domain.Run) (bool, error) {
	recorded := make(map[string]string, len(run.Lineage.Entries))
	for _, e := range run.Lineage.Entries {
		recorded[e.Stage] = e.OutputHash
	}
	outputs := []struct {
		stage string
		kind  string
		value any
		held  bool
	}{
		{domain.StageBootstrap, ArtifactCurves, run.Curves, run.Curves != nil},
		{domain.StageSchedule, ArtifactSchedules, run.Schedules, run.Schedules != nil},
		{domain.StagePrice, ArtifactResult, run.Result, run.Result != nil},
	}
	for _, out := range outputs {
		hash, ok := recorded[out.stage]
		switch {
		case !ok && !out.held:
			continue
		case !ok:
			return false, nil
		case !out.held:
			// A failed run may have recorded a stage without keeping its output.
			if run.State == domain.RunStateCompleted {
				return false, nil
			}
			continue
		}
		art, err := lineage.NewArtifact(out.kind, out.value)
		if err != nil {
			return false, err
		}
		if art.Hash != hash {
			return false, nil
		}
	}
	return true, nil
}

// Wait blocks until the run is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (Status, error) {
	s.mu.Lock()
	ch := s.done[id]
	s.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
		return s.Status(ctx, id)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := s.Status(ctx, id)
		if err != nil {
			return Status{}, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Status{}, ctx.Err()
		}
	}
}

func (s *Service) track(id string) {
	s.mu.Lock()
	s.active[id] = true
	s.done[id] = make(chan struct{})
	s.mu.Unlock()
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.active, id)
	delete(s.cancelled, id)
	if ch, ok := s.done[id]; ok {
		close(ch)
		delete(s.done, id)
	}
	s.mu.Unlock()
}

func (s *Service) cancelRequested(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id]
}

// advance moves run to next and persists it. run is only updated once the
// repository accepted the new state.
func (s *Service) advance(ctx context.Context, run *domain.Run, next domain.RunState) error {
	from := run.State
	if !domain.CanTransitionRunState(from, next) {
		return fmt.Errorf("invalid transition %s -> %s", from, next)
	}
	now := s.cfg.Now()
	out := *run
	out.State = next
	out.Transitions = append(append([]domain.Transition(nil), run.Transitions...), domain.Transition{State: next, At: now})
	out.UpdatedAt = now
	if next == domain.RunStateCompleted {
		if err := s.runs.CompleteRun(ctx, out); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	} else if err := s.runs.Update(ctx, out); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	*run = out
	s.audit(ctx, *run, from)
	if next.Terminal() {
		s.release(run.ID)
	}
	return nil
}

// fail records the failure on run. It never returns an error: if the state
// cannot be persisted the problem is logged.
func (s *Service) fail(ctx context.Context, run *domain.Run, stage string, cause error) {
	runErr := classify(stage, cause)
	from := run.State
	if from.Terminal() {
		s.release(run.ID)
		return
	}
	now := s.cfg.Now()
	run.State = domain.RunStateFailed
	run.Error = runErr
	run.Result = nil
	run.Transitions = append(run.Transitions, domain.Transition{State: domain.RunStateFailed, At: now})
	run.UpdatedAt = now
	log := s.logger.With("run_id", run.ID, "stage", stage)
	if err := s.runs.Update(ctx, *run); err != nil {
		log.Error("persist failed run", "error", err, "cause", cause)
	} else {
		log.Warn("run failed", "kind", runErr.Kind, "error", runErr.Message)
		s.audit(ctx, *run, from)
	}
	s.release(run.ID)
}

func (s *Service) failByID(ctx context.Context, id, stage string, cause error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		s.logger.Error("load run to fail", "run_id", id, "error", err)
		s.release(id)
		return
	}
	s.fail(ctx, &run, stage, cause)
}

func (s *Service) audit(ctx context.Context, run domain.Run, from domain.RunState) {
	if s.cfg.Auditor == nil {
		return
	}
	if err := s.cfg.Auditor.RecordTransition(ctx, run, from, run.State); err != nil {
		s.logger.Error("audit transition", "run_id", run.ID, "state", run.State, "error", err)
	}
}
