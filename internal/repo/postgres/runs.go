package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/swapval/internal/domain"
	"github.com/animus-labs/swapval/internal/lineage"
	"github.com/animus-labs/swapval/internal/repo"
)

const runColumns = `run_id, state, snapshot_hash, model_version, model_hash, spec, curves, schedules,
	result, lineage, error, transitions, cancel_requested, created_at, updated_at, integrity_sha256`

const (
	insertRunQuery = `INSERT INTO valuation_runs (` + runColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	selectRunByIDQuery = `SELECT ` + runColumns + ` FROM valuation_runs WHERE run_id = $1`

	// Terminal rows are never modified.
	updateRunQuery = `UPDATE valuation_runs
		SET state = $1, curves = $2, schedules = $3, result = $4, lineage = $5, error = $6,
			transitions = $7, cancel_requested = $8, updated_at = $9
		WHERE run_id = $10 AND state NOT IN ('completed', 'failed')`

	// A single statement guarded on the running state, so result and lineage
	// become visible together.
	completeRunQuery = `UPDATE valuation_runs
		SET state = $1, curves = $2, schedules = $3, result = $4, lineage = $5, error = NULL,
			transitions = $6, updated_at = $7
		WHERE run_id = $8 AND state = 'running'`
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

// runIntegrity covers the immutable identity of a run.
func runIntegrity(run domain.Run) (string, error) {
	type identity struct {
		ID           string                `json:"id"`
		Spec         domain.InstrumentSpec `json:"spec"`
		SnapshotHash string                `json:"snapshot_hash"`
		ModelVersion string                `json:"model_version"`
		ModelHash    string                `json:"model_hash"`
	}
	b, err := lineage.Canonical(identity{
		ID:           run.ID,
		Spec:         run.Spec,
		SnapshotHash: run.SnapshotHash,
		ModelVersion: run.ModelVersion,
		ModelHash:    run.ModelHash,
	})
	if err != nil {
		return "", err
	}
	return lineage.Hash(b), nil
}

type encodedRun struct {
	spec        []byte
	curves      []byte
	schedules   []byte
	result      []byte
	lineage     []byte
	runErr      []byte
	transitions []byte
}

func encodeRun(run domain.Run) (encodedRun, error) {
	var out encodedRun
	var err error
	if out.spec, err = encodeNullable(run.Spec, false); err != nil {
		return encodedRun{}, fmt.Errorf("encode spec: %w", err)
	}
	if out.curves, err = encodeNullable(run.Curves, len(run.Curves) == 0); err != nil {
		return encodedRun{}, fmt.Errorf("encode curves: %w", err)
	}
	if out.schedules, err = encodeNullable(run.Schedules, len(run.Schedules) == 0); err != nil {
		return encodedRun{}, fmt.Errorf("encode schedules: %w", err)
	}
	if out.result, err = encodeNullable(run.Result, run.Result == nil); err != nil {
		return encodedRun{}, fmt.Errorf("encode result: %w", err)
	}
	if out.lineage, err = encodeNullable(run.Lineage, false); err != nil {
		return encodedRun{}, fmt.Errorf("encode lineage: %w", err)
	}
	if out.runErr, err = encodeNullable(run.Error, run.Error == nil); err != nil {
		return encodedRun{}, fmt.Errorf("encode error: %w", err)
	}
	transitions := run.Transitions
	if transitions == nil {
		transitions = []domain.Transition{}
	}
	if out.transitions, err = encodeNullable(transitions, false); err != nil {
		return encodedRun{}, fmt.Errorf("encode transitions: %w", err)
	}
	return out, nil
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	integrity, err := runIntegrity(run)
	if err != nil {
		return fmt.Errorf("run integrity: %w", err)
	}
	if err := requireIntegrity(integrity); err != nil {
		return err
	}
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	createdAt := normalizeTime(run.CreatedAt)
	updatedAt := run.UpdatedAt.UTC()
	if run.UpdatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err = s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		string(run.State),
		strings.TrimSpace(run.SnapshotHash),
		strings.TrimSpace(run.ModelVersion),
		strings.TrimSpace(run.ModelHash),
		enc.spec,
		enc.curves,
		enc.schedules,
		enc.result,
		enc.lineage,
		enc.runErr,
		enc.transitions,
		run.CancelRequested,
		createdAt,
		updatedAt,
		integrity,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var state string
	var spec, curves, schedules, result, lineageJSON, runErr, transitions []byte
	var integrity string
	if err := row.Scan(&run.ID, &state, &run.SnapshotHash, &run.ModelVersion, &run.ModelHash,
		&spec, &curves, &schedules, &result, &lineageJSON, &runErr, &transitions,
		&run.CancelRequested, &run.CreatedAt, &run.UpdatedAt, &integrity); err != nil {
		return domain.Run{}, err
	}
	run.State = domain.NormalizeRunState(state)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	if err := decodeInto(spec, &run.Spec); err != nil {
		return domain.Run{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := decodeInto(curves, &run.Curves); err != nil {
		return domain.Run{}, fmt.Errorf("decode curves: %w", err)
	}
	if err := decodeInto(schedules, &run.Schedules); err != nil {
		return domain.Run{}, fmt.Errorf("decode schedules: %w", err)
	}
	if len(result) > 0 {
		run.Result = &domain.ValuationResult{}
		if err := decodeInto(result, run.Result); err != nil {
			return domain.Run{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if err := decodeInto(lineageJSON, &run.Lineage); err != nil {
		return domain.Run{}, fmt.Errorf("decode lineage: %w", err)
	}
	if len(runErr) > 0 {
		run.Error = &domain.RunError{}
		if err := decodeInto(runErr, run.Error); err != nil {
			return domain.Run{}, fmt.Errorf("decode error: %w", err)
		}
	}
	if err := decodeInto(transitions, &run.Transitions); err != nil {
		return domain.Run{}, fmt.Errorf("decode transitions: %w", err)
	}

	want, err := runIntegrity(run)
	if err != nil {
		return domain.Run{}, fmt.Errorf("run integrity: %w", err)
	}
	if want != integrity {
		return domain.Run{}, fmt.Errorf("run %s integrity mismatch", run.ID)
	}
	return run, nil
}

func (s *RunStore) Get(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, selectRunByIDQuery, id)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

// Update rewrites the mutable columns.
func (s *RunStore) Update(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		updateRunQuery,
		string(run.State),
		enc.curves,
		enc.schedules,
		enc.result,
		enc.lineage,
		enc.runErr,
		enc.transitions,
		run.CancelRequested,
		normalizeTime(run.UpdatedAt),
		strings.TrimSpace(run.ID),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return s.checkAffected(ctx, res, run.ID, "update run")
}

func (s *RunStore) CompleteRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	if run.State != domain.RunStateCompleted || run.Result == nil {
		return errors.New("complete run requires completed state and a result")
	}
	enc, err := encodeRun(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		completeRunQuery,
		string(domain.RunStateCompleted),
		enc.curves,
		enc.schedules,
		enc.result,
		enc.lineage,
		enc.transitions,
		normalizeTime(run.UpdatedAt),
		strings.TrimSpace(run.ID),
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return s.checkAffected(ctx, res, run.ID, "complete run")
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func (s *RunStore) checkAffected(ctx context.Context, res rowsAffecter, id, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows > 0 {
		return nil
	}
	var state string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM valuation_runs WHERE run_id = $1`, strings.TrimSpace(id)).Scan(&state)
	if err != nil {
		return handleNotFound(err)
	}
	return fmt.Errorf("%s: run %s is %s", op, id, state)
}

func buildRunListQuery(filter repo.RunFilter) (string, []any) {
	clauses := make([]string, 0, 1)
	args := make([]any, 0, 2)
	if filter.State != "" {
		args = append(args, string(filter.State))
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM valuation_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query, args := buildRunListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
