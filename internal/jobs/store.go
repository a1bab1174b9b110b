package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ivg/internal/faults"
	"ivg/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const jobColumns = `id, kind, state, owner_scope, input_json, output_ref, error_kind, error_message, sequence, created_at, updated_at`

// Store persists jobs in sqlite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore prepares the jobs table on db. The caller keeps ownership of db.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := store.EnsureSchema(ctx, db, "jobs", schemaVersion, schemaSQL); err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Create inserts a queued job with sequence 1.
func (s *Store) Create(ctx context.Context, job Job) (Job, error) {
	if strings.TrimSpace(job.ID) == "" {
		return Job{}, errors.New("job id is required")
	}
	if !job.Kind.Valid() {
		return Job{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	input, err := json.Marshal(job.Input)
	if err != nil {
		return Job{}, fmt.Errorf("encode job input: %w", err)
	}
	now := s.now().UTC()
	job.State = StateQueued
	job.Sequence = 1
	job.CreatedAt = now
	job.UpdatedAt = now
	job.OutputRef = ""
	job.Error = nil

	err = store.RetryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO jobs (id, kind, state, owner_scope, input_json, sequence, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, string(job.Kind), string(job.State), job.OwnerScope, string(input), int64(job.Sequence),
			formatTime(now), formatTime(now),
		)
		return execErr
	})
	if err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkRunning moves a queued job to running.
func (s *Store) MarkRunning(ctx context.Context, id string) (Job, error) {
	return s.transition(ctx, id, []State{StateQueued}, StateRunning, nil, nil)
}

// Complete moves a running job to succeeded with its output asset.
func (s *Store) Complete(ctx context.Context, id, outputRef string) (Job, error) {
	outputRef = strings.TrimSpace(outputRef)
	if outputRef == "" {
		return Job{}, fmt.Errorf("%w: succeeded job %s needs an output ref", ErrInvalidTransition, id)
	}
	return s.transition(ctx, id, []State{StateRunning}, StateSucceeded, &outputRef, nil)
}

// Fail moves a queued or running job to failed.
func (s *Store) Fail(ctx context.Context, id string, detail ErrorDetail) (Job, error) {
	if detail.Kind == "" {
		detail.Kind = faults.KindInternal
	}
	if strings.TrimSpace(detail.Message) == "" {
		detail.Message = string(detail.Kind)
	}
	return s.transition(ctx, id, []State{StateQueued, StateRunning}, StateFailed, nil, &detail)
}

func (s *Store) transition(ctx context.Context, id string, from []State, to State, outputRef *string, detail *ErrorDetail) (Job, error) {
	placeholders := make([]string, len(from))
	args := []any{string(to), nullable(outputRef), nil, nil, formatTime(s.now()), id}
	if detail != nil {
		args[2] = string(detail.Kind)
		args[3] = detail.Message
	}
	for i, state := range from {
		placeholders[i] = "?"
		args = append(args, string(state))
	}
	query := `UPDATE jobs
        SET state = ?, output_ref = ?, error_kind = ?, error_message = ?, sequence = sequence + 1, updated_at = ?
        WHERE id = ? AND state IN (` + strings.Join(placeholders, ", ") + `)`

	var job Job
	err := store.RetryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		job, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: job %s is %s, cannot become %s", ErrInvalidTransition, id, job.State, to)
		}
		return tx.Commit()
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("update job %s to %s: %w", id, to, err)
	}
	return job, nil
}

// ListByState returns jobs in any of the given states, oldest first.
func (s *Store) ListByState(ctx context.Context, states ...State) ([]Job, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, state := range states {
		placeholders[i] = "?"
		args[i] = string(state)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE state IN (`+strings.Join(placeholders, ", ")+`) ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountByState returns the number of jobs per state. Every state is present.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	counts := make(map[State]int, 4)
	for _, state := range AllStates() {
		counts[state] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		job                        Job
		kind, state, input         string
		outputRef, errKind, errMsg sql.NullString
		createdAt, updatedAt       string
		sequence                   int64
	)
	if err := row.Scan(&job.ID, &kind, &state, &job.OwnerScope, &input, &outputRef, &errKind, &errMsg,
		&sequence, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	job.Kind = Kind(kind)
	job.State = State(state)
	job.Sequence = uint64(sequence)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	if outputRef.Valid {
		job.OutputRef = outputRef.String
	}
	if errKind.Valid && errKind.String != "" {
		job.Error = &ErrorDetail{Kind: faults.Kind(errKind.String), Message: errMsg.String}
	}
	if input != "" {
		if err := json.Unmarshal([]byte(input), &job.Input); err != nil {
			return Job{}, fmt.Errorf("decode job input: %w", err)
		}
	}
	return job, nil
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
