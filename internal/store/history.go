package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteHistory is the sqlite HistoryLog.
type SQLiteHistory struct {
	db  *sql.DB
	max int
}

// PrepareEntry fills defaults and validates a history entry.
func PrepareEntry(entry HistoryEntry) (HistoryEntry, error) {
	if strings.TrimSpace(entry.OwnerScope) == "" {
		return HistoryEntry{}, fmt.Errorf("%w: history owner is required", ErrInvalid)
	}
	if strings.TrimSpace(entry.OutputRef) == "" {
		return HistoryEntry{}, fmt.Errorf("%w: history output ref is required", ErrInvalid)
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	if entry.InputRefs == nil {
		entry.InputRefs = []string{}
	}
	return entry, nil
}

// Record appends entry and prunes the owner's oldest entries beyond the cap.
func (h *SQLiteHistory) Record(ctx context.Context, entry HistoryEntry) error {
	entry, err := PrepareEntry(entry)
	if err != nil {
		return err
	}
	refs, err := json.Marshal(entry.InputRefs)
	if err != nil {
		return fmt.Errorf("encode input refs: %w", err)
	}

	err = RetryOnBusy(ctx, func() error {
		tx, err := h.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (id, owner, job_id, job_kind, input_refs, output_ref, style_id, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.OwnerScope, nullString(entry.JobID), entry.JobKind, string(refs),
			entry.OutputRef, nullString(entry.StyleID), formatTime(entry.CreatedAt),
		); err != nil {
			return err
		}
		if h.max > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM history WHERE owner = ? AND seq NOT IN (
                     SELECT seq FROM history WHERE owner = ? ORDER BY seq DESC LIMIT ?)`,
				entry.OwnerScope, entry.OwnerScope, h.max,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// List returns the owner's newest entries first.
func (h *SQLiteHistory) List(ctx context.Context, owner string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, owner, job_id, job_kind, input_refs, output_ref, style_id, created_at
         FROM history WHERE owner = ? ORDER BY seq DESC LIMIT ?`,
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			entry   HistoryEntry
			jobID   sql.NullString
			refs    string
			styleID sql.NullString
			created string
		)
		if err := rows.Scan(&entry.ID, &entry.OwnerScope, &jobID, &entry.JobKind, &refs, &entry.OutputRef, &styleID, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.JobID = jobID.String
		entry.StyleID = styleID.String
		entry.CreatedAt = parseTime(created)
		if err := json.Unmarshal([]byte(refs), &entry.InputRefs); err != nil {
			return nil, fmt.Errorf("decode input refs: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
