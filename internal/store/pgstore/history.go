package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ivg/internal/store"
)

// History is the Postgres store.HistoryLog.
type History struct {
	pool *pgxpool.Pool
	max  int
}

func (h *History) Record(ctx context.Context, entry store.HistoryEntry) error {
	entry, err := store.PrepareEntry(entry)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, h.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ivg_history (id, owner, job_id, job_kind, input_refs, output_ref, style_id, created_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.ID, entry.OwnerScope, nullable(entry.JobID), entry.JobKind, entry.InputRefs,
			entry.OutputRef, nullable(entry.StyleID), entry.CreatedAt,
		); err != nil {
			return err
		}
		if h.max <= 0 {
			return nil
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM ivg_history WHERE owner = $1 AND seq NOT IN (
                 SELECT seq FROM ivg_history WHERE owner = $1 ORDER BY seq DESC LIMIT $2)`,
			entry.OwnerScope, h.max,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

func (h *History) List(ctx context.Context, owner string, limit int) ([]store.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.pool.Query(ctx,
		`SELECT id::text, owner, job_id, job_kind, input_refs, output_ref, style_id, created_at
         FROM ivg_history WHERE owner = $1 ORDER BY seq DESC LIMIT $2`,
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []store.HistoryEntry{}
	for rows.Next() {
		var (
			entry   store.HistoryEntry
			jobID   *string
			styleID *string
		)
		if err := rows.Scan(&entry.ID, &entry.OwnerScope, &jobID, &entry.JobKind, &entry.InputRefs, &entry.OutputRef, &styleID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.JobID = deref(jobID)
		entry.StyleID = deref(styleID)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
