package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ivg/internal/store"
)

// Styles is the Postgres store.StyleCatalog.
type Styles struct {
	pool     *pgxpool.Pool
	rulesMax int
}

const styleColumns = `id, name, description, rules, reference_asset_id::text, profile, created_at`

func (s *Styles) Create(ctx context.Context, in store.NewStyle) (store.Style, error) {
	prepared, err := store.PrepareStyle(in, s.rulesMax)
	if err != nil {
		return store.Style{}, err
	}
	style := store.Style{
		ID:               prepared.ID,
		Name:             prepared.Name,
		Description:      prepared.Description,
		Rules:            prepared.Rules,
		ReferenceAssetID: uuid.NewString(),
		Profile:          prepared.Profile,
		CreatedAt:        time.Now().UTC(),
	}

	var profile any
	if len(style.Profile) > 0 {
		profile = string(style.Profile)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ivg_assets (id, owner, content_type, size, role, filename, data, created_at)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			style.ReferenceAssetID, store.StylesScope, prepared.ReferenceType, len(prepared.Reference),
			string(store.RoleStyleReference), style.ID, prepared.Reference, style.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO ivg_styles (id, name, description, rules, reference_asset_id, profile, created_at)
             VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
			style.ID, style.Name, nullable(style.Description), style.Rules, style.ReferenceAssetID, profile, style.CreatedAt,
		)
		return err
	})
	if isUniqueViolation(err) {
		return store.Style{}, fmt.Errorf("style %s: %w", style.ID, store.ErrExists)
	}
	if err != nil {
		return store.Style{}, fmt.Errorf("create style: %w", err)
	}
	return style, nil
}

func (s *Styles) Get(ctx context.Context, id string) (store.Style, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+styleColumns+` FROM ivg_styles WHERE id = $1`, strings.TrimSpace(id))
	style, err := scanStyle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Style{}, fmt.Errorf("style %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Style{}, fmt.Errorf("get style: %w", err)
	}
	return style, nil
}

func (s *Styles) List(ctx context.Context) ([]store.Style, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+styleColumns+` FROM ivg_styles ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	defer rows.Close()

	var styles []store.Style
	for rows.Next() {
		style, err := scanStyle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan style: %w", err)
		}
		styles = append(styles, style)
	}
	return styles, rows.Err()
}

func scanStyle(row pgx.Row) (store.Style, error) {
	var (
		style       store.Style
		description *string
		profile     []byte
	)
	if err := row.Scan(&style.ID, &style.Name, &description, &style.Rules, &style.ReferenceAssetID, &profile, &style.CreatedAt); err != nil {
		return store.Style{}, err
	}
	style.Description = deref(description)
	if len(profile) > 0 {
		style.Profile = json.RawMessage(profile)
	}
	style.CreatedAt = style.CreatedAt.UTC()
	return style, nil
}
