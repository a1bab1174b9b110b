package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ivg/internal/imaging"
)

// SQLiteStyles is the sqlite StyleCatalog.
type SQLiteStyles struct {
	db       *sql.DB
	rulesMax int
}

// PrepareStyle validates and normalizes a style before it is stored: the id
// is slugified, a missing name is derived from the id, rules are truncated to
// rulesMax and the reference must be a decodable image.
func PrepareStyle(in NewStyle, rulesMax int) (NewStyle, error) {
	in.Name = imaging.NormalizeText(in.Name)
	id := Slugify(in.ID)
	if id == "" {
		id = Slugify(in.Name)
	}
	if id == "" {
		return NewStyle{}, fmt.Errorf("%w: style id or name is required", ErrInvalid)
	}
	if id == StylesScope {
		return NewStyle{}, fmt.Errorf("%w: style id %q is reserved", ErrInvalid, id)
	}
	in.ID = id
	if in.Name == "" {
		in.Name = TitleFromSlug(id)
	}
	in.Description = imaging.NormalizeText(in.Description)
	in.Rules = imaging.TruncateRules(in.Rules, rulesMax)

	if len(in.Reference) == 0 {
		return NewStyle{}, fmt.Errorf("%w: style reference image is required", ErrInvalid)
	}
	_, contentType, err := imaging.DecodeConfig(in.Reference)
	if err != nil {
		return NewStyle{}, fmt.Errorf("%w: style reference: %v", ErrInvalid, err)
	}
	in.ReferenceType = contentType

	if len(in.Profile) > 0 {
		var profile map[string]any
		if err := json.Unmarshal(in.Profile, &profile); err != nil {
			return NewStyle{}, fmt.Errorf("%w: style profile must be a JSON object", ErrInvalid)
		}
	}
	return in, nil
}

// Create stores the reference asset and the style in one transaction.
func (s *SQLiteStyles) Create(ctx context.Context, in NewStyle) (Style, error) {
	prepared, err := PrepareStyle(in, s.rulesMax)
	if err != nil {
		return Style{}, err
	}
	now := time.Now().UTC()
	style := Style{
		ID:               prepared.ID,
		Name:             prepared.Name,
		Description:      prepared.Description,
		Rules:            prepared.Rules,
		ReferenceAssetID: uuid.NewString(),
		Profile:          prepared.Profile,
		CreatedAt:        now,
	}

	err = RetryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM styles WHERE id = ?`, style.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("style %s: %w", style.ID, ErrExists)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assets (id, owner, content_type, size, role, filename, data, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			style.ReferenceAssetID, StylesScope, prepared.ReferenceType, len(prepared.Reference),
			string(RoleStyleReference), style.ID, prepared.Reference, formatTime(now),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO styles (id, name, description, rules, reference_asset_id, profile, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			style.ID, style.Name, nullString(style.Description), style.Rules, style.ReferenceAssetID,
			nullString(string(style.Profile)), formatTime(now),
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return Style{}, err
		}
		return Style{}, fmt.Errorf("create style: %w", err)
	}
	return style, nil
}

// Get resolves a style by id.
func (s *SQLiteStyles) Get(ctx context.Context, id string) (Style, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, rules, reference_asset_id, profile, created_at FROM styles WHERE id = ?`,
		strings.TrimSpace(id),
	)
	style, err := scanStyle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Style{}, fmt.Errorf("style %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Style{}, fmt.Errorf("get style: %w", err)
	}
	return style, nil
}

// List returns every style ordered by name.
func (s *SQLiteStyles) List(ctx context.Context) ([]Style, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, rules, reference_asset_id, profile, created_at FROM styles ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list styles: %w", err)
	}
	defer rows.Close()

	var styles []Style
	for rows.Next() {
		style, err := scanStyle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan style: %w", err)
		}
		styles = append(styles, style)
	}
	return styles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStyle(row rowScanner) (Style, error) {
	var (
		style       Style
		description sql.NullString
		profile     sql.NullString
		created     string
	)
	if err := row.Scan(&style.ID, &style.Name, &description, &style.Rules, &style.ReferenceAssetID, &profile, &created); err != nil {
		return Style{}, err
	}
	style.Description = description.String
	if profile.Valid && profile.String != "" {
		style.Profile = json.RawMessage(profile.String)
	}
	style.CreatedAt = parseTime(created)
	return style, nil
}
