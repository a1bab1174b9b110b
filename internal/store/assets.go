package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteAssets stores asset bytes inline in sqlite.
type SQLiteAssets struct {
	db *sql.DB
}

// ValidateAsset checks the arguments shared by every AssetStore.Put.
func ValidateAsset(owner string, data []byte, contentType string, role Role) error {
	if strings.TrimSpace(owner) == "" {
		return fmt.Errorf("%w: owner scope is required", ErrInvalid)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: asset data is empty", ErrInvalid)
	}
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("%w: content type is required", ErrInvalid)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown asset role %q", ErrInvalid, role)
	}
	return nil
}

// Visible reports whether an asset stored under assetOwner may be read by owner.
func Visible(assetOwner, owner string) bool {
	return assetOwner == owner || assetOwner == StylesScope
}

// Put stores data and returns the new asset id.
func (a *SQLiteAssets) Put(ctx context.Context, owner string, data []byte, contentType string, role Role, filename string) (string, error) {
	if err := ValidateAsset(owner, data, contentType, role); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := execWithRetry(ctx, a.db,
		`INSERT INTO assets (id, owner, content_type, size, role, filename, data, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, owner, contentType, len(data), string(role), nullString(filename), data, formatTime(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert asset: %w", err)
	}
	return id, nil
}

// Get fetches an asset visible to owner.
func (a *SQLiteAssets) Get(ctx context.Context, owner, id string) (Asset, error) {
	var (
		asset    Asset
		role     string
		filename sql.NullString
		created  string
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT id, owner, content_type, size, role, filename, data, created_at FROM assets WHERE id = ?`, id,
	).Scan(&asset.ID, &asset.OwnerScope, &asset.ContentType, &asset.Size, &role, &filename, &asset.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("get asset: %w", err)
	}
	if !Visible(asset.OwnerScope, owner) {
		return Asset{}, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	asset.Role = Role(role)
	asset.Filename = filename.String
	asset.CreatedAt = parseTime(created)
	return asset, nil
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
