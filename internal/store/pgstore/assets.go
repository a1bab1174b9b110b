package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ivg/internal/store"
)

// Assets is the Postgres store.AssetStore.
type Assets struct {
	pool *pgxpool.Pool
}

func (a *Assets) Put(ctx context.Context, owner string, data []byte, contentType string, role store.Role, filename string) (string, error) {
	if err := store.ValidateAsset(owner, data, contentType, role); err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err := a.pool.Exec(ctx,
		`INSERT INTO ivg_assets (id, owner, content_type, size, role, filename, data)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, owner, contentType, len(data), string(role), nullable(filename), data,
	)
	if err != nil {
		return "", fmt.Errorf("insert asset: %w", err)
	}
	return id, nil
}

func (a *Assets) Get(ctx context.Context, owner, id string) (store.Asset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return store.Asset{}, fmt.Errorf("asset %s: %w", id, store.ErrNotFound)
	}
	var (
		asset    store.Asset
		role     string
		filename *string
	)
	err := a.pool.QueryRow(ctx,
		`SELECT id::text, owner, content_type, size, role, filename, data, created_at FROM ivg_assets WHERE id = $1`, id,
	).Scan(&asset.ID, &asset.OwnerScope, &asset.ContentType, &asset.Size, &role, &filename, &asset.Data, &asset.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Asset{}, fmt.Errorf("asset %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	if !store.Visible(asset.OwnerScope, owner) {
		return store.Asset{}, fmt.Errorf("asset %s: %w", id, store.ErrNotFound)
	}
	asset.Role = store.Role(role)
	asset.Filename = deref(filename)
	asset.CreatedAt = asset.CreatedAt.UTC()
	return asset, nil
}
