package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository abstracts API key persistence.
type Repository interface {
	FindByID(ctx context.Context, id int64) (APIKey, error)
	Create(ctx context.Context, key APIKey) (int64, error)
	TouchLastUsed(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

func (r *repository) FindByID(ctx context.Context, id int64) (APIKey, error) {
	var key APIKey
	var lastUsed *time.Time
	err := r.db.QueryRow(ctx, `SELECT id, name, secret_hash, is_active, created_at, last_used_at FROM api_keys WHERE id = $1`, id).
		Scan(&key.ID, &key.Name, &key.SecretHash, &key.IsActive, &key.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, ErrInvalidKey
		}
		return APIKey{}, err
	}
	if lastUsed != nil {
		key.LastUsedAt = *lastUsed
	}
	return key, nil
}

func (r *repository) Create(ctx context.Context, key APIKey) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO api_keys (name, secret_hash, is_active, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		key.Name, key.SecretHash, key.IsActive, time.Now()).Scan(&id)
	return id, err
}

func (r *repository) TouchLastUsed(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}
