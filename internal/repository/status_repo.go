package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatusRepository defines the interface for the generic key-value state
// table used by the link fetcher.
type StatusRepository interface {
	// Get returns the value for a key; found is false when the key is absent.
	Get(ctx context.Context, keyName string) (value string, found bool, err error)
	Upsert(ctx context.Context, keyName, value string) error
}

type statusRepo struct {
	pool *pgxpool.Pool
}

// NewStatusRepository creates a new status repository.
func NewStatusRepository(pool *pgxpool.Pool) StatusRepository {
	return &statusRepo{pool: pool}
}

// Get retrieves a status value by key.
func (r *statusRepo) Get(ctx context.Context, keyName string) (string, bool, error) {
	query := `SELECT value FROM status WHERE key_name = $1`

	var value string
	err := r.pool.QueryRow(ctx, query, keyName).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Upsert creates or replaces a status value.
func (r *statusRepo) Upsert(ctx context.Context, keyName, value string) error {
	query := `
		INSERT INTO status (key_name, value)
		VALUES ($1, $2)
		ON CONFLICT (key_name) DO UPDATE SET value = EXCLUDED.value`

	_, err := r.pool.Exec(ctx, query, keyName, value)
	return err
}

// Compile-time check to ensure statusRepo implements StatusRepository.
var _ StatusRepository = (*statusRepo)(nil)
