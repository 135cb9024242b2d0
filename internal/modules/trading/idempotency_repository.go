package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoangvu/vnquant/internal/database"
)

// DefaultIdempotencyTTL is how long a recorded placement result keeps
// answering duplicate submissions.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository stores terminal placement results keyed by
// client idempotency key. Rows past their expiry behave as absent and
// are removed by the scheduled pruner.
type IdempotencyRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewIdempotencyRepository creates the repository.
func NewIdempotencyRepository(db *database.DB, log zerolog.Logger) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:  db,
		log: log.With().Str("component", "idempotency_repository").Logger(),
	}
}

// Get returns the stored result for key if present and not expired.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		result    []byte
		expiresAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT result_json, expires_at FROM idempotency_keys WHERE key = ?`, key).
		Scan(&result, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt expiry for idempotency key %q: %w", key, err)
	}
	if time.Now().After(expiry) {
		return nil, false, nil
	}
	return result, true, nil
}

// Put upserts the result for key with the given TTL. A re-put for the
// same key overwrites, extending the window.
func (r *IdempotencyRepository) Put(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, result_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			result_json = excluded.result_json,
			expires_at = excluded.expires_at`,
		key, result, now.Format(time.RFC3339Nano), now.Add(ttl).Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

// PruneExpired deletes rows past their expiry and returns the count.
func (r *IdempotencyRepository) PruneExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to prune idempotency keys: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().Int64("pruned", n).Msg("Pruned expired idempotency keys")
	}
	return n, nil
}
