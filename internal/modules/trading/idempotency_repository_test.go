package trading

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyPutGet(t *testing.T) {
	db := openTradingDB(t)
	repo := NewIdempotencyRepository(db, zerolog.Nop())
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Put(ctx, "k1", []byte(`{"accepted":true}`), time.Hour))

	got, ok, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"accepted":true}`, string(got))
}

func TestIdempotencyUpsert(t *testing.T) {
	db := openTradingDB(t)
	repo := NewIdempotencyRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "k1", []byte(`"v1"`), time.Hour))
	require.NoError(t, repo.Put(ctx, "k1", []byte(`"v2"`), time.Hour))

	got, ok, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"v2"`, string(got))
}

func TestIdempotencyExpiry(t *testing.T) {
	db := openTradingDB(t)
	repo := NewIdempotencyRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "short", []byte(`"x"`), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := repo.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired record must behave as absent")

	pruned, err := repo.PruneExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)
}
