package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangvu/vnquant/internal/domain"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) error { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, CircuitClosed, cb.State())
		err := cb.Execute(ctx, failing)
		require.ErrorIs(t, err, errBoom)
	}

	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute, zerolog.Nop())
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	require.Error(t, cb.Execute(ctx, failing))
	require.NoError(t, cb.Execute(ctx, succeeding))
	require.Error(t, cb.Execute(ctx, failing))
	require.Error(t, cb.Execute(ctx, failing))

	// Two consecutive failures after a reset: still closed.
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerRecoveryProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 20*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	t.Run("failed probe reopens", func(t *testing.T) {
		require.ErrorIs(t, cb.Execute(ctx, failing), errBoom)
		assert.Equal(t, CircuitOpen, cb.State())
	})

	time.Sleep(30 * time.Millisecond)

	t.Run("successful probe closes", func(t *testing.T) {
		require.NoError(t, cb.Execute(ctx, succeeding))
		assert.Equal(t, CircuitClosed, cb.State())
	})
}

func TestBreakerSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond, zerolog.Nop())
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failing))
	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = cb.Execute(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// While the probe is in flight, other callers are shed.
	err := cb.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	close(release)
}
