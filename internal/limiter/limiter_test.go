package limiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowfox/gemini/internal/limiter"
)

func TestTake_RespectsInitialLimit(t *testing.T) {
	l := limiter.New(2)
	ctx := context.Background()

	_, ok1 := l.Take(ctx)
	require.True(t, ok1)
	_, ok2 := l.Take(ctx)
	require.True(t, ok2)

	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, ok3 := l.Take(ctx2)
	assert.False(t, ok3)
}

func TestTake_ReleaseFreesPermit(t *testing.T) {
	l := limiter.New(1)
	ctx := context.Background()

	release, ok := l.Take(ctx)
	require.True(t, ok)
	release()

	_, ok2 := l.Take(ctx)
	assert.True(t, ok2)
}

func TestLower_DoesNotDrainInFlightPermits(t *testing.T) {
	l := limiter.New(3)
	ctx := context.Background()

	release1, ok1 := l.Take(ctx)
	require.True(t, ok1)
	release2, ok2 := l.Take(ctx)
	require.True(t, ok2)

	l.Lower(2)
	assert.Equal(t, int64(1), l.CurrentLimit())

	release1()
	release2()
}

func TestSetLimit_ClampsToInitialAndZero(t *testing.T) {
	l := limiter.New(5)
	l.SetLimit(100)
	assert.Equal(t, int64(5), l.CurrentLimit())

	l.SetLimit(-3)
	assert.Equal(t, int64(0), l.CurrentLimit())
}

func TestRaise_AllowsMorePermitsAfterLower(t *testing.T) {
	l := limiter.New(2)
	l.Lower(2)
	assert.Equal(t, int64(0), l.CurrentLimit())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, ok := l.Take(ctx)
	assert.False(t, ok)

	l.Raise(1)
	release, ok := l.Take(context.Background())
	require.True(t, ok)
	release()
}
