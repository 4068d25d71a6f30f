package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "stripe", FailureThreshold: 2, Timeout: time.Hour}, nil)
	boom := errors.New("connection reset")
	calls := 0
	fail := func(context.Context) (string, error) {
		calls++
		return "", boom
	}

	for i := 0; i < 2; i++ {
		_, err := Execute(context.Background(), b, fail)
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := Execute(context.Background(), b, fail)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 2, calls)
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "square", FailureThreshold: 1}, nil)
	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), b, func(context.Context) (int, error) {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "bad amount")
		})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestExecuteReturnsResult(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "stub"}, nil)
	got, err := Execute(context.Background(), b, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	got, err = Execute[string](context.Background(), nil, func(context.Context) (string, error) { return "direct", nil })
	require.NoError(t, err)
	assert.Equal(t, "direct", got)
}
