// Package resilience guards calls to remote providers with a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	pkgerrors "github.com/monidesk/ibos-backend/pkg/errors"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

const (
	defaultMaxRequests      = 3
	defaultInterval         = time.Minute
	defaultTimeout          = 30 * time.Second
	defaultFailureThreshold = 5
	defaultMinRequests      = 10
	defaultFailureRatio     = 0.6
)

// BreakerConfig tunes when the breaker trips and how it recovers.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	MinRequests      uint32
	FailureRatio     float64
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = defaultMaxRequests
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.MinRequests == 0 {
		c.MinRequests = defaultMinRequests
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = defaultFailureRatio
	}
	return c
}

// Breaker wraps gobreaker with structured logging and typed errors.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
	logg *logger.Logger
}

// NewBreaker builds a breaker that trips on consecutive failures or on a
// failure ratio once enough requests were seen. Caller-side errors such as
// validation failures do not count against the remote.
func NewBreaker(cfg BreakerConfig, logg *logger.Logger) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{name: cfg.Name, logg: logg}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if counts.Requests >= cfg.MinRequests {
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A provider rejecting the request itself is not an outage.
			return pkgerrors.As(err) != nil && !pkgerrors.IsRetryable(err)
		},
	})
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs fn through the breaker. An open breaker fails fast with DEPENDENCY_ERROR.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn(ctx)
	}
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s unavailable", b.name))
	}
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}
