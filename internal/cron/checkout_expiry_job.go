package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/monidesk/ibos-backend/pkg/logger"
)

type sessionExpirer interface {
	ExpireStaleSessions(ctx context.Context, now time.Time) (int, error)
}

type CheckoutExpiryJobParams struct {
	Logger   *logger.Logger
	Checkout sessionExpirer
	Schedule string
	Now      func() time.Time
}

// NewCheckoutExpiryJob moves lapsed checkout sessions to expired.
func NewCheckoutExpiryJob(params CheckoutExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &checkoutExpiryJob{
		logg:     params.Logger,
		checkout: params.Checkout,
		schedule: params.Schedule,
		now:      now,
	}, nil
}

type checkoutExpiryJob struct {
	logg     *logger.Logger
	checkout sessionExpirer
	schedule string
	now      func() time.Time
}

func (j *checkoutExpiryJob) Name() string     { return "checkout-session-expiry" }
func (j *checkoutExpiryJob) Schedule() string { return j.schedule }

func (j *checkoutExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	expired, err := j.checkout.ExpireStaleSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("expire checkout sessions: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithField(ctx, "expired", expired), "checkout sessions expired")
	}
	return nil
}
