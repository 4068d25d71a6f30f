package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/monidesk/ibos-backend/pkg/config"
	"github.com/monidesk/ibos-backend/pkg/db/dbtest"
	"github.com/monidesk/ibos-backend/pkg/db/models"
	"github.com/monidesk/ibos-backend/pkg/enums"
	"github.com/monidesk/ibos-backend/pkg/logger"
)

func TestEmitWritesEnvelopeInsideTx(t *testing.T) {
	client, conn := dbtest.Client(t)
	svc := NewService(NewRepository(conn), logger.Nop())

	businessID := uuid.New()
	orderID := uuid.New()
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			BusinessID:    businessID,
			Actor:         &ActorRef{BusinessID: businessID, Source: "pos"},
			Data:          OrderCreatedEvent{OrderID: orderID, BusinessID: businessID, TotalAmount: decimal.RequireFromString("12.50")},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Equal(t, businessID, rows[0].BusinessID)

	env, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)
	assert.NotEmpty(t, env.EventID)
	assert.Contains(t, string(env.Data), orderID.String())
}

func TestEmitRolledBackWithTx(t *testing.T) {
	client, conn := dbtest.Client(t)
	svc := NewService(NewRepository(conn), nil)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCheckoutExpired,
			AggregateType: enums.AggregateCheckoutSession,
			AggregateID:   uuid.New(),
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Zero(t, dbtest.Count(t, conn, &models.OutboxEvent{}))
}

func TestEmitRejectsUnknownTypeAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderCreated}))

	_, conn := dbtest.Client(t)
	require.Error(t, svc.Emit(context.Background(), conn, DomainEvent{EventType: "order_teleported"}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client, conn := dbtest.Client(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, DomainEvent{
				EventType:     enums.EventOrderStatusChanged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
			})
		}))
	}

	var fetched []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		if err != nil {
			return err
		}
		if err := repo.MarkPublishedTx(tx, fetched[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, fetched[1].ID, errors.New("timeout")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, fetched[2].ID, errors.New("bad"), 3)
	}))
	require.Len(t, fetched, 3)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, fetched, 1)
	assert.Equal(t, 1, fetched[0].AttemptCount)
	require.NotNil(t, fetched[0].LastError)
	assert.Equal(t, "timeout", *fetched[0].LastError)

	// published row is eligible for retention cleanup once the cutoff passes it
	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(2), dbtest.Count(t, conn, &models.OutboxEvent{}))
}

func TestTopicRouterResolve(t *testing.T) {
	router, err := NewTopicRouter(config.PubSubConfig{DomainTopic: "domain"})
	require.NoError(t, err)

	raw := `{"version":1,"eventId":"e1","occurredAt":"2024-01-01T00:00:00Z","data":{}}`
	resolved, err := router.Resolve(models.OutboxEvent{EventType: enums.EventCheckoutPaid, Payload: []byte(raw)})
	require.NoError(t, err)
	assert.Equal(t, "domain", resolved.Topic)
	assert.Equal(t, "e1", resolved.Envelope.EventID)
	assert.True(t, resolved.Notify)

	_, err = router.Resolve(models.OutboxEvent{EventType: "mystery", Payload: []byte(raw)})
	var nonRetry NonRetryableError
	require.ErrorAs(t, err, &nonRetry)

	_, err = router.Resolve(models.OutboxEvent{EventType: enums.EventCheckoutPaid, Payload: []byte("{")})
	require.ErrorAs(t, err, &nonRetry)

	_, err = NewTopicRouter(config.PubSubConfig{})
	require.Error(t, err)
}
