package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/pkg/db/dbtest"
	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

func completedEvent(id uuid.UUID) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventPurchaseCompleted,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   id,
		Actor:         &Actor{BuyerID: "buyer-1", Source: "poll"},
		Data:          map[string]string{"purchase_id": id.String()},
	}
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&n).Error)
	return n
}

func emit(t *testing.T, db *gorm.DB, e *Emitter, event DomainEvent) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return e.Emit(context.Background(), tx, event)
	}))
}

func TestEmitWritesDecodableEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEmitter(NewRepository(db), nil)
	e.now = func() time.Time { return time.Date(2026, 1, 5, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600)) }
	id := uuid.New()

	emit(t, db, e, completedEvent(id))

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, enums.EventPurchaseCompleted, row.EventType)
	assert.Equal(t, id, row.AggregateID)

	env, err := Decode(row.Payload)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, env.Version)
	assert.Equal(t, enums.EventPurchaseCompleted, env.EventType)
	assert.Equal(t, id, env.AggregateID)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	require.NotNil(t, env.Actor)
	assert.Equal(t, "poll", env.Actor.Source)
	assert.JSONEq(t, `{"purchase_id":"`+id.String()+`"}`, string(env.Data))

	attrs := Attributes(row, env)
	assert.Equal(t, env.EventID, attrs["event_id"])
	assert.Equal(t, "purchase", attrs["aggregate_type"])
	assert.Equal(t, "1", attrs["schema_version"])
	assert.Equal(t, "2026-01-05T15:00:00Z", attrs["occurred_at"])
}

func TestEmitValidatesInput(t *testing.T) {
	e := NewEmitter(NewRepository(nil), nil)
	assert.ErrorIs(t, e.Emit(context.Background(), nil, completedEvent(uuid.New())), errTxRequired)

	db := dbtest.Open(t)
	bad := completedEvent(uuid.New())
	bad.EventType = "purchase_refunded"
	err := db.Transaction(func(tx *gorm.DB) error {
		return e.Emit(context.Background(), tx, bad)
	})
	assert.Error(t, err)
	assert.Zero(t, countEvents(t, db))
}

func TestEmitIsIdempotentPerEventAndAggregate(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEmitter(NewRepository(db), nil)
	id := uuid.New()

	emit(t, db, e, completedEvent(id))
	emit(t, db, e, completedEvent(id))
	assert.Equal(t, int64(1), countEvents(t, db))

	failed := completedEvent(id)
	failed.EventType = enums.EventPurchaseFailed
	emit(t, db, e, failed)
	assert.Equal(t, int64(2), countEvents(t, db))
}

func TestDecodeRejectsUnpublishablePayloads(t *testing.T) {
	cases := map[string]string{
		"not json":      `not-json`,
		"no event id":   `{"version":1,"data":{}}`,
		"future schema": `{"version":9,"eventId":"e","data":{}}`,
		"no data":       `{"version":1,"eventId":"e","eventType":"purchase_completed"}`,
		"unknown type":  `{"version":1,"eventId":"e","eventType":"purchase_refunded","data":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func claim(t *testing.T, db *gorm.DB, repo *Repository) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.Claim(tx, 10, 3)
		return err
	}))
	return rows
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	e := NewEmitter(repo, nil)

	emit(t, db, e, completedEvent(uuid.New()))
	emit(t, db, e, completedEvent(uuid.New()))

	rows := claim(t, db, repo)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublished(db, rows[0].ID, time.Now()))
	require.NoError(t, repo.RecordFailure(db, rows[1].ID, errors.New("topic missing"), false, 3))

	rows = claim(t, db, repo)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "topic missing", *rows[0].LastError)

	require.NoError(t, repo.RecordFailure(db, rows[0].ID, errors.New(strings.Repeat("x", 2*maxErrorLen)), true, 3))
	assert.Empty(t, claim(t, db, repo))

	var parked models.OutboxEvent
	require.NoError(t, db.First(&parked, "id = ?", rows[0].ID).Error)
	assert.Equal(t, 3, parked.AttemptCount)
	assert.True(t, parked.Parked(3))
	stuck, err := repo.CountParked(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stuck)
	assert.False(t, rows[0].Parked(3))
	assert.Len(t, *parked.LastError, maxErrorLen)

	deleted, err := repo.DeletePublishedBefore(context.Background(), nil, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(1), countEvents(t, db))
}
