// Package outbox writes domain events in the same transaction as the state
// change that caused them; cmd/outbox-publisher relays them to Pub/Sub.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
	"github.com/lumina-photos/lumina-backend/pkg/logger"
)

var errTxRequired = errors.New("transaction required")

// DomainEvent is what producers hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *Actor
	Data          any
	OccurredAt    time.Time
}

type Emitter struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewEmitter(repo *Repository, logg *logger.Logger) *Emitter {
	return &Emitter{repo: repo, logg: logg, now: time.Now}
}

// Emit queues event inside tx. At most one row exists per (event type,
// aggregate); repeating an emit for the same purchase is a no-op.
func (e *Emitter) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if !event.EventType.IsValid() || !event.AggregateType.IsValid() {
		return fmt.Errorf("unknown outbox event %q or aggregate %q", event.EventType, event.AggregateType)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.now()
	}
	env := Envelope{
		Version:     SchemaVersion,
		EventID:     uuid.NewString(),
		EventType:   event.EventType,
		AggregateID: event.AggregateID,
		OccurredAt:  occurredAt.UTC(),
		Actor:       event.Actor,
		Data:        data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	inserted, err := e.repo.InsertOnce(tx.WithContext(ctx), &models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	if e.logg == nil {
		return nil
	}
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID.String(),
	})
	if !inserted {
		e.logg.Debug(logCtx, "outbox.event_duplicate")
		return nil
	}
	e.logg.Info(e.logg.WithField(logCtx, "event_id", env.EventID), "outbox.event_queued")
	return nil
}
