package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-photos/lumina-backend/pkg/db/models"
	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

// SchemaVersion is bumped whenever a consumer-visible envelope field changes.
const SchemaVersion = 1

// Actor identifies what produced the event.
type Actor struct {
	BuyerID string `json:"buyerId,omitempty"`
	// Source is the reconciliation path: checkout, poll, webhook or sweeper.
	Source string `json:"source,omitempty"`
}

// Envelope is the JSON document stored in outbox_events.payload and sent
// verbatim as the Pub/Sub message body.
type Envelope struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"eventId"`
	EventType   enums.OutboxEventType `json:"eventType"`
	AggregateID uuid.UUID             `json:"aggregateId"`
	OccurredAt  time.Time             `json:"occurredAt"`
	Actor       *Actor                `json:"actor,omitempty"`
	Data        json.RawMessage       `json:"data"`
}

// Decode parses a stored payload. Any error is permanent: the row can never
// be published as is.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.EventID == "":
		return env, errors.New("envelope missing event id")
	case env.Version <= 0 || env.Version > SchemaVersion:
		return env, fmt.Errorf("unsupported envelope version %d", env.Version)
	case !env.EventType.IsValid():
		return env, fmt.Errorf("unknown event type %q", env.EventType)
	case len(env.Data) == 0:
		return env, errors.New("envelope missing data")
	}
	return env, nil
}

// Attributes are the Pub/Sub message attributes subscribers filter on.
func Attributes(row models.OutboxEvent, env Envelope) map[string]string {
	return map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"schema_version": fmt.Sprint(env.Version),
		"occurred_at":    env.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
