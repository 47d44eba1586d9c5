package enums

// OutboxAggregateType is stored in outbox_events.aggregate_type and sent as
// the aggregate_type message attribute.
type OutboxAggregateType string

const AggregatePurchase OutboxAggregateType = "purchase"

var aggregateTypes = []OutboxAggregateType{AggregatePurchase}

func (a OutboxAggregateType) IsValid() bool {
	_, err := ParseOutboxAggregateType(string(a))
	return err == nil
}

func ParseOutboxAggregateType(raw string) (OutboxAggregateType, error) {
	return parse("aggregate type", raw, aggregateTypes)
}

// OutboxEventType names a settled purchase notification. Subscribers filter
// on it, so values are never renamed.
type OutboxEventType string

const (
	EventPurchaseCompleted OutboxEventType = "purchase_completed"
	EventPurchaseFailed    OutboxEventType = "purchase_failed"
)

var eventTypes = []OutboxEventType{EventPurchaseCompleted, EventPurchaseFailed}

func (e OutboxEventType) IsValid() bool {
	_, err := ParseOutboxEventType(string(e))
	return err == nil
}

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return parse("event type", raw, eventTypes)
}
