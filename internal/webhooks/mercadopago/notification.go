package mpwebhook

import (
	"encoding/json"
	"net/url"
	"strings"
)

const topicPayment = "payment"

// Notification is one gateway callback, merged from query string and body.
type Notification struct {
	Topic     string
	Action    string
	DataID    string
	RequestID string
	Signature string
}

// IsPayment reports whether the callback concerns a payment.
func (n Notification) IsPayment() bool {
	return n.Topic == topicPayment || strings.HasPrefix(n.Action, topicPayment+".")
}

// DeliveryID identifies the delivery for deduplication.
func (n Notification) DeliveryID() string {
	if n.RequestID != "" {
		return n.RequestID
	}
	if n.DataID == "" {
		return ""
	}
	return n.DataID + ":" + n.Action
}

type notificationBody struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseNotification reads the query parameters first and lets the JSON body
// fill whatever they left empty. The gateway sends data.id as a string or a number.
func ParseNotification(query url.Values, body []byte, requestID, signature string) (Notification, error) {
	n := Notification{
		Topic:     firstNonEmpty(query.Get("type"), query.Get("topic")),
		DataID:    firstNonEmpty(query.Get("data.id"), query.Get("id")),
		RequestID: strings.TrimSpace(requestID),
		Signature: strings.TrimSpace(signature),
	}

	if len(strings.TrimSpace(string(body))) > 0 {
		var payload notificationBody
		if err := json.Unmarshal(body, &payload); err != nil {
			return n, err
		}
		if n.Topic == "" {
			n.Topic = firstNonEmpty(payload.Type, payload.Topic)
		}
		n.Action = strings.TrimSpace(payload.Action)
		if n.DataID == "" {
			n.DataID = rawID(payload.Data.ID)
		}
	}

	n.Topic = strings.ToLower(n.Topic)
	return n, nil
}

func rawID(raw json.RawMessage) string {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
