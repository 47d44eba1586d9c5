package redis

import "strings"

const (
	defaultNamespace  = "lumina"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	lockPrefix        = "lock"
	webhookPrefix     = "webhook"
)

// Keyspace builds namespaced keys: <namespace>:<kind>:<parts...>.
type Keyspace struct {
	namespace string
}

func NewKeyspace(namespace string) Keyspace {
	return Keyspace{namespace: strings.Trim(strings.TrimSpace(namespace), ":")}
}

// IdempotencyKey stores a replayable HTTP response.
func (k Keyspace) IdempotencyKey(scope, id string) string {
	return k.build(idempotencyPrefix, scope, id)
}

// RateLimitKey holds a fixed-window counter.
func (k Keyspace) RateLimitKey(scope string) string {
	return k.build(rateLimitPrefix, scope)
}

// LockKey names a lease such as the cron-worker lock.
func (k Keyspace) LockKey(name string) string {
	return k.build(lockPrefix, name)
}

// WebhookKey marks a gateway notification as processed.
func (k Keyspace) WebhookKey(provider, eventID string) string {
	return k.build(webhookPrefix, provider, eventID)
}

func (k Keyspace) build(parts ...string) string {
	ns := k.namespace
	if ns == "" {
		ns = defaultNamespace
	}
	clean := []string{ns}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			clean = append(clean, part)
		}
	}
	return strings.Join(clean, ":")
}
