package cron

import (
	"context"
	"testing"
	"time"
)

type memoryLockStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLockStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := newMemoryLockStore()
	first, err := NewRedisLock(store, "lumina:cron:lock", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(store, "lumina:cron:lock", 0)

	ok, err := first.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	if store.ttls["lumina:cron:lock"] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls["lumina:cron:lock"])
	}
	if ok, _ := second.Acquire(context.Background()); ok {
		t.Fatalf("second replica must not acquire")
	}

	// releasing a lock it never held leaves the owner's key alone
	if err := second.Release(context.Background()); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, ok := store.values["lumina:cron:lock"]; !ok {
		t.Fatalf("lock removed by non-owner")
	}

	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if ok, _ := second.Acquire(context.Background()); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestRedisLockReleaseAfterTakeover(t *testing.T) {
	store := newMemoryLockStore()
	lock, _ := NewRedisLock(store, "k", time.Minute)
	if ok, _ := lock.Acquire(context.Background()); !ok {
		t.Fatalf("acquire failed")
	}
	// lease expired and another replica took it
	store.values["k"] = "someone-else"

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["k"] != "someone-else" {
		t.Fatalf("foreign lock must survive")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewRedisLock(newMemoryLockStore(), "", 0); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
