package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumina-photos/lumina-backend/pkg/config"
)

func newTestClient(mock *mockCmdable) *Client {
	return &Client{Keyspace: NewKeyspace("lumina-test"), store: mock, scripter: mock}
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := newTestClient(mock)

	for i, wantAllowed := range []bool{true, true, false} {
		allowed, count, err := client.FixedWindowAllow(ctx, "checkout:buyer:b-1", 2, time.Minute)
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if allowed != wantAllowed || count != int64(i+1) {
			t.Fatalf("call %d: allowed=%v count=%d", i, allowed, count)
		}
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected a single expire for the window, got %d", len(mock.expireCalls))
	}
	if mock.expireCalls[0].key != "lumina-test:rate_limit:checkout:buyer:b-1" || mock.expireCalls[0].ttl != time.Minute {
		t.Fatalf("unexpected expire call %+v", mock.expireCalls[0])
	}
}

func TestFixedWindowDropsCounterWhenExpireFails(t *testing.T) {
	mock := newMockCmdable()
	mock.expireErr = errors.New("READONLY")
	client := newTestClient(mock)

	if _, _, err := client.FixedWindowAllow(context.Background(), "checkout:ip:1.2.3.4", 5, time.Minute); err == nil {
		t.Fatalf("expected expire failure to surface")
	}
	if _, ok := mock.incr["lumina-test:rate_limit:checkout:ip:1.2.3.4"]; ok {
		t.Fatalf("counter without ttl should have been deleted")
	}
}

func TestSetNXAndDelete(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(newMockCmdable())

	key := client.WebhookKey("mercadopago", "evt-1")
	ok, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first setnx should win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || ok {
		t.Fatalf("second setnx should lose, ok=%v err=%v", ok, err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetXXOnlyOverwritesExistingKeys(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(newMockCmdable())
	key := client.IdempotencyKey("buyer-1", "abc")

	if ok, err := client.SetXX(ctx, key, "done", time.Hour); err != nil || ok {
		t.Fatalf("setxx on a missing key must not write, ok=%v err=%v", ok, err)
	}
	if _, err := client.SetNX(ctx, key, "pending", time.Minute); err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if ok, err := client.SetXX(ctx, key, "done", time.Hour); err != nil || !ok {
		t.Fatalf("setxx should overwrite, ok=%v err=%v", ok, err)
	}
	if got, _ := client.Get(ctx, key); got != "done" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestDelIfValueOnlyRemovesOwnValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := newTestClient(mock)
	mock.data["lease"] = "token-a"

	removed, err := client.DelIfValue(ctx, "lease", "token-b")
	if err != nil || removed {
		t.Fatalf("foreign token removed=%v err=%v", removed, err)
	}
	if mock.data["lease"] != "token-a" {
		t.Fatalf("lease lost to a foreign token")
	}
	removed, err = client.DelIfValue(ctx, "lease", "token-a")
	if err != nil || !removed {
		t.Fatalf("own token removed=%v err=%v", removed, err)
	}
	if _, ok := mock.data["lease"]; ok {
		t.Fatalf("expected lease deleted")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from empty client")
	}
	if _, _, err := client.FixedWindowAllow(context.Background(), "x", 1, time.Second); err == nil {
		t.Fatal("expected error from empty client")
	}
	if _, err := client.DelIfValue(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected error from empty client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client should be a no-op: %v", err)
	}
}

func TestKeyspace(t *testing.T) {
	keys := NewKeyspace(" staging: ")
	if got := keys.IdempotencyKey("checkout", "buyer-1:abc"); got != "staging:idempotency:checkout:buyer-1:abc" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := keys.LockKey("cron-worker:prod"); got != "staging:lock:cron-worker:prod" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := keys.WebhookKey("mercadopago", ""); got != "staging:webhook:mercadopago" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
	if got := (Keyspace{}).RateLimitKey("checkout"); got != "lumina:rate_limit:checkout" {
		t.Fatalf("zero keyspace should use the default namespace, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@cache:6380/2", PoolSize: 20, DialTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("url settings lost: %+v", opts)
	}
	if opts.PoolSize != 20 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("config should fill unset pool settings: %+v", opts)
	}

	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected missing address error")
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
	expireErr   error
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) SetXX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; !exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	if m.expireErr != nil {
		return redis.NewBoolResult(false, m.expireErr)
	}
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.incr, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

// the scripter half only understands the lease release script
func (m *mockCmdable) compareAndDelete(keys []string, args []any) *redis.Cmd {
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, errors.New("unexpected script call"))
	}
	if m.data[keys[0]] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(m.data, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (m *mockCmdable) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockCmdable) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args)
}

func (m *mockCmdable) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return m.Eval(ctx, script, keys, args...)
}

func (m *mockCmdable) EvalShaRO(ctx context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	return m.EvalSha(ctx, sha, keys, args...)
}

func (m *mockCmdable) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (m *mockCmdable) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}
