package redkv

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/l00pss/redkv/store"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T) (*Server, *redis.Client, func()) {
	t.Helper()
	port := getFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	srv := NewServer(addr, store.New(store.Options{Shards: 4}))

	go func() {
		if err := srv.Serve(); err != nil {
			t.Logf("server exited: %v", err)
		}
	}()

	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		if err := client.Ping(ctx).Err(); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("server never came up on %s", addr)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cleanup := func() {
		client.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	return srv, client, cleanup
}

func TestPing(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if got, err := client.Ping(ctx).Result(); err != nil || got != "PONG" {
		t.Fatalf("PING = %q, %v", got, err)
	}
	if got, err := client.Do(ctx, "PING", "hello").Result(); err != nil || got != "hello" {
		t.Fatalf("PING hello = %v, %v", got, err)
	}
}

func TestSetGet(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if err := client.Set(ctx, "foo", "bar", 0).Err(); err != nil {
		t.Fatalf("SET: %v", err)
	}
	if got, err := client.Get(ctx, "foo").Result(); err != nil || got != "bar" {
		t.Fatalf("GET foo = %q, %v", got, err)
	}
	if _, err := client.Get(ctx, "missing").Result(); err != redis.Nil {
		t.Fatalf("GET missing error = %v, want redis.Nil", err)
	}
}

func TestSetClearsExpiry(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client.Set(ctx, "k", "v1", 0)
	client.Expire(ctx, "k", 100*time.Second)
	client.Set(ctx, "k", "v2", 0)

	ttl, err := client.TTL(ctx, "k").Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl != -1*time.Nanosecond {
		t.Fatalf("TTL after overwrite = %v, want -1ns (no expiry)", ttl)
	}
}

func TestSetNX(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "k", "first", 0).Result()
	if err != nil || !ok {
		t.Fatalf("SETNX new key = %v, %v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "second", 0).Result()
	if err != nil || ok {
		t.Fatalf("SETNX existing key = %v, %v", ok, err)
	}
	got, _ := client.Get(ctx, "k").Result()
	if got != "first" {
		t.Fatalf("value after SETNX clash = %q, want %q", got, "first")
	}
}

func TestSetEX(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if err := client.Do(ctx, "SETEX", "t", 0, "v").Err(); err == nil {
		t.Fatal("SETEX with 0 seconds should be rejected")
	}

	if err := client.Do(ctx, "SETEX", "t", 1, "v").Err(); err != nil {
		t.Fatalf("SETEX: %v", err)
	}
	time.Sleep(1200 * time.Millisecond)
	if _, err := client.Get(ctx, "t").Result(); err != redis.Nil {
		t.Fatalf("GET after SETEX expiry = %v, want redis.Nil", err)
	}
	ttl, err := client.TTL(ctx, "t").Result()
	if err != nil || ttl != -2*time.Nanosecond {
		t.Fatalf("TTL after expiry = %v, %v, want -2ns", ttl, err)
	}
}

func TestDelAndExists(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client.Set(ctx, "a", "1", 0)
	client.Set(ctx, "b", "2", 0)

	n, err := client.Exists(ctx, "a", "b", "missing").Result()
	if err != nil || n != 2 {
		t.Fatalf("EXISTS = %d, %v, want 2", n, err)
	}

	deleted, err := client.Del(ctx, "a", "missing").Result()
	if err != nil || deleted != 1 {
		t.Fatalf("DEL = %d, %v, want 1", deleted, err)
	}
	if _, err := client.Get(ctx, "a").Result(); err != redis.Nil {
		t.Fatalf("GET after DEL = %v, want redis.Nil", err)
	}
}

func TestCounters(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client.Set(ctx, "counter", "10", 0)

	if v, err := client.Incr(ctx, "counter").Result(); err != nil || v != 11 {
		t.Fatalf("INCR = %d, %v, want 11", v, err)
	}
	if v, err := client.IncrBy(ctx, "counter", 5).Result(); err != nil || v != 16 {
		t.Fatalf("INCRBY = %d, %v, want 16", v, err)
	}
	if v, err := client.DecrBy(ctx, "counter", 6).Result(); err != nil || v != 10 {
		t.Fatalf("DECRBY = %d, %v, want 10", v, err)
	}
	if v, err := client.Decr(ctx, "counter").Result(); err != nil || v != 9 {
		t.Fatalf("DECR = %d, %v, want 9", v, err)
	}

	client.Set(ctx, "counter", "hello", 0)
	if _, err := client.Incr(ctx, "counter").Result(); err == nil {
		t.Fatal("INCR on non-numeric value should error")
	}

	client.Set(ctx, "max", "9223372036854775807", 0)
	if _, err := client.Incr(ctx, "max").Result(); err == nil {
		t.Fatal("INCR overflow should error")
	}
	got, _ := client.Get(ctx, "max").Result()
	if got != "9223372036854775807" {
		t.Fatalf("overflow mutated the key: got %q", got)
	}
}

func TestCounterConcurrentIncr(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			client.Incr(ctx, "shared")
		}()
	}
	wg.Wait()

	v, err := client.Get(ctx, "shared").Result()
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if v != fmt.Sprintf("%d", n) {
		t.Fatalf("final counter = %s, want %d", v, n)
	}
}

func TestMGetMSet(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if err := client.MSet(ctx, "a", "1", "b", "2").Err(); err != nil {
		t.Fatalf("MSET: %v", err)
	}
	values, err := client.MGet(ctx, "a", "b", "missing").Result()
	if err != nil {
		t.Fatalf("MGET: %v", err)
	}
	if values[0] != "1" || values[1] != "2" || values[2] != nil {
		t.Fatalf("MGET values = %v", values)
	}
}

func TestExpireTTLPersist(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	ok, _ := client.Expire(ctx, "missing", 10*time.Second).Result()
	if ok {
		t.Fatal("EXPIRE on missing key should return false")
	}

	client.Set(ctx, "k", "v", 0)
	ok, err := client.Expire(ctx, "k", 100*time.Second).Result()
	if err != nil || !ok {
		t.Fatalf("EXPIRE = %v, %v, want true", ok, err)
	}

	persisted, err := client.Persist(ctx, "k").Result()
	if err != nil || !persisted {
		t.Fatalf("PERSIST = %v, %v, want true", persisted, err)
	}
	ttl, _ := client.TTL(ctx, "k").Result()
	if ttl != -1*time.Nanosecond {
		t.Fatalf("TTL after PERSIST = %v, want -1ns", ttl)
	}

	ok, err = client.Expire(ctx, "k", -1*time.Second).Result()
	if err != nil || !ok {
		t.Fatalf("EXPIRE with negative seconds = %v, %v, want true", ok, err)
	}
	if _, err := client.Get(ctx, "k").Result(); err != redis.Nil {
		t.Fatal("key should be gone after EXPIRE with negative seconds")
	}
}

func TestKeysAndDBSize(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client.FlushAll(ctx)
	client.Set(ctx, "foo:1", "a", 0)
	client.Set(ctx, "foo:2", "b", 0)
	client.Set(ctx, "bar:1", "c", 0)

	keys, err := client.Keys(ctx, "foo:*").Result()
	if err != nil || len(keys) != 2 {
		t.Fatalf("KEYS foo:* = %v, %v", keys, err)
	}

	size, err := client.DBSize(ctx).Result()
	if err != nil || size != 3 {
		t.Fatalf("DBSIZE = %d, %v, want 3", size, err)
	}

	if err := client.FlushAll(ctx).Err(); err != nil {
		t.Fatalf("FLUSHALL: %v", err)
	}
	size, _ = client.DBSize(ctx).Result()
	if size != 0 {
		t.Fatalf("DBSIZE after FLUSHALL = %d, want 0", size)
	}
}

func TestWrongArity(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if err := client.Do(ctx, "SET", "onlykey").Err(); err == nil {
		t.Fatal("SET with one argument should error")
	}
	if err := client.Do(ctx, "GET").Err(); err == nil {
		t.Fatal("GET with no arguments should error")
	}
	if err := client.Do(ctx, "ECHO", "a", "b").Err(); err == nil {
		t.Fatal("ECHO with two arguments should error")
	}
}

func TestUnknownCommand(t *testing.T) {
	_, client, cleanup := startTestServer(t)
	defer cleanup()
	ctx := context.Background()

	if err := client.Do(ctx, "NOTACOMMAND", "x").Err(); err == nil {
		t.Fatal("unknown command should error")
	}
}

func TestConnStateHookSeesActive(t *testing.T) {
	port := getFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := NewServer(addr, store.New(store.Options{Shards: 4}))

	states := make(chan ConnState, 8)
	srv.ConnStateHook = func(_ net.Conn, s ConnState) {
		select {
		case states <- s:
		default:
		}
	}

	go srv.Serve()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	select {
	case s := <-states:
		if s != StateActive {
			t.Fatalf("first observed state = %v, want %v", s, StateActive)
		}
	case <-time.After(time.Second):
		t.Fatal("no connection state observed")
	}
}

func TestGracefulShutdown(t *testing.T) {
	srv, client, _ := startTestServer(t)
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("server not up: %v", err)
	}
	client.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
