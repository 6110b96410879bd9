// Command redkv-smoke drives a short, realistic workload against a running
// redkv server over go-redis, printing pass/fail for each step. It exists
// to exercise the wire protocol end to end with a real client library
// instead of redkv's own test harness.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/rs/zerolog"
	"github.com/go-redis/redis/v8"
)

func main() {
	addr := flag.StringP("address", "a", "localhost:6379", "redkv server address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-step timeout")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	client := redis.NewClient(&redis.Options{
		Addr:        *addr,
		DialTimeout: *timeout,
	})
	defer client.Close()

	ctx := context.Background()
	failed := 0
	step := func(name string, fn func(ctx context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			logger.Error().Str("step", name).Err(err).Msg("FAIL")
			failed++
			return
		}
		logger.Info().Str("step", name).Msg("OK")
	}

	step("PING", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	step("SET/GET", func(ctx context.Context) error {
		if err := client.Set(ctx, "smoke:greeting", "hello", 0).Err(); err != nil {
			return err
		}
		got, err := client.Get(ctx, "smoke:greeting").Result()
		if err != nil {
			return err
		}
		if got != "hello" {
			return fmt.Errorf("expected %q, got %q", "hello", got)
		}
		return nil
	})

	step("INCR", func(ctx context.Context) error {
		client.Del(ctx, "smoke:counter")
		for i := 0; i < 5; i++ {
			if err := client.Incr(ctx, "smoke:counter").Err(); err != nil {
				return err
			}
		}
		n, err := client.Get(ctx, "smoke:counter").Int64()
		if err != nil {
			return err
		}
		if n != 5 {
			return fmt.Errorf("expected counter 5, got %d", n)
		}
		return nil
	})

	step("EXPIRE/TTL", func(ctx context.Context) error {
		if err := client.Set(ctx, "smoke:ephemeral", "soon-gone", 0).Err(); err != nil {
			return err
		}
		if err := client.Expire(ctx, "smoke:ephemeral", time.Minute).Err(); err != nil {
			return err
		}
		ttl, err := client.TTL(ctx, "smoke:ephemeral").Result()
		if err != nil {
			return err
		}
		if ttl <= 0 || ttl > time.Minute {
			return fmt.Errorf("unexpected ttl %v", ttl)
		}
		return nil
	})

	step("KEYS", func(ctx context.Context) error {
		keys, err := client.Keys(ctx, "smoke:*").Result()
		if err != nil {
			return err
		}
		if len(keys) < 3 {
			return fmt.Errorf("expected at least 3 smoke keys, got %v", keys)
		}
		return nil
	})

	step("pipelined MGET", func(ctx context.Context) error {
		pipe := client.Pipeline()
		getGreeting := pipe.Get(ctx, "smoke:greeting")
		getCounter := pipe.Get(ctx, "smoke:counter")
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		if getGreeting.Val() != "hello" {
			return fmt.Errorf("pipelined GET mismatch: %q", getGreeting.Val())
		}
		if getCounter.Val() != "5" {
			return fmt.Errorf("pipelined GET mismatch: %q", getCounter.Val())
		}
		return nil
	})

	step("cleanup", func(ctx context.Context) error {
		return client.Del(ctx, "smoke:greeting", "smoke:counter", "smoke:ephemeral").Err()
	})

	if failed > 0 {
		logger.Error().Int("failed", failed).Msg("smoke run had failures")
		os.Exit(1)
	}
	logger.Info().Msg("smoke run passed")
}
