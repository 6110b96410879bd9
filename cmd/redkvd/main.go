// Command redkvd runs a standalone redkv server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/l00pss/redkv"
	"github.com/l00pss/redkv/store"
)

func main() {
	var (
		address        = flag.StringP("address", "a", "127.0.0.1:6379", "address to listen on for RESP connections")
		shards         = flag.Int("shards", 32, "number of store shards")
		sweepInterval  = flag.Duration("sweep-interval", 100*time.Millisecond, "active expiration sweep interval")
		sweepSample    = flag.Int("sweep-sample", 20, "keys sampled per active expiration sweep tick")
		readTimeout    = flag.Duration("read-timeout", 30*time.Second, "per-command read deadline, 0 disables")
		writeTimeout   = flag.Duration("write-timeout", 30*time.Second, "per-reply write deadline, 0 disables")
		idleTimeout    = flag.Duration("idle-timeout", 120*time.Second, "idle connection threshold, 0 disables")
		maxConnections = flag.Int("max-connections", 1000, "maximum concurrent client connections, 0 disables the limit")
		metricsAddr    = flag.String("metrics-address", ":9121", "address to serve Prometheus metrics on, empty disables it")
		logLevel       = flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
		rateLimit      = flag.Int("rate-limit", 0, "max commands per connection per second, 0 disables")
		shutdownGrace  = flag.Duration("shutdown-grace", 10*time.Second, "time allowed for in-flight connections to drain on shutdown")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redkvd: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	st := store.New(store.Options{Shards: *shards})

	srv := redkv.NewServer(*address, st)
	srv.Logger = logger
	srv.ReadTimeout = *readTimeout
	srv.WriteTimeout = *writeTimeout
	srv.IdleTimeout = *idleTimeout
	srv.MaxConnections = *maxConnections

	if *rateLimit > 0 {
		srv.Use(redkv.RateLimitMiddleware(*rateLimit))
	}

	stopSweeper := srv.RunSweeper(store.SweeperOptions{
		Interval:   *sweepInterval,
		SampleSize: *sweepSample,
	})
	srv.OnShutdown(stopSweeper)

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", redkv.MetricsHandler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		srv.OnShutdown(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(ctx)
		})
		go func() {
			logger.Info().Str("addr", *metricsAddr).Msg("serving metrics")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	srv.ConnStateHook = func(conn net.Conn, state redkv.ConnState) {
		logger.Debug().Str("remote", conn.RemoteAddr().String()).Str("state", state.String()).Msg("connstate")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), *shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown did not complete cleanly")
		}
	}()

	logger.Info().Str("addr", *address).Int("shards", *shards).Msg("redkvd starting")
	if err := srv.Serve(); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	logger.Info().Msg("redkvd stopped")
}
