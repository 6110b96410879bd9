package redkv

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the private Prometheus registry redkv publishes to. Its
// metrics are updated by the middlewares in this file, the sweeper's
// onSweep callback, and handleConnection's open/close of the
// connections gauge; none of them hold a store lock while doing so.
var Registry = prometheus.NewRegistry()

var (
	connectionsActive = registerGauge(prometheus.GaugeOpts{
		Namespace: "redkv",
		Name:      "connections_active",
		Help:      "Number of currently open client connections.",
	})

	commandsTotal = registerCounterVec(prometheus.CounterOpts{
		Namespace: "redkv",
		Name:      "commands_total",
		Help:      "Commands processed, labeled by command name and outcome.",
	}, []string{"command", "outcome"})

	commandDuration = registerHistogramVec(prometheus.HistogramOpts{
		Namespace: "redkv",
		Name:      "command_duration_seconds",
		Help:      "Time spent executing a single command, including middleware.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"command"})

	keysExpiredTotal = registerCounterVec(prometheus.CounterOpts{
		Namespace: "redkv",
		Name:      "keys_expired_total",
		Help:      "Keys removed due to expiry, labeled by how they were found.",
	}, []string{"path"})

	storeSize = registerGauge(prometheus.GaugeOpts{
		Namespace: "redkv",
		Name:      "store_size",
		Help:      "Most recently observed key count across all shards.",
	})
)

func registerGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	g := prometheus.NewGauge(opts)
	Registry.MustRegister(g)
	return g
}

func registerCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(opts, labels)
	Registry.MustRegister(v)
	return v
}

func registerHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	v := prometheus.NewHistogramVec(opts, labels)
	Registry.MustRegister(v)
	return v
}

// MetricsHandler serves the Registry in the Prometheus text exposition
// format, for mounting on a CLI-configured HTTP listener.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// LoggingMiddleware logs one structured line per command at debug level.
func LoggingMiddleware() Middleware {
	return MiddlewareFunc(func(conn *Connection, cmd *Command, next CommandHandler) Frame {
		start := time.Now()
		reply := next.Handle(conn, cmd)
		conn.server.Logger.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Str("command", cmd.Name).
			Int("nargs", len(cmd.Args)).
			Dur("elapsed", time.Since(start)).
			Bool("error", reply.Type == Error).
			Msg("command")
		return reply
	})
}

// MetricsMiddleware records per-command counts, outcomes, and latency.
func MetricsMiddleware() Middleware {
	return MiddlewareFunc(func(conn *Connection, cmd *Command, next CommandHandler) Frame {
		timer := prometheus.NewTimer(commandDuration.WithLabelValues(cmd.Name))
		reply := next.Handle(conn, cmd)
		timer.ObserveDuration()

		outcome := "ok"
		if reply.Type == Error {
			outcome = "error"
		}
		commandsTotal.WithLabelValues(cmd.Name, outcome).Inc()
		return reply
	})
}

// RateLimitMiddleware rejects a connection's commands once it has issued
// more than maxPerSecond in the current one-second window. It is not
// installed by default; deployers opt in with Server.Use.
func RateLimitMiddleware(maxPerSecond int) Middleware {
	type window struct {
		start time.Time
		count int
	}
	limits := make(map[*Connection]*window)
	var mu sync.Mutex

	return MiddlewareFunc(func(conn *Connection, cmd *Command, next CommandHandler) Frame {
		mu.Lock()
		w, ok := limits[conn]
		now := time.Now()
		if !ok || now.Sub(w.start) >= time.Second {
			w = &window{start: now}
			limits[conn] = w
		}
		w.count++
		exceeded := w.count > maxPerSecond
		mu.Unlock()

		if exceeded {
			return errorReply("ERR rate limit exceeded")
		}
		return next.Handle(conn, cmd)
	})
}
