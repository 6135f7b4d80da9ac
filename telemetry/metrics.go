// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Media engine
	MagickInvocations *prometheus.CounterVec // labels: op, result
	MagickDuration    *prometheus.HistogramVec

	// Bootstrap / store maintenance
	GuildsRegistered prometheus.Counter
	GuildsRepaired   prometheus.Counter
	GuildsPruned     prometheus.Counter
	GuildsGauge      prometheus.Gauge

	// Chat
	CommandInvocations *prometheus.CounterVec // labels: command
	StatusUpdates      prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec // labels: route, code
	HTTPDuration *prometheus.HistogramVec

	// Social relay
	RelayPosts       *prometheus.CounterVec // labels: kind (post|reply), result (ok|duplicate|error)
	RelayActiveGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MagickInvocations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_magick_invocations_total", Help: "Media engine invocations by operation and result"}, []string{"op", "result"})
		MagickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "bot_magick_duration_seconds", Help: "Media engine invocation duration seconds", Buckets: prometheus.DefBuckets}, []string{"op"})
		GuildsRegistered = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_guilds_registered_total", Help: "Guild records created during reconciliation"})
		GuildsRepaired = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_guilds_repaired_total", Help: "Guild records repaired during reconciliation"})
		GuildsPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_guilds_pruned_total", Help: "Stale guild records deleted"})
		GuildsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_guilds", Help: "Guilds the bot is currently in"})
		CommandInvocations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_command_invocations_total", Help: "Chat command invocations"}, []string{"command"})
		StatusUpdates = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_status_updates_total", Help: "Status rotations performed"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_http_requests_total", Help: "HTTP requests by route and status code"}, []string{"route", "code"})
		HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "bot_http_request_duration_seconds", Help: "HTTP request duration seconds", Buckets: prometheus.DefBuckets}, []string{"route"})
		RelayPosts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_relay_posts_total", Help: "Social relay posts by kind and result"}, []string{"kind", "result"})
		RelayActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_relay_active", Help: "Social relay active=1 inactive=0"})
	})
}

// ObserveMagick records one engine invocation. Safe to call before Init.
func ObserveMagick(op string, d time.Duration, err error) {
	if MagickInvocations == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	MagickInvocations.WithLabelValues(op, result).Inc()
	MagickDuration.WithLabelValues(op).Observe(d.Seconds())
}

// CountCommand increments the invocation counter for a chat command.
func CountCommand(name string) {
	if CommandInvocations != nil {
		CommandInvocations.WithLabelValues(name).Inc()
	}
}

// CountRelay records a relay post attempt.
func CountRelay(kind, result string) {
	if RelayPosts != nil {
		RelayPosts.WithLabelValues(kind, result).Inc()
	}
}

// HTTPObserver returns the duration observer for route, or nil before Init.
func HTTPObserver(route string) prometheus.Observer {
	if HTTPDuration == nil {
		return nil
	}
	return HTTPDuration.WithLabelValues(route)
}

// CountHTTP records one served request.
func CountHTTP(route string, code int) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}

// SetGuilds records the current live guild count.
func SetGuilds(n int) { if GuildsGauge != nil { GuildsGauge.Set(float64(n)) } }

// SetRelayActive sets gauge to 1 if the relay is running else 0.
func SetRelayActive(active bool) { if RelayActiveGauge != nil { if active { RelayActiveGauge.Set(1) } else { RelayActiveGauge.Set(0) } } }

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) { if c != nil { c.Inc() } }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil { obs.Observe(d.Seconds()) }
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}
var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context { return context.WithValue(ctx, corrKey, id) }

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok { return s }
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" { return slog.Default().With(slog.String("corr", id)) }
	return slog.Default()
}
