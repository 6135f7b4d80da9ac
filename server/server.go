// Package server exposes the HTTP API: health, readiness, metrics, the media
// engine endpoints, admin views and the OAuth consent flows. It injects
// correlation IDs into request contexts for consistent logging.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/guildbot/telemetry"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's background sweep.
func NewMux(ctx context.Context, d Deps) http.Handler {
	handlers := NewHandlers(d)
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	if d.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN not set - admin and media endpoints will reject every request", slog.String("component", "http"))
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(h, limiter), d.AdminToken)
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	mux.Handle("/magick/buffer", protected(handlers.HandleMagickBuffer))
	mux.Handle("/magick/size", protected(handlers.HandleMagickSize))
	mux.Handle("/magick/identify", protected(handlers.HandleMagickIdentify))

	mux.Handle("/admin/guilds", protected(handlers.HandleAdminGuilds))
	mux.Handle("/admin/monitor", protected(handlers.HandleAdminMonitor))

	// Consent flows start behind the admin token; callbacks are guarded by state.
	mux.Handle("/auth/twitch/start", adminAuth(http.HandlerFunc(handlers.HandleTwitchOAuthStart), d.AdminToken))
	mux.HandleFunc("/auth/twitch/callback", handlers.HandleTwitchOAuthCallback)
	mux.Handle("/auth/youtube/start", adminAuth(http.HandlerFunc(handlers.HandleYouTubeOAuthStart), d.AdminToken))
	mux.HandleFunc("/auth/youtube/callback", handlers.HandleYouTubeOAuthCallback)

	return instrument(mux)
}

// routeLabel bounds metric cardinality to the registered routes.
func routeLabel(mux *http.ServeMux, r *http.Request) string {
	if _, pattern := mux.Handler(r); pattern != "" {
		return pattern
	}
	return "unmatched"
}

// instrument assigns a correlation id, opens a server span and records the
// request count and latency for every request mux serves.
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", corr)
		route := routeLabel(mux, r)

		ctx, span := telemetry.StartSpan(telemetry.WithCorrelation(r.Context(), corr), "http-server", r.Method+" "+route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
		)
		defer span.End()
		if route != "/healthz" {
			telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))
		}

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		telemetry.TimeFunc(telemetry.HTTPObserver(route), func() {
			mux.ServeHTTP(rec, r.WithContext(ctx))
		})

		telemetry.CountHTTP(route, rec.statusCode)
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode)))
		}
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server on addr and shuts down gracefully on context
// cancellation. Engine calls can take minutes, so the write timeout follows
// the engine timeout.
func Start(ctx context.Context, addr string, handler http.Handler, writeTimeout time.Duration) error {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
