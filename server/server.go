// Package server exposes the HTTP API: clip ingestion for chat bots, the
// cron-triggered reconciliation endpoint, YouTube OAuth, health, status and
// metrics. Every request carries a correlation id and, when tracing is
// enabled, a server span named after its route template.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/tsnip/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// ctx bounds the rate limiter's cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	corsCfg := loadCORSConfig()
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	h := NewHandlers(deps)

	limitedByChat := func(fn http.HandlerFunc) http.Handler { return rateLimitMiddleware(fn, limiter, limiter.chatKey) }

	r := mux.NewRouter()
	r.Use(correlationMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", h.HandleHealthz).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.HandleReadyz).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/status", h.HandleStatus).Methods(http.MethodGet)

	// Chat bots issue GET; POST is accepted the same way.
	for _, path := range []string{"/api/clip", "/api/clip/{chatid}", "/api/clip/{chatid}/{msg:.+}"} {
		r.Handle(path, limitedByChat(h.HandleClip)).Methods(http.MethodGet, http.MethodPost)
	}

	r.Handle("/api/monitor_streams", rateLimitMiddleware(cronAuth(http.HandlerFunc(h.HandleMonitorStreams), deps.CronSecret), limiter, nil)).
		Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/auth/youtube/start", h.HandleYouTubeOAuthStart).Methods(http.MethodGet)
	r.HandleFunc("/auth/youtube/callback", h.HandleYouTubeOAuthCallback).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(func(next http.Handler) http.Handler {
		return adminAuth(rateLimitMiddleware(next, limiter, nil), authCfg)
	})
	admin.HandleFunc("/integrations/{channel}", h.HandleGetIntegration).Methods(http.MethodGet)
	admin.HandleFunc("/integrations/{channel}", h.HandlePutIntegration).Methods(http.MethodPut, http.MethodPost)
	admin.HandleFunc("/discover", h.HandleAdminDiscover).Methods(http.MethodPost)

	return withCORSConfig(r, corsCfg)
}

// correlationMiddleware reuses or mints X-Correlation-ID, opens a span for the
// matched route and records the response status on it.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+route,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(route),
			telemetry.HTTPURLAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("route", route), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		if rec.statusCode >= 400 {
			span.SetStatus(telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", rec.statusCode)))
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// The trigger endpoint blocks for a whole reconciliation run.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
