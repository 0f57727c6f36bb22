/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/pa_broadcast_core/internal/auth"
	"github.com/friendsincode/pa_broadcast_core/internal/telemetry"
)

// httplog logs each request at debug level with method, path, status, and
// latency, the way the teacher's zerolog setup expects request-scoped logs.
func httplog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Msg("http request")
		})
	}
}

// NewRouter builds the chi router serving the broadcast request surface.
// login, stop_session, and complete are reachable without a bearer token —
// login issues one, stop_session authenticates via its beacon query token,
// and complete is invoked by the playback pipeline itself.
func NewRouter(api *API, jwtSecret []byte, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httplog(logger))
	r.Use(telemetry.MetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", telemetry.Handler())

	r.Post("/api/v1/auth/login", api.Login)
	r.Post("/api/v1/broadcast/complete", api.Complete)
	r.Get("/api/v1/broadcast/stop_session", api.StopSession)

	r.Group(func(protected chi.Router) {
		protected.Use(auth.Middleware(jwtSecret))
		protected.Post("/api/v1/broadcast/start", api.StartBroadcast)
		protected.Post("/api/v1/broadcast/speak_chunk", api.SpeakChunk)
		protected.Post("/api/v1/broadcast/stop", api.StopBroadcast)
		protected.Post("/api/v1/broadcast/seek", api.Seek)
		protected.Post("/api/v1/broadcast/heartbeat", api.Heartbeat)
	})

	return r
}
