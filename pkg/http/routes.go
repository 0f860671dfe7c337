package http

import (
	"net/http"

	"qr-scheduler/pkg/logging"
	"qr-scheduler/pkg/middleware"
	"qr-scheduler/pkg/security"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CorrelationID tags each request context with a correlation id, reusing the
// caller's X-Correlation-ID when present.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Correlation-ID"); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		} else {
			ctx = logging.WithCorrelationID(ctx)
		}
		w.Header().Set("X-Correlation-ID", logging.GetCorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func commonMiddleware(r chi.Router) {
	r.Use(chimw.Recoverer)
	r.Use(CorrelationID)
}

// SetupRedirectRoutes serves the public scan endpoints.
func SetupRedirectRoutes(r chi.Router, handler *Handler) {
	commonMiddleware(r)
	r.Get("/health", handler.HealthCheck)
	r.Get("/q/{qrId}", handler.Redirect)
	pin := r.With(security.CSRFMiddleware(handler.csrf))
	if handler.attempts != nil {
		pin = pin.With(security.RateLimitMiddleware(handler.attempts, handler.clientIP.Key))
	}
	pin.Post("/q/{qrId}/pin", handler.VerifyPin)
}

// SetupRoutes serves the admin API. A nil oauthMiddleware leaves it open,
// which is only meant for local development.
func SetupRoutes(r chi.Router, handler *Handler, oauthMiddleware *middleware.OAuthMiddleware) {
	commonMiddleware(r)
	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	read := func(r chi.Router) chi.Router { return r }
	write := read
	if oauthMiddleware != nil {
		read = func(r chi.Router) chi.Router { return r.With(oauthMiddleware.Authenticate(middleware.ScopeDestinationsRead)) }
		write = func(r chi.Router) chi.Router { return r.With(oauthMiddleware.Authenticate(middleware.ScopeDestinationsWrite)) }
	}

	r.Route("/v1", func(r chi.Router) {
		read(r).Get("/qrs/{qrId}/destinations", handler.ListDestinations)
		write(r).Post("/qrs/{qrId}/destinations", handler.CreateDestination)
		read(r).Get("/qrs/{qrId}/active", handler.ActiveDestination)
		read(r).Get("/qrs/{qrId}/calendar", handler.Calendar)

		read(r).Get("/destinations/{id}", handler.GetDestination)
		write(r).Patch("/destinations/{id}", handler.UpdateDestination)
		write(r).Delete("/destinations/{id}", handler.DeleteDestination)
		read(r).Get("/destinations/{id}/triggers", handler.ListTriggers)
		write(r).Post("/destinations/{id}/triggers", handler.CreateTrigger)
		write(r).Post("/destinations/{id}/events", handler.FireEvent)
		write(r).Post("/destinations/{id}/complete", handler.CompleteDestination)

		write(r).Delete("/triggers/{id}", handler.DeleteTrigger)
		write(r).Post("/triggers/{id}/reset", handler.ResetTrigger)
	})
}
