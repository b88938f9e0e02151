package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/vanguard/credential"
	"github.com/stephnangue/vanguard/gateway"
	"github.com/stephnangue/vanguard/helper"
	"github.com/stephnangue/vanguard/logger"
	"github.com/stephnangue/vanguard/policy"
	"github.com/stephnangue/vanguard/ratelimit"
	"github.com/stephnangue/vanguard/storage"
	"github.com/stephnangue/vanguard/token"
)

// HandlerProperties contains everything the HTTP handler wires together
type HandlerProperties struct {
	Logger      logger.Logger
	Tokens      *token.Service
	Credentials *credential.Service
	Users       storage.UserStore
	Limiter     *ratelimit.Limiter
	Engine      *policy.Engine
	Registry    *gateway.Registry
	Forwarder   *gateway.Forwarder
	Health      *gateway.HealthChecker
}

// Handler creates and returns the main HTTP handler for the gateway.
// Auth and system endpoints are served locally; everything else is matched
// against the service registry and forwarded.
func Handler(props *HandlerProperties) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(recoverPanics(props.Logger))
	router.Use(logRequests(props.Logger))

	router.Route("/v1/auth", func(r chi.Router) {
		r.Post("/register", handleRegister(props))
		r.Post("/login", handleLogin(props))
		r.Post("/refresh", handleRefresh(props))
		r.Get("/me", handleWhoAmI(props))
	})

	router.Route("/v1/sys", func(r chi.Router) {
		r.Get("/health", handleHealth(props))
		r.Get("/services", handleServices(props))
	})

	// Everything else belongs to a registered backend
	router.NotFound(handleForward(props))

	return router
}

// handleForward is the request pipeline for registered services: resolve the
// registration, evaluate its route policy, apply the rate limit, forward.
func handleForward(props *HandlerProperties) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, ok := props.Registry.Match(r.URL.Path)
		if !ok {
			respondError(w, http.StatusNotFound, CodeNotFound, "no service registered for this path")
			return
		}

		identity, err := props.Engine.Evaluate(r.Context(), r, reg.Policy())
		if err != nil {
			respondPolicyError(w, err)
			return
		}

		if decision := props.Limiter.CheckAndRecord(limiterKey(r, identity)); !decision.Allowed {
			respondRateLimited(w, decision)
			return
		}

		r = r.WithContext(policy.WithIdentity(r.Context(), identity))
		if err := props.Forwarder.Forward(w, r, reg, identity); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				respondError(w, http.StatusRequestEntityTooLarge, CodeValidation, "request body is too large")
				return
			}
			var upstreamErr *gateway.UpstreamError
			if errors.As(err, &upstreamErr) {
				respondUpstreamError(w, upstreamErr)
				return
			}
			respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		}
	}
}

// limiterKey buckets authenticated traffic per account and anonymous traffic
// per client address, so one abusive client cannot exhaust a shared quota.
func limiterKey(r *http.Request, identity *token.Identity) string {
	if identity != nil {
		return "id:" + identity.ID
	}
	return "ip:" + helper.RemoteIP(r)
}

// recoverPanics converts handler panics into 500 envelopes
func recoverPanics(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic while handling request",
						logger.String("path", r.URL.Path),
						logger.Any("panic", rec),
					)
					respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// logRequests emits one line per request with timing and outcome
func logRequests(log logger.Logger) func(http.Handler) http.Handler {
	accessLog := log.WithSubsystem("access")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(wrapped, r)

			accessLog.Info("request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.String("request_id", middleware.GetReqID(r.Context())),
				logger.String("remote_ip", helper.RemoteIP(r)),
				logger.Int("status", wrapped.Status()),
				logger.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
