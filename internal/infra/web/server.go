package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"delegated-billing/internal/infra/logging"
	"delegated-billing/internal/usecase"
)

// Server exposes the engine's request surface: grant issuance/activation,
// on-demand charges, subscription reads, and the operator endpoints.
type Server struct {
	grantUC  usecase.GrantUseCase
	chargeUC usecase.ChargeUseCase
	statsUC  usecase.StatsUseCase
	auth     *AuthManager
	srv      *http.Server
	log      *zerolog.Logger
}

func NewServer(grantUC usecase.GrantUseCase, chargeUC usecase.ChargeUseCase, statsUC usecase.StatsUseCase, auth *AuthManager, port int, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	s := &Server{
		grantUC:  grantUC,
		chargeUC: chargeUC,
		statsUC:  statsUC,
		auth:     auth,
		log:      &l,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// Propagate the chi request id as trace_id so usecase logs correlate
	// with their originating request.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tid := middleware.GetReqID(r.Context()); tid != "" {
				r = r.WithContext(logging.WithTraceID(r.Context(), tid))
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/grants", func(r chi.Router) {
		r.Post("/", grantCreateHandler(s.grantUC))
		r.Get("/{id}", grantGetHandler(s.grantUC))
		r.Post("/{id}/activate", grantActivateHandler(s.grantUC))
		r.Post("/{id}/charge", chargeHandler(s.chargeUC))

		// Operator-only endpoints behind the JWT session middleware.
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Post("/{id}/revoke", grantRevokeHandler(s.grantUC))
			r.Get("/{id}/ceiling-audit", ceilingAuditHandler(s.grantUC))
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/api/v1/stats", statsHandler(s.statsUC))
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
