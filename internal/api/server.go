// Package api serves the node over HTTP: transaction submission and lookup,
// account queries, the faucet, metrics and health.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/cmatc13/orderless/internal/node"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/health"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
)

// Media types accepted for transaction submission.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Server represents the API server
type Server struct {
	config           *config.Config
	router           *chi.Mux
	node             *node.Node
	tokenAuth        *jwtauth.JWTAuth
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates a new API server. m and healthRegistry may be nil.
func NewServer(cfg *config.Config, n *node.Node, logger *logging.Logger, m *metrics.Metrics, healthRegistry *health.Registry) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if m == nil {
		m = metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace, Subsystem: "api", ServiceName: "api"})
	}
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry(logger)
	}

	r := chi.NewRouter()
	s := &Server{
		config:           cfg,
		router:           r,
		node:             n,
		logger:           logger.Named("api"),
		metricsCollector: m,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:              ":" + cfg.API.Port,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.API.RequestTimeout,
		},
	}
	if cfg.Auth.Enabled {
		s.tokenAuth = jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupHealthChecks()

	return s
}

// Handler returns the root handler, for embedding the API in another server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(SecureHeaders)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware(s.metricsCollector, "api"))
	s.router.Use(RecovererWithMetrics(s.logger, s.metricsCollector, "api"))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metricsCollector.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(s.rateLimit(s.config.Faucet.RateLimit))
		r.Use(s.ValidateContentType(ContentTypeJSON))
		r.Post("/fund", s.handleFund)
	})

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit(s.config.API.RateLimit))

		r.Get("/", s.handleInfo)
		r.Get("/-/healthy", s.handleHealthy)

		r.Get("/transactions/by_hash/{hash}", s.handleGetTransaction)
		r.Get("/transactions/wait_by_hash/{hash}", s.handleWaitForTransaction)
		r.Get("/accounts/{address}/balance", s.handleGetBalance)
		r.Get("/accounts/{address}/transactions", s.handleGetAccountTransactions)
		r.Get("/accounts/{address}/multisig", s.handleGetMultisig)
		r.Get("/blocks/by_height/{height}", s.handleGetBlock)

		r.Group(func(r chi.Router) {
			if s.tokenAuth != nil {
				r.Use(jwtauth.Verifier(s.tokenAuth))
				r.Use(s.authenticate)
			}
			r.Use(s.ValidateContentType(ContentTypeJSON, ContentTypeCBOR))
			r.Post("/transactions", s.handleSubmitTransaction)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, errors.APIErrorf(errors.APIErrNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
}

// setupHealthChecks registers the checks the node itself can answer. The
// processor check belongs to whoever runs the processor.
func (s *Server) setupHealthChecks() {
	s.healthRegistry.Observe(func(name string, up bool) {
		s.metricsCollector.RecordDependencyStatus("api", name, up)
	})

	s.healthRegistry.Register("store", health.StoreChecker(s.node.Store.Backend(), s.node.Store.Ping))
	if s.config.Kafka.Enabled {
		s.healthRegistry.Register("queue", health.KafkaChecker(s.config.Kafka.Brokers, s.node.Queue.Ping))
	} else {
		s.healthRegistry.Register("queue", health.ServiceChecker("queue", s.node.Queue.Ping))
	}
}

// authenticate rejects requests that carry no valid API token. It runs after
// jwtauth.Verifier has parsed the token from the request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err == nil {
			if token == nil {
				err = errors.New("no token")
			} else {
				err = jwt.Validate(token)
			}
		}
		if err != nil {
			s.renderError(w, r, errors.NewAPIError(errors.APIErrUnauthorized, "a valid API token is required", err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit limits each client IP to perMinute requests. Zero disables it.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.renderError(w, r, errors.APIErrorf(errors.APIErrRateLimitExceeded,
				"rate limit of %d requests per minute exceeded", perMinute))
		}),
	)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "port", s.config.API.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.APIWrapWithCode(err, errors.OpStartServer, errors.APIErrServiceUnavailable, "API server failed")
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.APIWrapWithCode(err, errors.OpShutdownServer, errors.APIErrInternalServer, "API server shutdown failed")
	}
	s.logger.Info("API server shutdown complete")
	return nil
}

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries enough of a domain error for clients to rebuild it
type ErrorBody struct {
	Domain    string `json:"domain,omitempty"`
	Code      string `json:"code,omitempty"`
	Operation string `json:"operation,omitempty"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
}

// errorBody describes err by the domain error in its chain that carries a code.
func errorBody(err error) *ErrorBody {
	body := &ErrorBody{Message: err.Error(), Detail: err.Error()}
	if coded := errors.Coded(err); coded != nil {
		body.Domain = coded.Domain
		body.Code = coded.Code
		body.Operation = coded.Operation
		if coded.Message != "" {
			body.Message = coded.Message
		}
	}
	if body.Code == "" {
		body.Domain = errors.APIDomain
		body.Code = errors.APIErrInternalServer
	}
	return body
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, checks := s.healthRegistry.Overall(r.Context())

	httpStatus := http.StatusOK
	if status == health.StatusDown {
		httpStatus = http.StatusServiceUnavailable
	}

	s.renderJSON(w, Response{
		Success: status == health.StatusUp,
		Message: "Service health status: " + string(status),
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().Unix(),
			"version":   s.config.API.Version,
			"chain_id":  s.node.ChainID(),
			"checks":    checks,
			"system": map[string]interface{}{
				"go_version":    runtime.Version(),
				"go_goroutines": runtime.NumGoroutine(),
				"go_cpus":       runtime.NumCPU(),
			},
		},
	}, httpStatus)
}

// renderJSON renders a JSON response
func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	if err := writeEnvelope(w, data, status); err != nil {
		s.logger.Error("Failed to encode response", "error", err.Error())
	}
}

// renderError renders an error response with the status err's code maps to
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	s.renderFailure(w, r, err, nil)
}

// renderFailure renders an error response that still carries data, e.g. the
// result of a transaction that committed but failed.
func (s *Server) renderFailure(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status := errors.HTTPStatusFromError(err)
	body := errorBody(err)
	s.metricsCollector.RecordError("api", body.Domain, body.Code)
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err.Error())
	}
	s.renderJSON(w, Response{Success: false, Data: data, Error: body}, status)
}

func writeEnvelope(w http.ResponseWriter, data interface{}, status int) error {
	w.Header().Set("Content-Type", ContentTypeJSON)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
