// Package rpc serves the bridge over HTTP: user and relayer entrypoints as
// JSON, plus health, readiness and metrics for operators.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ServerConfig holds configuration for the bridge API
type ServerConfig struct {
	Address        string
	AllowedOrigins []string
	EnableMetrics  bool
	// RequestTimeout bounds a single request, entrypoint call included
	RequestTimeout        time.Duration
	RatePerMinute         *int
	MaxConcurrentRequests *int
	OTelConfig            *OTelConfig
}

// DefaultServerConfig listens on localhost with telemetry on and no rate limit.
func DefaultServerConfig() *ServerConfig {
	maxInFlight := 100
	return &ServerConfig{
		Address:               "localhost:8080",
		AllowedOrigins:        []string{"*"},
		EnableMetrics:         true,
		RequestTimeout:        30 * time.Second,
		MaxConcurrentRequests: &maxInFlight,
		OTelConfig:            DefaultOTelConfig(),
	}
}

func (c *ServerConfig) metricsEnabled() bool {
	return c.EnableMetrics || (c.OTelConfig != nil && c.OTelConfig.UsePrometheus)
}

// Server owns the HTTP listener in front of one bridge host.
type Server struct {
	config       *ServerConfig
	router       chi.Router
	http         *http.Server
	otelShutdown func(context.Context) error
}

// NewServer wires the bridge API in front of h. Telemetry is installed first
// so the host's spans and counters land in the configured exporters.
func NewServer(ctx context.Context, config *ServerConfig, h *host.Host) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}

	s := &Server{config: config}
	if config.OTelConfig.enabled() {
		shutdown, err := NewOTelSDK(ctx, config.OTelConfig)
		if err != nil {
			// serve without telemetry rather than not at all
			Logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry")
		} else {
			s.otelShutdown = shutdown
		}
	}

	s.router = newRouter(config, h)
	s.http = &http.Server{
		Addr:              config.Address,
		Handler:           h2c.NewHandler(newCORSHandler(config.AllowedOrigins, s.router), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      config.requestTimeout() + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

func (c *ServerConfig) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return c.RequestTimeout
}

func newRouter(config *ServerConfig, h *host.Host) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		realIPMiddleware,
		zerologMiddleware,
		zerologRecoverer,
		traceContextMiddleware,
		middleware.Compress(5, "application/json"),
		middleware.Timeout(config.requestTimeout()),
	)
	if config.RatePerMinute != nil && *config.RatePerMinute > 0 {
		r.Use(httprate.LimitByIP(*config.RatePerMinute, time.Minute))
	}
	if config.MaxConcurrentRequests != nil && *config.MaxConcurrentRequests > 0 {
		r.Use(middleware.Throttle(*config.MaxConcurrentRequests))
	}

	r.Route("/server", func(r chi.Router) {
		if config.metricsEnabled() {
			r.Handle("/metrics", promhttp.Handler())
		}
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "ics20-bridge"})
		})
		// ready once the store holds an instantiated bridge
		r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
			ok, err := h.Instantiated(r.Context())
			if err != nil || !ok {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(noCache)
		registerHandlers(r, &handlers{host: h})
	})
	return r
}

// Handler is the routed API without CORS and h2c.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	Logger.Info().
		Str("address", ln.Addr().String()).
		Bool("metrics", s.config.metricsEnabled()).
		Msg("Spectra ICS20 bridge API listening")
	Logger.Info().Msg("\tBridge: /v1/*")
	Logger.Info().Msg("\tProbes: /server/health /server/ready")
	return s.http.Serve(ln)
}

// Shutdown drains in-flight requests, then flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down bridge API")

	err := s.http.Shutdown(ctx)
	if err != nil {
		Logger.Error().Err(err).Msg("Error draining HTTP server")
	}
	if s.otelShutdown != nil {
		if oerr := s.otelShutdown(ctx); oerr != nil {
			Logger.Error().Err(oerr).Msg("Error flushing OpenTelemetry")
			err = errors.Join(err, oerr)
		}
	}
	return err
}
