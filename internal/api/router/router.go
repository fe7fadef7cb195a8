package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/careloop-health/screener-engine/internal/http/middleware"
	"github.com/careloop-health/screener-engine/internal/screener"
	"github.com/careloop-health/screener-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	ScreenerHandler *screener.Handler
	StreamHandler   *screener.StreamHandler
	MetricsHandler  http.Handler

	SessionJWTSecret   string
	CORSAllowedOrigins []string

	// MessageRateLimit caps message turns per second per IP; zero disables
	// the limiter.
	MessageRateLimit float64
	MessageRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated screener endpoints
	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.SessionJWT(cfg.SessionJWTSecret))

		private.Route("/conversations", func(c chi.Router) {
			c.Post("/", cfg.ScreenerHandler.Start)
			c.Route("/{id}", func(conv chi.Router) {
				if cfg.MessageRateLimit > 0 {
					conv.Use(httpmiddleware.RateLimit(cfg.MessageRateLimit, cfg.MessageRateBurst))
				}
				conv.Post("/messages", cfg.ScreenerHandler.Message)
				conv.Get("/messages", cfg.ScreenerHandler.Transcript)
				conv.Post("/safety_response", cfg.ScreenerHandler.SafetyResponse)
				if cfg.StreamHandler != nil {
					conv.Get("/stream", cfg.StreamHandler.Stream)
				}
			})
		})
	})

	return r
}
