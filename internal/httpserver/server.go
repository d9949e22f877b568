// Package httpserver implements the thin HTTP surface the spec names as
// out-of-core-scope (§1): sync trigger/status, portfolio reads, BTC
// insights, and account settings, wrapped in the {data,error,meta}
// envelope, grounded on the teacher's chi-based server.go/handlers.go.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/angelperezz21/crypto-portfolio/internal/exchange"
	"github.com/angelperezz21/crypto-portfolio/internal/portfolio"
	"github.com/angelperezz21/crypto-portfolio/internal/security"
	"github.com/angelperezz21/crypto-portfolio/internal/store"
	"github.com/angelperezz21/crypto-portfolio/internal/sync"
)

// Config configures a new Server.
type Config struct {
	Log         zerolog.Logger
	Store       *store.Store
	Portfolio   *portfolio.Service
	SyncJob     *sync.Job
	Registry    *sync.Registry
	Box         *security.Box
	LivePrices  exchange.LivePriceProvider
	AccountID   uuid.UUID
	Port        int
	CORSOrigins []string
	AuthMiddleware func(http.Handler) http.Handler // no-op seam; auth is out of scope per spec §1
}

// Server is the chi-routed HTTP surface.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger
	store      *store.Store
	portfolio  *portfolio.Service
	syncJob    *sync.Job
	registry   *sync.Registry
	box        *security.Box
	livePrices exchange.LivePriceProvider
	accountID  uuid.UUID
}

func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "httpserver").Logger(),
		store:      cfg.Store,
		portfolio:  cfg.Portfolio,
		syncJob:    cfg.SyncJob,
		registry:   cfg.Registry,
		box:        cfg.Box,
		livePrices: cfg.LivePrices,
		accountID:  cfg.AccountID,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	authMW := cfg.AuthMiddleware
	if authMW == nil {
		authMW = func(next http.Handler) http.Handler { return next } // auth is out of scope (spec §1)
	}

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(authMW)
		r.Post("/sync/trigger", s.handleSyncTrigger)
		r.Get("/sync/status", s.handleSyncStatus)

		r.Get("/portfolio/overview", s.handleOverview)
		r.Get("/portfolio/assets", s.handleAssets)
		r.Get("/portfolio/dca/{asset}", s.handleDCA)
		r.Get("/portfolio/performance", s.handlePerformance)
		r.Get("/portfolio/drawdown", s.handleDrawdown)
		r.Get("/portfolio/fiscal-year/{year}", s.handleFiscalYear)

		r.Get("/btc-insights", s.handleBTCInsights)

		r.Put("/settings", s.handleSettingsUpdate)
	})

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server starting")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "healthy"}, nil)
}
