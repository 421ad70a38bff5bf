package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fortuna/lheq/internal/cache"
	"github.com/fortuna/lheq/internal/metrics"
	"github.com/fortuna/lheq/internal/store"
)

// Options collects the server dependencies. Jobs, Updates, DB and Cache are optional.
type Options struct {
	Port                  string
	WebDir                string
	GamesDir              string
	GamesIndexPath        string
	TournamentScheduleIDs []int64

	Files   *FileCache
	Jobs    JobService
	Updates http.Handler
	Metrics *metrics.Registry
	DB      *store.Database
	Cache   *cache.RedisCache
	Logger  zerolog.Logger
}

// Server represents the REST API server
type Server struct {
	port    string
	server  *http.Server
	router  *mux.Router
	handler *Handler
}

// NewServer creates a new REST API server
func NewServer(opts Options) *Server {
	handler := NewHandler(opts)
	backfillHandler := NewBackfillHandler(opts.Jobs)

	router := mux.NewRouter()

	// Apply middleware
	router.Use(RequestIDMiddleware)
	router.Use(RecoveryMiddleware(opts.Logger))
	router.Use(LoggingMiddleware(opts.Logger, opts.Metrics))
	router.Use(CORSMiddleware)

	// Health check
	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	router.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	if opts.Updates != nil {
		router.Handle("/ws/updates", opts.Updates).Methods("GET")
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/teams", handler.GetTeams).Methods("GET")
	api.HandleFunc("/teams/{teamID}", handler.GetTeam).Methods("GET")
	api.HandleFunc("/teams/{teamID}/profile", handler.GetTeamProfile).Methods("GET")
	api.HandleFunc("/divisions", handler.GetDivisions).Methods("GET")
	api.HandleFunc("/leaders", handler.GetLeaders).Methods("GET")
	api.HandleFunc("/players", handler.GetPlayers).Methods("GET")
	api.HandleFunc("/games", handler.GetGames).Methods("GET")
	api.HandleFunc("/games/{gameID}", handler.GetGame).Methods("GET")
	api.HandleFunc("/standings", handler.GetStandings).Methods("GET")
	api.HandleFunc("/stats/last-run", handler.GetLastRun).Methods("GET")

	// Jobs
	api.HandleFunc("/jobs", backfillHandler.HandleJobRequest).Methods("POST", "OPTIONS")
	api.HandleFunc("/jobs/status", backfillHandler.HandleJobStatus).Methods("GET")

	// Dashboard
	if opts.WebDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(opts.WebDir))).Methods("GET", "HEAD")
	}

	return &Server{
		port:    opts.Port,
		router:  router,
		handler: handler,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", opts.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the REST API server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
