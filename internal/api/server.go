package api

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openloot/faircore/internal/battle"
	"github.com/openloot/faircore/internal/box"
	"github.com/openloot/faircore/internal/replay"
	"github.com/openloot/faircore/internal/seeds"
	"github.com/openloot/faircore/internal/store"
)

// Server handles HTTP requests
type Server struct {
	db             store.DB
	catalog        *box.Catalog
	registry       *seeds.Registry
	machine        *battle.Machine
	verifier       *replay.Verifier
	errorHandler   *ErrorHandler
	logger         *log.Logger
	securityLogger *SecurityLogger
	startTime      time.Time
}

// NewServer creates a new API server
func NewServer(db store.DB, catalog *box.Catalog) *Server {
	logger := log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	errorHandler := NewErrorHandler(logger)
	securityLogger := NewSecurityLogger()

	server := &Server{
		db:             db,
		catalog:        catalog,
		registry:       seeds.NewRegistry(db),
		machine:        battle.NewMachine(db),
		verifier:       replay.NewVerifier(),
		errorHandler:   errorHandler,
		logger:         logger,
		securityLogger: securityLogger,
		startTime:      time.Now(),
	}

	securityLogger.LogSystemStartup("unknown", map[string]interface{}{
		"boxes_available":  len(catalog.List()),
		"database_enabled": server.db != nil,
	})

	return server
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.CORSMiddleware)

	// Health and monitoring endpoints
	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/ready", s.handleReadiness)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/metrics", s.handleMetrics)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/seeds/commit", s.handleSeedCommit)
		r.Post("/seeds/rotate", s.handleSeedRotate)
		r.Put("/seeds/client", s.handleClientSeed)

		r.Get("/boxes", s.handleListBoxes)
		r.Post("/outcomes", s.handleOpenBox)
		r.Get("/outcomes", s.handleListOutcomes)

		r.Post("/verify", s.handleVerify)
		r.Post("/scan", s.handleScan)

		r.Post("/battles", s.handleBattleCreate)
		r.Get("/battles/{id}", s.handleBattleGet)
		r.Post("/battles/{id}/join", s.handleBattleJoin)
		r.Post("/battles/{id}/advance", s.handleBattleAdvance)
		r.Post("/battles/{id}/forfeit", s.handleBattleForfeit)
		r.Post("/battles/{id}/claim", s.handleBattleClaim)
	})

	return r
}

// CORSMiddleware allows cross-origin access to the verification surface.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decode reads a JSON request body into dst.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
