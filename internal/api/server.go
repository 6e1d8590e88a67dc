// Package api exposes the profile library and device operations over HTTP
// for web UIs and automation. Device routes work against an interface so
// the server runs, and is testable, without BLE hardware attached.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/device"
	"github.com/josiah-nelson/sfplib/internal/session"
	"github.com/josiah-nelson/sfplib/internal/store"
)

// Device is the slice of the device manager the HTTP surface needs. A nil
// Device serves library routes only; device routes answer 503.
type Device interface {
	FirmwareVersion() string
	Status(ctx context.Context) (*session.Status, error)
	Capture(ctx context.Context) (*device.CaptureResult, error)
	WriteProfile(ctx context.Context, hashOrPrefix string, verify bool) (*device.WriteResult, error)
	Erase(ctx context.Context) error
}

// Server is the REST API server.
type Server struct {
	store   *store.Store
	backups *store.Backups
	dev     Device
	log     zerolog.Logger
	router  chi.Router
	server  *http.Server
}

// NewServer creates the API server. backups and dev may be nil.
func NewServer(st *store.Store, backups *store.Backups, dev Device, log zerolog.Logger) *Server {
	s := &Server{
		store:   st,
		backups: backups,
		dev:     dev,
		log:     log,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // device writes are slow
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routing tree, for mounting or tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.handleListProfiles)
			r.Post("/import", s.handleImportProfile)
			r.Route("/{hash}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Get("/export", s.handleExportProfile)
				r.Delete("/", s.handleDeleteProfile)
			})
		})

		r.Route("/device", func(r chi.Router) {
			r.Use(s.requireDevice)
			r.Get("/version", s.handleDeviceVersion)
			r.Get("/status", s.handleDeviceStatus)
			r.Post("/capture", s.handleCapture)
			r.Post("/write", s.handleWrite)
			r.Post("/erase", s.handleErase)
		})

		r.Route("/backups", func(r chi.Router) {
			r.Use(s.requireBackups)
			r.Get("/", s.handleListBackups)
			r.Post("/", s.handleCreateBackup)
			r.Post("/{name}/restore", s.handleRestoreBackup)
		})
	})
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server.Addr = addr
	s.log.Info().Str("addr", addr).Msg("starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.dev == nil {
			s.respondError(w, http.StatusServiceUnavailable, "no device connected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireBackups(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.backups == nil {
			s.respondError(w, http.StatusServiceUnavailable, "backups not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
