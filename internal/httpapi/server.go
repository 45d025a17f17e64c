// Package httpapi exposes the session façade over HTTP. Handlers are
// thin adapters: decode, call the façade, map errors to status codes.
// No pipeline rule lives here.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"scrapeforge/internal/session"
)

// Server wraps the chi router around the façade.
type Server struct {
	svc    *session.Service
	logger *zap.Logger
	router *chi.Mux
}

// NewServer builds the router.
func NewServer(svc *session.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/spec", s.handleGenerateSpec)
			r.Post("/gates/{kind}/decide", s.handleDecideGate)
			r.Post("/scraper", s.handleGenerateScraper)
			r.Get("/scraper", s.handleGetScraper)
			r.Delete("/scraper", s.handleCancelScraper)
			r.Get("/diffs", s.handleGetDiffs)
			r.Get("/download", s.handleDownload)
		})
	})

	s.router = r
	return s
}

// Handler returns the http handler for mounting.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
