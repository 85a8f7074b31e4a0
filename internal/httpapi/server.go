package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/service"
	"github.com/san-kum/bookshelf/internal/service/search"
)

type Deps struct {
	Bookmarks *service.BookmarkService
	Search    *search.SearchService
	StartTime time.Time
}

type Server struct {
	http *http.Server
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	h := &handlers{bookmarks: d.Bookmarks, search: d.Search, started: d.StartTime}

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/bookmarks/ingest", h.ingest)
		r.Get("/bookmarks", h.list)
		r.Get("/bookmarks/{id}", h.get)
		r.Patch("/bookmarks/{id}", h.update)
		r.Delete("/bookmarks/{id}", h.delete)
		r.Post("/bookmarks/{id}/refresh", h.refresh)
		r.Get("/search", h.searchBookmarks)
		r.Get("/tags", h.tags)
		r.Get("/index", h.index)
	})
	return r
}

func New(addr string, d Deps) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Start blocks until the server fails or is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down...")
	return s.http.Shutdown(ctx)
}
