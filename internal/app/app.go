package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/httpapi"
	"github.com/san-kum/bookshelf/internal/metrics"
	"github.com/san-kum/bookshelf/internal/repository"
	"github.com/san-kum/bookshelf/internal/service"
	"github.com/san-kum/bookshelf/internal/service/extractor"
	"github.com/san-kum/bookshelf/internal/service/fetcher"
	"github.com/san-kum/bookshelf/internal/service/ingest"
	"github.com/san-kum/bookshelf/internal/service/search"
)

type App struct {
	config        *Config
	store         *repository.Store
	bookmarkRepo  *repository.BookmarkRepository
	bookmarkSvc   *service.BookmarkService
	searchService *search.SearchService
}

func NewApp(config *Config) (*App, error) {
	store, err := repository.NewStore(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	bookmarkRepo := repository.NewBookmarkRepository(store)
	settingsRepo := repository.NewSettingsRepository(store)
	if _, err := settingsRepo.Load(); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	orchestrator := ingest.New(fetcher.New(nil), extractor.NewHTMLExtractor(), bookmarkRepo, config.ChunkDelay)
	bookmarkSvc := service.NewBookmarkService(bookmarkRepo, settingsRepo, orchestrator)

	return &App{
		config:        config,
		store:         store,
		bookmarkRepo:  bookmarkRepo,
		bookmarkSvc:   bookmarkSvc,
		searchService: search.NewSearchService(bookmarkSvc),
	}, nil
}

// Serve runs the HTTP surface until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := httpapi.New(a.config.ListenAddr, httpapi.Deps{
		Bookmarks: a.bookmarkSvc,
		Search:    a.searchService,
		StartTime: time.Now(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func (a *App) cleanup() {
	if a.config.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.config.MetricsFile); err != nil {
		log.Error().Err(err).Str("file", a.config.MetricsFile).Msg("Failed to write metrics")
	}
}
