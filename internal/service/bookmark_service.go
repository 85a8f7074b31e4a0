package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/model"
	"github.com/san-kum/bookshelf/internal/repository"
	"github.com/san-kum/bookshelf/internal/service/fetcher"
	"github.com/san-kum/bookshelf/internal/service/ingest"
	"github.com/san-kum/bookshelf/internal/service/urlutil"
)

const ExportVersion = 1

var (
	ErrNotFound = repository.ErrNotFound
	// ErrInvalid wraps edits that would leave a bookmark in an invalid state.
	ErrInvalid = errors.New("invalid bookmark update")
)

type BookmarkService struct {
	repo     *repository.BookmarkRepository
	settings *repository.SettingsRepository
	ingester *ingest.Orchestrator
}

func NewBookmarkService(repo *repository.BookmarkRepository, settings *repository.SettingsRepository, ingester *ingest.Orchestrator) *BookmarkService {
	return &BookmarkService{
		repo:     repo,
		settings: settings,
		ingester: ingester,
	}
}

type IngestOptions struct {
	Tags []string
	// Concurrency overrides maxConcurrentExtractions when positive.
	Concurrency int
	// SaveContent overrides saveContentByDefault when set.
	SaveContent *bool
	OnProgress  ingest.ProgressFunc
}

// Ingest validates, deduplicates, fetches, extracts and stores every URL.
// Per-URL failures are reported in the results; the error is reserved for
// storage failures and cancellation.
func (s *BookmarkService) Ingest(ctx context.Context, urls []string, opts IngestOptions) ([]ingest.Result, error) {
	settings, err := s.settings.Load()
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.List()
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, b := range existing {
		known[b.URL] = struct{}{}
	}

	concurrency := settings.MaxConcurrentExtractions
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	saveContent := settings.SaveContentByDefault
	if opts.SaveContent != nil {
		saveContent = *opts.SaveContent
	}

	return s.ingester.Ingest(ctx, ingest.Request{
		URLs:        urls,
		Tags:        opts.Tags,
		Existing:    known,
		Concurrency: concurrency,
		SaveContent: saveContent,
		Fetch:       fetchOptions(settings),
		OnProgress:  opts.OnProgress,
	})
}

func fetchOptions(settings model.Settings) fetcher.Options {
	return fetcher.Options{
		Timeout:  settings.ExtractionTimeout(),
		MaxBytes: settings.MaxContentBytes,
	}
}

func (s *BookmarkService) List() ([]*model.Bookmark, error) {
	return s.repo.List()
}

func (s *BookmarkService) Get(id string) (*model.Bookmark, error) {
	bookmark, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if bookmark == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return bookmark, nil
}

// BookmarkUpdate is a partial edit. Nil fields are left alone; a non-nil
// Tags replaces the whole tag list before AddTags and RemoveTags apply.
type BookmarkUpdate struct {
	Title       *string                  `json:"title,omitempty"`
	Description *string                  `json:"description,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	AddTags     []string                 `json:"addTags,omitempty"`
	RemoveTags  []string                 `json:"removeTags,omitempty"`
	Metadata    *model.ExtractedMetadata `json:"metadata,omitempty"`
}

func (s *BookmarkService) Update(id string, update BookmarkUpdate) (*model.Bookmark, error) {
	var title string
	if update.Title != nil {
		title = strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalid)
		}
	}

	bookmark, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if update.Metadata != nil {
		bookmark.Metadata = *update.Metadata
	}
	if update.Title != nil {
		bookmark.Title = title
	}
	if update.Description != nil {
		bookmark.Metadata.Description = *update.Description
	}
	if update.Tags != nil {
		bookmark.Tags = model.NormalizeTags(update.Tags)
	}
	for _, t := range update.AddTags {
		bookmark.AddTag(t)
	}
	for _, t := range update.RemoveTags {
		bookmark.RemoveTag(t)
	}
	bookmark.Touch()

	if err := s.repo.Save(bookmark); err != nil {
		return nil, err
	}
	log.Info().Str("id", id).Msg("Bookmark updated")
	return bookmark, nil
}

func (s *BookmarkService) Delete(id string) error {
	removed, err := s.repo.Delete(id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	log.Info().Str("id", id).Msg("Bookmark deleted")
	return nil
}

// Refresh re-fetches an existing bookmark. Identity, tags and dateAdded are
// kept. When the page cannot be captured the previous metadata stays and the
// failure is recorded on the bookmark.
func (s *BookmarkService) Refresh(ctx context.Context, id string) (*model.Bookmark, error) {
	bookmark, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Load()
	if err != nil {
		return nil, err
	}

	md, body, err := s.ingester.Capture(ctx, bookmark.URL, fetchOptions(settings))
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Refresh failed, keeping previous metadata")
		bookmark.Fail(err.Error())
	} else {
		bookmark.Metadata = md
		if md.Title != "" {
			bookmark.Title = md.Title
		}
		bookmark.ExtractionStatus = model.ExtractionSuccess
		bookmark.ExtractionErrors = make([]string, 0)
		if body != nil && (bookmark.FilePath != nil || settings.SaveContentByDefault) {
			rel, abs, err := s.repo.SaveContent(bookmark.ID, body)
			if err != nil {
				return nil, err
			}
			bookmark.FilePath = &rel
			bookmark.AbsolutePath = &abs
		}
	}
	bookmark.Touch()

	if err := s.repo.Save(bookmark); err != nil {
		return nil, err
	}
	return bookmark, nil
}

func (s *BookmarkService) Tags() ([]string, error) {
	index, err := s.repo.Index()
	if err != nil {
		return nil, err
	}
	return index.AllTags, nil
}

func (s *BookmarkService) Index() (*model.BookmarkIndex, error) {
	return s.repo.Index()
}

func (s *BookmarkService) Settings() (model.Settings, error) {
	return s.settings.Load()
}

type exportFile struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Bookmarks  []*model.Bookmark `json:"bookmarks"`
}

func (s *BookmarkService) Export(w io.Writer) (int, error) {
	bookmarks, err := s.repo.List()
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportFile{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Bookmarks:  bookmarks,
	}); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	return len(bookmarks), nil
}

// ExportAll writes the export to path.
func (s *BookmarkService) ExportAll(path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	n, err := s.Export(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close export file: %w", cerr)
	}
	return n, err
}

type ImportSummary struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import reads an export file, or a bare array of bookmarks, and stores the
// entries whose URL is not already present. Ids are re-derived from the
// normalized URL.
func (s *BookmarkService) Import(r io.Reader) (ImportSummary, error) {
	var summary ImportSummary

	data, err := io.ReadAll(r)
	if err != nil {
		return summary, fmt.Errorf("read import: %w", err)
	}
	var incoming []*model.Bookmark
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &incoming)
	} else {
		var file exportFile
		err = json.Unmarshal(trimmed, &file)
		incoming = file.Bookmarks
	}
	if err != nil {
		return summary, fmt.Errorf("decode import: %w", err)
	}

	seen := make(map[string]bool, len(incoming))
	accepted := make([]*model.Bookmark, 0, len(incoming))
	for _, b := range incoming {
		if b == nil {
			summary.Skipped++
			continue
		}
		normalized, err := urlutil.Normalize(b.URL)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping import entry with invalid url")
			summary.Skipped++
			continue
		}
		id := urlutil.ID(normalized)
		if seen[id] || s.repo.Exists(id) {
			summary.Skipped++
			continue
		}
		seen[id] = true
		accepted = append(accepted, prepareImported(b, id, normalized))
	}

	if len(accepted) > 0 {
		if err := s.repo.SaveAll(accepted); err != nil {
			return summary, err
		}
	}
	summary.Imported = len(accepted)
	log.Info().Int("imported", summary.Imported).Int("skipped", summary.Skipped).Msg("Import complete")
	return summary, nil
}

func (s *BookmarkService) ImportFrom(path string) (ImportSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return s.Import(f)
}

func prepareImported(b *model.Bookmark, id, normalized string) *model.Bookmark {
	b.ID = id
	b.URL = normalized
	b.Tags = model.NormalizeTags(b.Tags)
	if b.ExtractionErrors == nil {
		b.ExtractionErrors = make([]string, 0)
	}
	if b.ExtractionStatus == "" {
		b.ExtractionStatus = model.ExtractionSuccess
	}
	if b.Title == "" {
		b.Title = firstNonEmpty(b.Metadata.Title, urlutil.TitleFromURL(normalized))
	}
	// archived content is not part of an export
	b.FilePath = nil
	b.AbsolutePath = nil

	now := time.Now().UTC()
	if b.DateAdded.IsZero() {
		b.DateAdded = now
	}
	if b.DateModified.IsZero() {
		b.DateModified = b.DateAdded
	}
	return b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
