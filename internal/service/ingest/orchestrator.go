package ingest

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/bookshelf/internal/metrics"
	"github.com/san-kum/bookshelf/internal/model"
	"github.com/san-kum/bookshelf/internal/service/fetcher"
	"github.com/san-kum/bookshelf/internal/service/urlutil"
)

const DefaultChunkDelay = time.Second

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
	StatusInvalid   Status = "invalid"
)

// Result is the terminal outcome for one submitted URL.
type Result struct {
	Input    string          `json:"input"`
	URL      string          `json:"url,omitempty"`
	ID       string          `json:"id,omitempty"`
	Status   Status          `json:"status"`
	Bookmark *model.Bookmark `json:"bookmark,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
}

type Progress struct {
	Total      int    `json:"total"`
	Processed  int    `json:"processed"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Duplicates int    `json:"duplicates"`
	CurrentURL string `json:"currentUrl,omitempty"`
	Done       bool   `json:"done"`
}

// ProgressFunc receives a copy of the counters after every completed URL.
// Calls are serialized.
type ProgressFunc func(Progress)

type Extractor interface {
	Extract(body []byte, pageURL string) model.ExtractedMetadata
}

type Store interface {
	Save(bookmark *model.Bookmark) error
	SaveContent(id string, body []byte) (string, string, error)
}

type Request struct {
	URLs []string
	Tags []string
	// Existing holds normalized URLs already in the store.
	Existing    map[string]struct{}
	Concurrency int
	SaveContent bool
	Fetch       fetcher.Options
	OnProgress  ProgressFunc
}

type Orchestrator struct {
	fetcher    fetcher.Fetcher
	extractor  Extractor
	store      Store
	chunkDelay time.Duration
}

func New(f fetcher.Fetcher, e Extractor, s Store, chunkDelay time.Duration) *Orchestrator {
	if chunkDelay < 0 {
		chunkDelay = 0
	}
	return &Orchestrator{
		fetcher:    f,
		extractor:  e,
		store:      s,
		chunkDelay: chunkDelay,
	}
}

// Ingest processes req.URLs in sequential chunks of req.Concurrency. Every
// input yields exactly one Result, in input order. Only storage failures and
// context cancellation abort the batch; an aborted batch returns no results.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) ([]Result, error) {
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = model.DefaultMaxConcurrentExtractions
	}
	tags := model.NormalizeTags(req.Tags)
	track := newTracker(len(req.URLs), req.OnProgress)
	results := make([]Result, len(req.URLs))

	metrics.IngestBatchesTotal.Inc()
	log.Info().Int("urls", len(req.URLs)).Int("concurrency", concurrency).Msg("Starting ingestion")

	known := make(map[string]struct{}, len(req.Existing))
	for u := range req.Existing {
		known[urlutil.ID(u)] = struct{}{}
	}

	pending := make([]int, 0, len(req.URLs))
	for i, raw := range req.URLs {
		normalized, err := urlutil.Normalize(raw)
		if err != nil {
			results[i] = Result{Input: raw, Status: StatusInvalid, Errors: []string{err.Error()}}
			track.complete(results[i])
			continue
		}
		id := urlutil.ID(normalized)
		results[i] = Result{Input: raw, URL: normalized, ID: id}
		if _, dup := known[id]; dup {
			results[i].Status = StatusDuplicate
			track.complete(results[i])
			continue
		}
		known[id] = struct{}{}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += concurrency {
		if start > 0 {
			if err := sleep(ctx, o.chunkDelay); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+concurrency, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		for _, i := range pending[start:end] {
			g.Go(func() error {
				res, err := o.process(gctx, results[i], tags, req)
				if err != nil {
					return err
				}
				results[i] = res
				track.complete(res)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Error().Err(err).Msg("Ingestion aborted")
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("Ingestion cancelled")
			return nil, err
		}
	}

	final := track.finish()
	log.Info().
		Int("successful", final.Successful).
		Int("failed", final.Failed).
		Int("duplicates", final.Duplicates).
		Msg("Ingestion complete")
	return results, nil
}

func (o *Orchestrator) process(ctx context.Context, res Result, tags []string, req Request) (Result, error) {
	bookmark := model.NewBookmark(res.ID, res.URL, urlutil.TitleFromURL(res.URL))
	for _, t := range tags {
		bookmark.AddTag(t)
	}

	md, body, err := o.Capture(ctx, res.URL, req.Fetch)
	if err != nil && ctx.Err() != nil {
		// the user gave up on this batch; nothing worth keeping
		return res, ctx.Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("url", res.URL).Msg("Capture failed, storing fallback record")
		bookmark.Fail(err.Error())
	} else {
		bookmark.Metadata = md
		if md.Title != "" {
			bookmark.Title = md.Title
		}
		if req.SaveContent && body != nil {
			rel, abs, err := o.store.SaveContent(res.ID, body)
			if err != nil {
				return res, fmt.Errorf("archive %s: %w", res.URL, err)
			}
			bookmark.FilePath = &rel
			bookmark.AbsolutePath = &abs
		}
	}

	if err := o.store.Save(bookmark); err != nil {
		return res, fmt.Errorf("save %s: %w", res.URL, err)
	}

	res.Bookmark = bookmark
	res.Status = StatusSuccess
	if bookmark.ExtractionStatus == model.ExtractionFailed {
		res.Status = StatusFailed
		res.Errors = append([]string(nil), bookmark.ExtractionErrors...)
	}
	return res, nil
}

// Capture fetches one page and extracts its metadata. The error is a
// *fetcher.FetchError or an extraction failure; either way nothing is stored.
// body is nil for content that is not markup, which is never archived.
func (o *Orchestrator) Capture(ctx context.Context, pageURL string, opts fetcher.Options) (md model.ExtractedMetadata, body []byte, err error) {
	start := time.Now()
	resp, err := o.fetcher.Fetch(ctx, pageURL, opts)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return md, nil, err
	}
	metrics.FetchedBytes.Add(float64(len(resp.Body)))

	if !isMarkup(resp.ContentType) {
		log.Debug().Str("url", pageURL).Str("content_type", resp.ContentType).Msg("Skipping extraction for non-markup content")
		return model.ExtractedMetadata{Title: urlutil.TitleFromURL(pageURL)}, nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract %s: %v", pageURL, r)
		}
	}()
	body = resp.Body
	if body == nil {
		body = []byte{}
	}
	return o.extractor.Extract(body, pageURL), body, nil
}

func isMarkup(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	return strings.HasPrefix(mediaType, "text/") || strings.Contains(mediaType, "html") || strings.Contains(mediaType, "xml")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type tracker struct {
	mu       sync.Mutex
	progress Progress
	notify   ProgressFunc
}

func newTracker(total int, notify ProgressFunc) *tracker {
	return &tracker{progress: Progress{Total: total}, notify: notify}
}

func (t *tracker) complete(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.Processed++
	switch r.Status {
	case StatusSuccess:
		t.progress.Successful++
	case StatusDuplicate:
		t.progress.Duplicates++
	default:
		t.progress.Failed++
	}
	t.progress.CurrentURL = r.Input
	metrics.IngestResultsTotal.WithLabelValues(string(r.Status)).Inc()
	if t.notify != nil {
		t.notify(t.progress)
	}
}

func (t *tracker) finish() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.Done = true
	t.progress.CurrentURL = ""
	if t.notify != nil {
		t.notify(t.progress)
	}
	return t.progress
}
