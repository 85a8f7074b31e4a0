package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/bookshelf/internal/model"
	"github.com/san-kum/bookshelf/internal/repository"
	"github.com/san-kum/bookshelf/internal/service/extractor"
	"github.com/san-kum/bookshelf/internal/service/fetcher"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	calls    int
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, _ fetcher.Options) (*fetcher.Response, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	page, ok := f.pages[url]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if !ok {
		return nil, &fetcher.FetchError{URL: url, Cause: "connection refused", Err: errors.New("dial failed")}
	}
	return &fetcher.Response{URL: url, StatusCode: 200, ContentType: "text/html; charset=utf-8", Body: []byte(page)}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingStore struct{}

func (failingStore) Save(*model.Bookmark) error { return errors.New("disk full") }

func (failingStore) SaveContent(string, []byte) (string, string, error) {
	return "", "", errors.New("disk full")
}

func newRepo(t *testing.T) *repository.BookmarkRepository {
	t.Helper()
	store, err := repository.NewStore(t.TempDir())
	require.NoError(t, err)
	return repository.NewBookmarkRepository(store)
}

func page(title string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body><p>hello there</p></body></html>`, title)
}

func TestIngestMixedBatch(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{"https://a.test/ok": page("OK Page")}}
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	results, err := o.Ingest(context.Background(), Request{
		URLs: []string{"https://a.test/ok", "not-a-url", "https://a.test/ok"},
		Tags: []string{"Reading"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, StatusSuccess, results[0].Status)
	require.Equal(t, "OK Page", results[0].Bookmark.Title)
	require.Equal(t, []string{"reading"}, results[0].Bookmark.Tags)
	require.Equal(t, StatusInvalid, results[1].Status)
	require.NotEmpty(t, results[1].Errors)
	require.Equal(t, StatusDuplicate, results[2].Status)
	require.Equal(t, results[0].ID, results[2].ID)

	require.Equal(t, 1, f.callCount())
	list, err := repo.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestIngestRespectsConcurrencyLimit(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{}, delay: 5 * time.Millisecond}
	urls := make([]string, 50)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://c.test/page-%d", i)
		f.pages[urls[i]] = page(fmt.Sprintf("Page %d", i))
	}
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	results, err := o.Ingest(context.Background(), Request{URLs: urls, Concurrency: 5})
	require.NoError(t, err)
	require.Len(t, results, 50)
	for i, r := range results {
		require.Equal(t, urls[i], r.Input)
		require.Equal(t, StatusSuccess, r.Status)
	}
	require.LessOrEqual(t, atomic.LoadInt32(&f.maxSeen), int32(5))
	require.Equal(t, 50, f.callCount())

	idx, err := repo.Index()
	require.NoError(t, err)
	require.Equal(t, 50, idx.TotalRecords)
}

func TestIngestStoresFallbackRecordOnFetchFailure(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{}}
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	results, err := o.Ingest(context.Background(), Request{URLs: []string{"https://down.test/my-post"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, StatusFailed, results[0].Status)
	require.Contains(t, results[0].Errors[0], "connection refused")

	stored, err := repo.GetByID(results[0].ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "My Post", stored.Title)
	require.Equal(t, model.ExtractedMetadata{}, stored.Metadata)
	require.Equal(t, model.ExtractionFailed, stored.ExtractionStatus)
}

func TestIngestSkipsExistingURLs(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{"https://a.test/x": page("X")}}
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	results, err := o.Ingest(context.Background(), Request{
		URLs:     []string{"HTTPS://A.test/x/"},
		Existing: map[string]struct{}{"https://a.test/x": {}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDuplicate, results[0].Status)
	require.Zero(t, f.callCount())
}

func TestIngestProgressIsMonotonic(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{
		"https://p.test/1": page("One"),
		"https://p.test/2": page("Two"),
	}}
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	var updates []Progress
	_, err := o.Ingest(context.Background(), Request{
		URLs:        []string{"https://p.test/1", "bad url", "https://p.test/2", "https://p.test/1", "https://p.test/missing"},
		Concurrency: 2,
		OnProgress:  func(p Progress) { updates = append(updates, p) },
	})
	require.NoError(t, err)
	require.Len(t, updates, 6)

	for i := 1; i < len(updates); i++ {
		require.GreaterOrEqual(t, updates[i].Processed, updates[i-1].Processed)
	}
	last := updates[len(updates)-1]
	require.True(t, last.Done)
	require.Equal(t, Progress{Total: 5, Processed: 5, Successful: 2, Failed: 2, Duplicates: 1, Done: true}, last)
}

func TestIngestStorageErrorAbortsBatch(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://a.test/1": page("One")}}
	o := New(f, extractor.NewHTMLExtractor(), failingStore{}, 0)

	results, err := o.Ingest(context.Background(), Request{URLs: []string{"https://a.test/1", "https://a.test/2", "https://a.test/3"}, Concurrency: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.Nil(t, results)
	require.Equal(t, 1, f.callCount())
}

func TestIngestStopsWhenCancelled(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{"https://a.test/1": page("One"), "https://a.test/2": page("Two")}}
	o := New(f, extractor.NewHTMLExtractor(), repo, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Ingest(ctx, Request{URLs: []string{"https://a.test/1", "https://a.test/2"}, Concurrency: 1})
		done <- err
	}()

	require.Eventually(t, func() bool { return f.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ingest did not stop after cancel")
	}
	require.Equal(t, 1, f.callCount())
}

func TestIngestCancelledMidChunkStoresNothing(t *testing.T) {
	repo := newRepo(t)
	started := make(chan struct{}, 2)
	f := fetcherFunc(func(ctx context.Context, url string, _ fetcher.Options) (*fetcher.Response, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, &fetcher.FetchError{URL: url, Cause: "cancelled", Err: ctx.Err()}
	})
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var results []Result
	go func() {
		var err error
		results, err = o.Ingest(ctx, Request{URLs: []string{"https://a.test/slow", "https://a.test/slower"}, Concurrency: 2})
		done <- err
	}()

	<-started
	<-started
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ingest did not stop after cancel")
	}
	require.Nil(t, results)

	list, err := repo.List()
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestIngestWithHTTPFetcherStoresFallbackOnLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/huge-report":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>"+strings.Repeat("x", 64<<10)+"</body></html>")
		case "/slow-page":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}
	}))
	t.Cleanup(srv.Close)

	tests := []struct {
		name  string
		path  string
		opts  fetcher.Options
		cause string
		title string
	}{
		{"oversize", "/huge-report", fetcher.Options{MaxBytes: 1 << 10}, "exceeds limit", "Huge Report"},
		{"timeout", "/slow-page", fetcher.Options{Timeout: 50 * time.Millisecond}, "timed out", "Slow Page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t)
			o := New(fetcher.New(nil), extractor.NewHTMLExtractor(), repo, 0)

			results, err := o.Ingest(context.Background(), Request{URLs: []string{srv.URL + tt.path}, Fetch: tt.opts})
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.Equal(t, StatusFailed, results[0].Status)
			require.Contains(t, results[0].Errors[0], tt.cause)

			stored, err := repo.GetByID(results[0].ID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			require.Equal(t, model.ExtractionFailed, stored.ExtractionStatus)
			require.Equal(t, tt.title, stored.Title)
			require.Equal(t, model.ExtractedMetadata{}, stored.Metadata)
			require.Contains(t, stored.ExtractionErrors[0], tt.cause)
		})
	}
}

func TestIngestArchivesContent(t *testing.T) {
	repo := newRepo(t)
	f := &fakeFetcher{pages: map[string]string{"https://a.test/keep": page("Keep")}}
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	results, err := o.Ingest(context.Background(), Request{URLs: []string{"https://a.test/keep"}, SaveContent: true})
	require.NoError(t, err)
	b := results[0].Bookmark
	require.NotNil(t, b.FilePath)
	require.Equal(t, "content/"+b.ID+".html", *b.FilePath)
	require.FileExists(t, *b.AbsolutePath)
}

func TestCaptureSkipsExtractionForBinaryContent(t *testing.T) {
	f := fetcherFunc(func(ctx context.Context, url string, _ fetcher.Options) (*fetcher.Response, error) {
		return &fetcher.Response{URL: url, StatusCode: 200, ContentType: "application/pdf", Body: []byte("%PDF")}, nil
	})
	o := New(f, extractor.NewHTMLExtractor(), failingStore{}, 0)

	md, body, err := o.Capture(context.Background(), "https://a.test/annual-report.pdf", fetcher.Options{})
	require.NoError(t, err)
	require.Equal(t, "Annual Report", md.Title)
	require.Nil(t, body)
}

func TestIngestDoesNotArchiveBinaryContent(t *testing.T) {
	store, err := repository.NewStore(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewBookmarkRepository(store)
	f := fetcherFunc(func(ctx context.Context, url string, _ fetcher.Options) (*fetcher.Response, error) {
		return &fetcher.Response{URL: url, StatusCode: 200, ContentType: "application/pdf", Body: []byte("%PDF")}, nil
	})
	o := New(f, extractor.NewHTMLExtractor(), repo, 0)

	results, err := o.Ingest(context.Background(), Request{URLs: []string{"https://a.test/annual-report.pdf"}, SaveContent: true})
	require.NoError(t, err)
	b := results[0].Bookmark
	require.Equal(t, StatusSuccess, results[0].Status)
	require.Nil(t, b.FilePath)
	require.Nil(t, b.AbsolutePath)

	require.NoFileExists(t, filepath.Join(store.Dir(), "content", b.ID+".html"))
}

type fetcherFunc func(ctx context.Context, url string, opts fetcher.Options) (*fetcher.Response, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string, opts fetcher.Options) (*fetcher.Response, error) {
	return f(ctx, url, opts)
}
