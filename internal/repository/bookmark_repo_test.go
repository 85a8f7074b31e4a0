package repository

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/bookshelf/internal/model"
)

func newTestRepo(t *testing.T) (*BookmarkRepository, *Store) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return NewBookmarkRepository(store), store
}

func bookmarkAt(id string, added time.Time, tags ...string) *model.Bookmark {
	b := model.NewBookmark(id, "https://example.com/"+id, "Title "+id)
	b.DateAdded = added
	b.DateModified = added
	for _, t := range tags {
		b.AddTag(t)
	}
	return b
}

func readIndexFile(t *testing.T, store *Store) model.BookmarkIndex {
	t.Helper()
	data, err := os.ReadFile(store.indexPath())
	require.NoError(t, err)
	var idx model.BookmarkIndex
	require.NoError(t, json.Unmarshal(data, &idx))
	return idx
}

func TestSaveGetDelete(t *testing.T) {
	repo, store := newTestRepo(t)

	b := bookmarkAt("abc", time.Now().UTC(), "go")
	require.NoError(t, repo.Save(b))
	require.FileExists(t, filepath.Join(store.Dir(), "bookmarks", "abc.json"))

	got, err := repo.GetByID("abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, b.URL, got.URL)
	require.Equal(t, []string{"go"}, got.Tags)
	require.True(t, repo.Exists("abc"))

	missing, err := repo.GetByID("nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	removed, err := repo.Delete("abc")
	require.NoError(t, err)
	require.True(t, removed)
	require.False(t, repo.Exists("abc"))

	removed, err = repo.Delete("abc")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestSaveIsPrettyPrinted(t *testing.T) {
	repo, store := newTestRepo(t)
	require.NoError(t, repo.Save(bookmarkAt("pretty", time.Now())))

	data, err := os.ReadFile(filepath.Join(store.Dir(), "bookmarks", "pretty.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  \"id\": \"pretty\"")
}

func TestRejectsUnsafeIDs(t *testing.T) {
	repo, _ := newTestRepo(t)

	require.Error(t, repo.Save(bookmarkAt("../escape", time.Now())))
	got, err := repo.GetByID("../escape")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListNewestFirstAndSkipsCorrupt(t *testing.T) {
	repo, store := newTestRepo(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(bookmarkAt("old", base)))
	require.NoError(t, repo.Save(bookmarkAt("new", base.Add(2*time.Hour))))
	require.NoError(t, repo.Save(bookmarkAt("mid", base.Add(time.Hour))))

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "bookmarks", "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "bookmarks", "notes.txt"), []byte("ignored"), 0o644))

	list, err := repo.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "new", list[0].ID)
	require.Equal(t, "mid", list[1].ID)
	require.Equal(t, "old", list[2].ID)
}

func TestIndexMatchesRecordsAfterMutations(t *testing.T) {
	repo, store := newTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Save(bookmarkAt("a", now, "Go", "web")))
	require.NoError(t, repo.Save(bookmarkAt("b", now.Add(time.Second), "tools")))
	require.NoError(t, repo.Save(bookmarkAt("c", now.Add(2*time.Second), "web", "zig")))
	_, err := repo.Delete("b")
	require.NoError(t, err)

	a, err := repo.GetByID("a")
	require.NoError(t, err)
	a.AddTag("alpha")
	require.NoError(t, repo.Save(a))

	assertIndexConsistent(t, repo, store)
	idx := readIndexFile(t, store)
	require.Equal(t, []string{"alpha", "go", "web", "zig"}, idx.AllTags)
	require.Equal(t, model.IndexVersion, idx.Version)
	require.Equal(t, "c", idx.Bookmarks[0].ID)
}

func TestConcurrentSavesLeaveConsistentIndex(t *testing.T) {
	repo, store := newTestRepo(t)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			errs <- repo.Save(bookmarkAt(id, now.Add(time.Duration(i)*time.Second), "t"+id))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertIndexConsistent(t, repo, store)
	require.Equal(t, 20, readIndexFile(t, store).TotalRecords)
}

func TestSaveAllRebuildsOnce(t *testing.T) {
	repo, store := newTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.SaveAll([]*model.Bookmark{
		bookmarkAt("x", now, "one"),
		bookmarkAt("y", now, "two"),
	}))
	assertIndexConsistent(t, repo, store)
}

func TestIndexRebuildsWhenMissing(t *testing.T) {
	repo, store := newTestRepo(t)
	require.NoError(t, repo.Save(bookmarkAt("a", time.Now())))
	require.NoError(t, os.Remove(store.indexPath()))

	idx, err := repo.Index()
	require.NoError(t, err)
	require.Equal(t, 1, idx.TotalRecords)
	require.FileExists(t, store.indexPath())
}

func TestSaveContent(t *testing.T) {
	repo, store := newTestRepo(t)

	rel, abs, err := repo.SaveContent("page", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "content/page.html", rel)
	require.Equal(t, filepath.Join(store.Dir(), "content", "page.html"), abs)

	require.NoError(t, repo.Save(bookmarkAt("page", time.Now())))
	_, err = repo.Delete("page")
	require.NoError(t, err)
	require.NoFileExists(t, abs)
}

func TestStorageErrorsPropagate(t *testing.T) {
	repo, store := newTestRepo(t)
	require.NoError(t, os.RemoveAll(filepath.Join(store.Dir(), "bookmarks")))
	// a regular file where the directory should be makes every write fail
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "bookmarks"), nil, 0o644))

	err := repo.Save(bookmarkAt("a", time.Now()))
	var serr *StorageError
	require.True(t, errors.As(err, &serr))
}

func TestSettingsDefaults(t *testing.T) {
	_, store := newTestRepo(t)
	settings := NewSettingsRepository(store)

	got, err := settings.Load()
	require.NoError(t, err)
	require.Equal(t, model.DefaultSettings(), got)
	require.FileExists(t, store.settingsPath())

	require.NoError(t, os.WriteFile(store.settingsPath(), []byte(`{"maxConcurrentExtractions": 2, "maxContentBytes": -1, "saveContentByDefault": true}`), 0o644))
	got, err = settings.Load()
	require.NoError(t, err)
	require.Equal(t, 2, got.MaxConcurrentExtractions)
	require.Equal(t, int64(model.DefaultMaxContentBytes), got.MaxContentBytes)
	require.Equal(t, model.DefaultExtractionTimeoutMs, got.ExtractionTimeoutMs)
	require.True(t, got.SaveContentByDefault)
}

func assertIndexConsistent(t *testing.T, repo *BookmarkRepository, store *Store) {
	t.Helper()
	list, err := repo.List()
	require.NoError(t, err)
	idx := readIndexFile(t, store)

	require.Equal(t, len(list), idx.TotalRecords)
	require.Len(t, idx.Bookmarks, len(list))

	union := map[string]bool{}
	for _, b := range list {
		for _, tag := range b.Tags {
			union[tag] = true
		}
	}
	want := make([]string, 0, len(union))
	for tag := range union {
		want = append(want, tag)
	}
	sort.Strings(want)
	require.Equal(t, want, idx.AllTags)
}
