package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/model"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// BookmarkRepository keeps one JSON file per bookmark. Saves are
// last-writer-wins; every mutation ends with a full index rebuild.
type BookmarkRepository struct {
	store *Store

	// indexMu serializes rebuilds so the last one to finish has seen every
	// write that preceded it.
	indexMu sync.Mutex
}

func NewBookmarkRepository(store *Store) *BookmarkRepository {
	return &BookmarkRepository{
		store: store,
	}
}

func (r *BookmarkRepository) Save(bookmark *model.Bookmark) error {
	if err := r.write(bookmark); err != nil {
		return err
	}
	_, err := r.RebuildIndex()
	return err
}

// SaveAll writes every bookmark and rebuilds the index once at the end.
func (r *BookmarkRepository) SaveAll(bookmarks []*model.Bookmark) error {
	for _, b := range bookmarks {
		if err := r.write(b); err != nil {
			return err
		}
	}
	_, err := r.RebuildIndex()
	return err
}

func (r *BookmarkRepository) write(bookmark *model.Bookmark) error {
	if bookmark == nil || !validID.MatchString(bookmark.ID) {
		return fmt.Errorf("invalid bookmark id %q", idOf(bookmark))
	}
	return writeJSON(r.store.bookmarkPath(bookmark.ID), bookmark)
}

// GetByID returns nil, nil when no bookmark has the given id.
func (r *BookmarkRepository) GetByID(id string) (*model.Bookmark, error) {
	if !validID.MatchString(id) {
		return nil, nil
	}
	bookmark, err := readBookmark(r.store.bookmarkPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bookmark, nil
}

func (r *BookmarkRepository) Exists(id string) bool {
	if !validID.MatchString(id) {
		return false
	}
	_, err := os.Stat(r.store.bookmarkPath(id))
	return err == nil
}

// Delete reports whether a bookmark was removed.
func (r *BookmarkRepository) Delete(id string) (bool, error) {
	if !validID.MatchString(id) {
		return false, nil
	}
	path := r.store.bookmarkPath(id)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &StorageError{Op: "delete", Path: path, Err: err}
	}
	if err := os.Remove(r.store.contentPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("id", id).Msg("Failed to remove archived content")
	}
	if _, err := r.RebuildIndex(); err != nil {
		return true, err
	}
	return true, nil
}

// List returns every readable bookmark, newest first. Unreadable files are
// logged and skipped.
func (r *BookmarkRepository) List() ([]*model.Bookmark, error) {
	dir := filepath.Join(r.store.dir, bookmarksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StorageError{Op: "list", Path: dir, Err: err}
	}

	bookmarks := make([]*model.Bookmark, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		bookmark, err := readBookmark(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping unreadable bookmark")
			continue
		}
		bookmarks = append(bookmarks, bookmark)
	}

	sort.SliceStable(bookmarks, func(i, j int) bool {
		if bookmarks[i].DateAdded.Equal(bookmarks[j].DateAdded) {
			return bookmarks[i].ID < bookmarks[j].ID
		}
		return bookmarks[i].DateAdded.After(bookmarks[j].DateAdded)
	})
	return bookmarks, nil
}

// SaveContent archives the raw page body and returns its path relative to
// the data directory and its absolute path.
func (r *BookmarkRepository) SaveContent(id string, body []byte) (string, string, error) {
	if !validID.MatchString(id) {
		return "", "", fmt.Errorf("invalid bookmark id %q", id)
	}
	abs := r.store.contentPath(id)
	if err := writeFile(abs, body); err != nil {
		return "", "", err
	}
	rel, err := filepath.Rel(r.store.dir, abs)
	if err != nil {
		rel = abs
	}
	return filepath.ToSlash(rel), abs, nil
}

func readBookmark(path string) (*model.Bookmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &StorageError{Op: "read", Path: path, Err: err}
	}
	var bookmark model.Bookmark
	if err := json.Unmarshal(data, &bookmark); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if bookmark.ID == "" {
		return nil, fmt.Errorf("decode %s: missing id", filepath.Base(path))
	}
	return &bookmark, nil
}

func idOf(b *model.Bookmark) string {
	if b == nil {
		return ""
	}
	return b.ID
}
