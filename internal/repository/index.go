package repository

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/metrics"
	"github.com/san-kum/bookshelf/internal/model"
)

// BuildIndex folds bookmarks into an index. Summary order follows the
// input order.
func BuildIndex(bookmarks []*model.Bookmark, now time.Time) *model.BookmarkIndex {
	tagSet := make(map[string]struct{})
	summaries := make([]model.BookmarkSummary, 0, len(bookmarks))
	for _, b := range bookmarks {
		for _, t := range b.Tags {
			tagSet[t] = struct{}{}
		}
		summaries = append(summaries, b.Summary())
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	return &model.BookmarkIndex{
		Version:      model.IndexVersion,
		TotalRecords: len(bookmarks),
		LastUpdated:  now.UTC(),
		AllTags:      tags,
		Bookmarks:    summaries,
	}
}

// RebuildIndex recomputes index.json from the bookmark files.
func (r *BookmarkRepository) RebuildIndex() (*model.BookmarkIndex, error) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	bookmarks, err := r.List()
	if err != nil {
		return nil, err
	}
	index := BuildIndex(bookmarks, time.Now())
	if err := writeJSON(r.store.indexPath(), index); err != nil {
		log.Error().Err(err).Msg("Failed to write index")
		return nil, err
	}
	metrics.BookmarksTotal.Set(float64(index.TotalRecords))
	log.Debug().Int("count", index.TotalRecords).Int("tags", len(index.AllTags)).Msg("Index rebuilt")
	return index, nil
}

// Index reads index.json, rebuilding it when missing or unreadable.
func (r *BookmarkRepository) Index() (*model.BookmarkIndex, error) {
	data, err := os.ReadFile(r.store.indexPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Msg("Failed to read index, rebuilding")
		}
		return r.RebuildIndex()
	}
	var index model.BookmarkIndex
	if err := json.Unmarshal(data, &index); err != nil {
		log.Warn().Err(err).Msg("Corrupt index, rebuilding")
		return r.RebuildIndex()
	}
	return &index, nil
}
