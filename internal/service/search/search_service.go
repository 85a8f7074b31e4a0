package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/rs/zerolog/log"
	"github.com/sahilm/fuzzy"

	"github.com/san-kum/bookshelf/internal/model"
)

type Mode string

const (
	ModePlain    Mode = "plain"
	ModeFuzzy    Mode = "fuzzy"
	ModeFullText Mode = "fulltext"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePlain:
		return ModePlain, nil
	case ModeFuzzy:
		return ModeFuzzy, nil
	case ModeFullText, "full-text":
		return ModeFullText, nil
	}
	return "", fmt.Errorf("unknown search mode %q", s)
}

// Query filters bookmarks. Every tag in Tags must be present; From and To
// bound dateAdded inclusively and are ignored when zero.
type Query struct {
	Text  string
	Tags  []string
	From  time.Time
	To    time.Time
	Mode  Mode
	Limit int
}

type Source interface {
	List() ([]*model.Bookmark, error)
}

type SearchService struct {
	source Source
}

func NewSearchService(source Source) *SearchService {
	return &SearchService{
		source: source,
	}
}

func (s *SearchService) Search(q Query) ([]*model.Bookmark, error) {
	bookmarks, err := s.source.List()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookmarks: %w", err)
	}
	candidates := filter(bookmarks, q)

	text := strings.TrimSpace(q.Text)
	var results []*model.Bookmark
	switch {
	case text == "":
		results = candidates
	case q.Mode == ModeFuzzy:
		results = fuzzyMatch(candidates, text)
	case q.Mode == ModeFullText:
		results, err = fullText(candidates, text)
		if err != nil {
			return nil, err
		}
	default:
		results = substring(candidates, text)
	}

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	log.Debug().Str("query", text).Str("mode", string(q.Mode)).Int("hits", len(results)).Msg("Search complete")
	return results, nil
}

func filter(bookmarks []*model.Bookmark, q Query) []*model.Bookmark {
	tags := model.NormalizeTags(q.Tags)
	out := make([]*model.Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		if !q.From.IsZero() && b.DateAdded.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && b.DateAdded.After(q.To) {
			continue
		}
		if !hasAllTags(b, tags) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func hasAllTags(b *model.Bookmark, tags []string) bool {
	for _, t := range tags {
		if !b.HasTag(t) {
			return false
		}
	}
	return true
}

func substring(bookmarks []*model.Bookmark, text string) []*model.Bookmark {
	needle := strings.ToLower(text)
	var out []*model.Bookmark
	for _, b := range bookmarks {
		for _, field := range searchableFields(b) {
			if strings.Contains(strings.ToLower(field), needle) {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func searchableFields(b *model.Bookmark) []string {
	fields := []string{
		b.Title,
		b.URL,
		b.Metadata.Description,
		b.Metadata.TextPreview,
		b.Metadata.Author,
	}
	return append(fields, b.Tags...)
}

// fuzzyCandidates exposes titles and urls to sahilm/fuzzy.
type fuzzyCandidates []*model.Bookmark

func (c fuzzyCandidates) String(i int) string {
	return c[i].Title + " " + c[i].URL
}

func (c fuzzyCandidates) Len() int {
	return len(c)
}

// fuzzyMatch returns matches best score first.
func fuzzyMatch(bookmarks []*model.Bookmark, text string) []*model.Bookmark {
	matches := fuzzy.FindFrom(text, fuzzyCandidates(bookmarks))
	out := make([]*model.Bookmark, 0, len(matches))
	for _, m := range matches {
		out = append(out, bookmarks[m.Index])
	}
	return out
}

type document struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Author      string   `json:"author"`
	Tags        []string `json:"tags"`
}

// fullText builds a throwaway in-memory bleve index over bookmarks and runs a
// query-string query against it. Hits come back in relevance order.
func fullText(bookmarks []*model.Bookmark, text string) ([]*model.Bookmark, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	defer index.Close()

	byID := make(map[string]*model.Bookmark, len(bookmarks))
	batch := index.NewBatch()
	for _, b := range bookmarks {
		byID[b.ID] = b
		doc := document{
			URL:         b.URL,
			Title:       b.Title,
			Description: b.Metadata.Description,
			Content:     b.Metadata.TextPreview,
			Author:      b.Metadata.Author,
			Tags:        b.Tags,
		}
		if err := batch.Index(b.ID, doc); err != nil {
			return nil, fmt.Errorf("failed to add document to batch: %w", err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(text))
	req.Size = len(bookmarks)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]*model.Bookmark, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if b, ok := byID[hit.ID]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// ParseBound reads a date filter given as RFC 3339 or YYYY-MM-DD. A bare
// date used as an upper bound covers the whole day.
func ParseBound(s string, upper bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
