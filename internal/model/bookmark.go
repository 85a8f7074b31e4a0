package model

import "time"

type ExtractionStatus string

const (
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Bookmark is one persisted record. ID is derived from the normalized URL,
// so re-ingesting the same page always lands on the same file.
type Bookmark struct {
	ID               string            `json:"id"`
	URL              string            `json:"url"`
	FilePath         *string           `json:"filePath"`
	AbsolutePath     *string           `json:"absolutePath"`
	Title            string            `json:"title"`
	Tags             []string          `json:"tags"`
	Metadata         ExtractedMetadata `json:"metadata"`
	ExtractionStatus ExtractionStatus  `json:"extractionStatus"`
	ExtractionErrors []string          `json:"extractionErrors"`
	DateAdded        time.Time         `json:"dateAdded"`
	DateModified     time.Time         `json:"dateModified"`
}

// ExtractedMetadata holds everything the extractor could find on a page.
// Empty strings mean the page did not provide the field.
type ExtractedMetadata struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Keywords    []string    `json:"keywords,omitempty"`
	TextPreview string      `json:"textPreview,omitempty"`
	Image       string      `json:"image,omitempty"`
	OpenGraph   OpenGraph   `json:"openGraph"`
	TwitterCard TwitterCard `json:"twitterCard"`
	Author      string      `json:"author,omitempty"`
	PublishDate string      `json:"publishDate,omitempty"`
	Language    string      `json:"language,omitempty"`
	WordCount   int         `json:"wordCount"`
}

type OpenGraph struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Type        string `json:"type,omitempty"`
}

type TwitterCard struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

func NewBookmark(id, url, title string) *Bookmark {
	now := time.Now().UTC()
	return &Bookmark{
		ID:               id,
		URL:              url,
		Title:            title,
		Tags:             make([]string, 0),
		ExtractionStatus: ExtractionSuccess,
		ExtractionErrors: make([]string, 0),
		DateAdded:        now,
		DateModified:     now,
	}
}

func (b *Bookmark) Touch() {
	b.DateModified = time.Now().UTC()
}

func (b *Bookmark) HasTag(name string) bool {
	name = NormalizeTag(name)
	for _, t := range b.Tags {
		if t == name {
			return true
		}
	}
	return false
}

func (b *Bookmark) AddTag(name string) bool {
	name = NormalizeTag(name)
	if name == "" || b.HasTag(name) {
		return false
	}
	b.Tags = append(b.Tags, name)
	return true
}

func (b *Bookmark) RemoveTag(name string) bool {
	name = NormalizeTag(name)
	for i, t := range b.Tags {
		if t == name {
			b.Tags = append(b.Tags[:i], b.Tags[i+1:]...)
			return true
		}
	}
	return false
}

// Fail marks the record as a failed extraction and appends msg to its error list.
func (b *Bookmark) Fail(msg string) {
	b.ExtractionStatus = ExtractionFailed
	b.ExtractionErrors = append(b.ExtractionErrors, msg)
}

func (b *Bookmark) Summary() BookmarkSummary {
	return BookmarkSummary{
		ID:        b.ID,
		URL:       b.URL,
		Title:     b.Title,
		Tags:      append([]string(nil), b.Tags...),
		DateAdded: b.DateAdded,
	}
}
