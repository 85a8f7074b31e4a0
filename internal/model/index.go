package model

import "time"

const IndexVersion = 1

// BookmarkIndex is a projection of the record store. It is always rebuilt
// from scratch, never edited in place.
type BookmarkIndex struct {
	Version      int               `json:"version"`
	TotalRecords int               `json:"totalRecords"`
	LastUpdated  time.Time         `json:"lastUpdated"`
	AllTags      []string          `json:"allTags"`
	Bookmarks    []BookmarkSummary `json:"bookmarks"`
}

type BookmarkSummary struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	DateAdded time.Time `json:"dateAdded"`
}
