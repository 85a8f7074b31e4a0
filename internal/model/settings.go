package model

import "time"

const (
	DefaultMaxConcurrentExtractions = 5
	DefaultExtractionTimeoutMs      = 30000
	DefaultMaxContentBytes          = 10 << 20
)

type Settings struct {
	MaxConcurrentExtractions int   `json:"maxConcurrentExtractions"`
	ExtractionTimeoutMs      int   `json:"extractionTimeoutMs"`
	MaxContentBytes          int64 `json:"maxContentBytes"`
	SaveContentByDefault     bool  `json:"saveContentByDefault"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentExtractions: DefaultMaxConcurrentExtractions,
		ExtractionTimeoutMs:      DefaultExtractionTimeoutMs,
		MaxContentBytes:          DefaultMaxContentBytes,
	}
}

// WithDefaults replaces zero or negative values with their defaults.
func (s Settings) WithDefaults() Settings {
	if s.MaxConcurrentExtractions <= 0 {
		s.MaxConcurrentExtractions = DefaultMaxConcurrentExtractions
	}
	if s.ExtractionTimeoutMs <= 0 {
		s.ExtractionTimeoutMs = DefaultExtractionTimeoutMs
	}
	if s.MaxContentBytes <= 0 {
		s.MaxContentBytes = DefaultMaxContentBytes
	}
	return s
}

func (s Settings) ExtractionTimeout() time.Duration {
	return time.Duration(s.ExtractionTimeoutMs) * time.Millisecond
}
