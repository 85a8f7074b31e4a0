package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTagHelpers(t *testing.T) {
	require.Equal(t, []string{"go", "web tools"}, NormalizeTags([]string{" Go", "", "GO", "Web Tools "}))
	require.Equal(t, []string{"a", "b"}, ParseTagList("a, B ,,a"))
	require.Nil(t, ParseTagList("   "))

	b := NewBookmark("id", "https://example.com/", "Example")
	require.True(t, b.AddTag(" Reading "))
	require.False(t, b.AddTag("reading"))
	require.False(t, b.AddTag("  "))
	require.True(t, b.HasTag("READING"))
	require.True(t, b.RemoveTag("Reading"))
	require.False(t, b.RemoveTag("reading"))
	require.Empty(t, b.Tags)
}

func TestFailKeepsEarlierErrors(t *testing.T) {
	b := NewBookmark("id", "https://example.com/", "Example")
	require.Equal(t, ExtractionSuccess, b.ExtractionStatus)

	b.Fail("first")
	b.Fail("second")
	require.Equal(t, ExtractionFailed, b.ExtractionStatus)
	require.Equal(t, []string{"first", "second"}, b.ExtractionErrors)
}

func TestSettingsWithDefaults(t *testing.T) {
	s := Settings{MaxConcurrentExtractions: -1, ExtractionTimeoutMs: 1500, SaveContentByDefault: true}.WithDefaults()
	require.Equal(t, DefaultMaxConcurrentExtractions, s.MaxConcurrentExtractions)
	require.Equal(t, 1500*time.Millisecond, s.ExtractionTimeout())
	require.Equal(t, int64(DefaultMaxContentBytes), s.MaxContentBytes)
	require.True(t, s.SaveContentByDefault)
}
