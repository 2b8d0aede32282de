package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The retention universe is built from tasks that finished without error,
// not from whatever kg_version values happen to exist on entities. A failed
// build's leftover data must neither be counted against max_versions nor
// push a successful version out of the keep set.
func TestCleanupVersionUniverse(t *testing.T) {
	assert.Contains(t, cleanupVersionsQuery, "KGTask")
	assert.Contains(t, cleanupVersionsQuery, "t.finished_at IS NOT NULL")
	assert.Contains(t, cleanupVersionsQuery, "t.error IS NULL OR t.error = ''")
	assert.NotContains(t, cleanupVersionsQuery, "Entity")

	// Successful builds 1000, 2000, 4000; build 3000 failed after a partial
	// write. With max 2, only 1000 is old enough to prune.
	got := versionsToPrune([]string{"1000", "2000", "4000"}, "4000", 2)
	assert.Equal(t, []string{"1000"}, got)
	assert.NotContains(t, got, "2000")
	assert.NotContains(t, got, "3000")
}

func TestVersionsToPrune(t *testing.T) {
	tests := []struct {
		name        string
		versions    []string
		latest      string
		maxVersions int
		expected    []string
	}{
		{
			name:        "under the limit keeps everything",
			versions:    []string{"100", "200"},
			latest:      "200",
			maxVersions: 10,
			expected:    nil,
		},
		{
			name:        "oldest beyond the limit are pruned",
			versions:    []string{"100", "200", "300", "400"},
			latest:      "400",
			maxVersions: 2,
			expected:    []string{"200", "100"},
		},
		{
			name:        "latest ready survives even when old",
			versions:    []string{"100", "200", "300", "400"},
			latest:      "100",
			maxVersions: 2,
			expected:    []string{"200"},
		},
		{
			name:        "unparseable versions sort oldest",
			versions:    []string{"not-a-number", "200", "300"},
			latest:      "300",
			maxVersions: 2,
			expected:    []string{"not-a-number"},
		},
		{
			name:        "empty versions are ignored",
			versions:    []string{"", "100"},
			latest:      "",
			maxVersions: 1,
			expected:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, versionsToPrune(tt.versions, tt.latest, tt.maxVersions))
		})
	}
}

func TestChunkRows(t *testing.T) {
	rows := []any{1, 2, 3, 4, 5}

	assert.Nil(t, chunkRows(nil, 2))
	assert.Equal(t, [][]any{rows}, chunkRows(rows, 0))
	assert.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, chunkRows(rows, 2))
	assert.Equal(t, [][]any{rows}, chunkRows(rows, 10))
}
