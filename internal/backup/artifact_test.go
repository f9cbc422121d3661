package backup

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactName(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "appdb-20240102T030405Z.sql", ArtifactName("appdb", ts, ""))
	assert.Equal(t, "appdb-20240102T030405Z.sql.gz", ArtifactName("appdb", ts, ".gz"))

	// Non-UTC inputs are normalized.
	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "appdb-20240102T030405Z.sql",
		ArtifactName("appdb", time.Date(2024, 1, 1, 22, 4, 5, 0, est), ""))
}

func TestArtifactTimestamp(t *testing.T) {
	ts, ok := ArtifactTimestamp("appdb-20240102T030405Z.sql.gz")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	// Database names containing dashes still parse.
	ts, ok = ArtifactTimestamp("my-app-db-20240102T030405Z.sql")
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())

	_, ok = ArtifactTimestamp("random-file.txt")
	assert.False(t, ok)

	_, ok = ArtifactTimestamp("appdb.sql")
	assert.False(t, ok)
}

func TestArtifactName_LexicographicOrderMatchesAge(t *testing.T) {
	times := []time.Time{
		time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(2024, 10, 5, 12, 0, 0, 0, time.UTC),
	}

	var names []string
	for _, ts := range times {
		names = append(names, ArtifactName("appdb", ts, ".gz"))
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	assert.Equal(t, names, sorted, "older artifacts must sort before newer ones")
}
