package backup

import (
	"fmt"
	"regexp"
	"time"
)

// TimestampLayout is embedded in every artifact name. It is UTC and
// lexicographically sortable, so name order equals age order.
const TimestampLayout = "20060102T150405Z"

var artifactTimestampRe = regexp.MustCompile(`-(\d{8}T\d{6}Z)\.sql`)

// ArtifactName builds the stable artifact name
// <database>-<UTC timestamp>.sql[.<compression ext>].
func ArtifactName(database string, ts time.Time, compressionExt string) string {
	return fmt.Sprintf("%s-%s.sql%s", database, ts.UTC().Format(TimestampLayout), compressionExt)
}

// ArtifactTimestamp extracts the embedded timestamp from an artifact name.
// Names that do not follow the convention report ok=false and sort as oldest.
func ArtifactTimestamp(name string) (time.Time, bool) {
	m := artifactTimestampRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(TimestampLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
