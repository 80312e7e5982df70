package patterns

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// sizeBucket coarsens a file size into a handful of buckets so near-identical
// files share a fingerprint instead of each getting its own pattern.
func sizeBucket(size int64) string {
	switch {
	case size <= 0:
		return "empty"
	case size < 1<<10:
		return "tiny"
	case size < 1<<20:
		return "small"
	case size < 50*(1<<20):
		return "medium"
	case size < 500*(1<<20):
		return "large"
	default:
		return "huge"
	}
}

func extensionBucket(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "none"
	}
	return ext
}

// Fingerprint combines mimeType, extension bucket, size bucket, and the
// decision point into the key FindPattern/StorePattern look patterns up by.
func Fingerprint(file types.FileContext, point types.DecisionPoint) string {
	return fmt.Sprintf("%s:%s:%s:%s", file.MimeType, extensionBucket(file.Filename), sizeBucket(file.FileSize), point)
}
