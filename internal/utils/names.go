package utils

import (
	"path/filepath"
	"strings"
)

// SanitizeTableName derives an engine-safe table name from a source filename.
// The extension is dropped and every non-alphanumeric character is stripped.
// An empty result falls back to "data" so the caller always gets a usable name.
func SanitizeTableName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "data"
	}
	return b.String()
}
