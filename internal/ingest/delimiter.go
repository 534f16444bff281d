package ingest

import (
	"path/filepath"
	"strings"
)

// sampleSize is how much of the file head is inspected when the extension
// does not pin the delimiter.
const sampleSize = 8 * 1024

// DetectDelimiter picks the field delimiter for a delimited file.
// Reserved extensions decide directly: .psv is pipe, .tsv and .tab are tab.
// Otherwise the first line of the sample is scanned and the candidate with
// the most occurrences wins; comma is the fallback and wins ties against
// itself.
func DetectDelimiter(path string, sample []byte) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".psv":
		return '|'
	case ".tsv", ".tab":
		return '\t'
	}

	line := string(sample)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	best := ','
	bestCount := strings.Count(line, ",")
	for _, cand := range []rune{'|', '\t'} {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}
