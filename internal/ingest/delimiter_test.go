package ingest

import "testing"

func TestDetectDelimiterByExtension(t *testing.T) {
	if got := DetectDelimiter("data.psv", []byte("a,b,c\n")); got != '|' {
		t.Errorf("psv delimiter = %q, want pipe", got)
	}
	if got := DetectDelimiter("data.tsv", []byte("a,b,c\n")); got != '\t' {
		t.Errorf("tsv delimiter = %q, want tab", got)
	}
	if got := DetectDelimiter("data.tab", []byte("a,b,c\n")); got != '\t' {
		t.Errorf("tab delimiter = %q, want tab", got)
	}
}

func TestDetectDelimiterBySample(t *testing.T) {
	tests := []struct {
		name   string
		sample string
		want   rune
	}{
		{"pipes win", "a|b|c|d\te\n", '|'},
		{"tabs win", "a\tb\tc\n1\t2\t3\n", '\t'},
		{"commas win", "a,b,c\n", ','},
		{"no delimiters defaults to comma", "singlecolumn\nvalue\n", ','},
		{"only first line counts", "a,b\nx|y|z|w|v\n", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDelimiter("data.csv", []byte(tt.sample)); got != tt.want {
				t.Errorf("DetectDelimiter = %q, want %q", got, tt.want)
			}
		})
	}
}
