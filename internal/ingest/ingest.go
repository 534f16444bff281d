// Package ingest loads delimited text files into named tables of the
// embedded engine, detecting the field delimiter and leaving column-type
// inference to the engine's whole-file scan.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tablecrate/tablecrate/internal/engine"
	"github.com/tablecrate/tablecrate/internal/utils"
)

// Error reports a failed ingestion of one source file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TableNameFor derives the table name for a source file.
func TableNameFor(path string) string {
	return utils.SanitizeTableName(path)
}

// Ingest loads one delimited file into the named table. Re-ingesting under an
// existing name fully replaces that table. Types are inferred by the engine
// from the entire file content, so late anomalous values cannot narrow a
// column into a load failure.
func Ingest(ctx context.Context, eng engine.Engine, path, table string) error {
	f, err := os.Open(path)
	if err != nil {
		return &Error{Path: path, Err: err}
	}

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	f.Close()
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return &Error{Path: path, Err: err}
	}
	if n == 0 {
		return &Error{Path: path, Err: fmt.Errorf("file is empty")}
	}

	delim := DetectDelimiter(path, sample[:n])
	if err := eng.LoadDelimited(ctx, path, table, delim); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}
