// Package engine wraps the embedded analytical store behind a small
// capability interface: load delimited text into a named table, run SQL,
// export a table to a parquet file, and read the exported bytes back.
// Any conforming in-process analytical engine satisfies Engine; the
// default implementation is DuckDB.
package engine

import (
	"context"
	"database/sql"
)

// Column is one typed column of a loaded table.
type Column struct {
	Name string
	Type string
}

// TableInfo is the in-memory metadata the exporter and estimator work from.
type TableInfo struct {
	Name     string
	Columns  []Column
	RowCount int64
}

// Engine is the capability surface of the embedded analytical store.
// Exported parquet files are "virtual files": they live in a session-scoped
// scratch area and are addressed by bare name, never by absolute path.
type Engine interface {
	// LoadDelimited loads one delimited file into the named table with
	// engine-inferred column types, replacing any table of the same name.
	LoadDelimited(ctx context.Context, path, table string, delim rune) error

	// RunSQL executes an arbitrary statement. The caller owns the rows.
	RunSQL(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// ExportTable serializes the table to a parquet virtual file.
	ExportTable(ctx context.Context, table, file string) error

	// ReadVirtualFile returns the full content of an exported virtual file.
	ReadVirtualFile(ctx context.Context, file string) ([]byte, error)

	// VirtualFileSize reports the byte length of a virtual file without
	// loading it.
	VirtualFileSize(ctx context.Context, file string) (int64, error)

	// RemoveVirtualFile deletes a virtual file. Removing a file that does
	// not exist is not an error.
	RemoveVirtualFile(ctx context.Context, file string) error

	// Tables lists the loaded tables with columns and row counts, ordered
	// by table name.
	Tables(ctx context.Context) ([]TableInfo, error)

	// Describe returns the ordered column list of one table.
	Describe(ctx context.Context, table string) ([]Column, error)

	// RowCount returns the row count of one table.
	RowCount(ctx context.Context, table string) (int64, error)

	// DropTable removes a table if it exists.
	DropTable(ctx context.Context, table string) error

	// Close tears down the engine and its scratch area.
	Close() error
}
