// Package export turns loaded tables into transfer artifacts: a single
// parquet file, or a compressed bundle holding one parquet file per table
// plus a manifest, a DDL description, and a readme.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/flate"

	"github.com/tablecrate/tablecrate/internal/engine"
)

var (
	ErrNoTables       = errors.New("no tables to export")
	ErrMultipleTables = errors.New("more than one table loaded, export a bundle instead")
)

// Fixed member names of the bundle container.
const (
	manifestFileName = "manifest.json"
	schemaFileName   = "schema.sql"
	readmeFileName   = "README.md"
)

// Manifest is the machine-readable index embedded in every bundle.
// Chunked is reserved for future split-file support and is always false.
type Manifest struct {
	Tables  []ManifestTable `json:"tables"`
	Chunked bool            `json:"chunked"`
}

type ManifestTable struct {
	Name     string   `json:"name"`
	Files    []string `json:"files"`
	RowCount int64    `json:"rowCount"`
}

// BundleResult is a finished multi-table artifact.
type BundleResult struct {
	Data     []byte
	Manifest Manifest
}

// Single exports exactly one table to a parquet file and returns its bytes.
// An empty table name selects the sole loaded table; with zero or multiple
// tables loaded the selection fails.
func Single(ctx context.Context, eng engine.Engine, table string) ([]byte, error) {
	if table == "" {
		tables, err := eng.Tables(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		switch len(tables) {
		case 0:
			return nil, ErrNoTables
		case 1:
			table = tables[0].Name
		default:
			return nil, ErrMultipleTables
		}
	}

	file := table + ".parquet"
	if err := eng.ExportTable(ctx, table, file); err != nil {
		// A failed export may still leave a partial scratch file behind.
		eng.RemoveVirtualFile(ctx, file)
		return nil, err
	}
	defer eng.RemoveVirtualFile(ctx, file)

	return eng.ReadVirtualFile(ctx, file)
}

// Bundle exports every loaded table into a compressed container with members
// manifest.json, schema.sql, README.md and one <table>.parquet per table.
// The manifest and DDL are synthesized purely from table metadata and are
// byte-identical across runs for the same tables in the same order.
func Bundle(ctx context.Context, eng engine.Engine) (*BundleResult, error) {
	tables, err := eng.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	manifest := Manifest{Tables: make([]ManifestTable, 0, len(tables))}
	for _, t := range tables {
		manifest.Tables = append(manifest.Tables, ManifestTable{
			Name:     t.Name,
			Files:    []string{t.Name + ".parquet"},
			RowCount: t.RowCount,
		})
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	// The manifest is the first member so consumers can index the bundle
	// without scanning it.
	if err := writeMember(zw, manifestFileName, manifestJSON); err != nil {
		return nil, err
	}
	if err := writeMember(zw, schemaFileName, []byte(RenderDDL(tables))); err != nil {
		return nil, err
	}
	if err := writeMember(zw, readmeFileName, []byte(renderReadme(tables))); err != nil {
		return nil, err
	}

	for _, t := range tables {
		file := t.Name + ".parquet"
		if err := eng.ExportTable(ctx, t.Name, file); err != nil {
			eng.RemoveVirtualFile(ctx, file)
			zw.Close()
			return nil, err
		}
		data, err := eng.ReadVirtualFile(ctx, file)
		eng.RemoveVirtualFile(ctx, file)
		if err != nil {
			zw.Close()
			return nil, err
		}
		if err := writeMember(zw, file, data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize bundle: %w", err)
	}

	return &BundleResult{Data: buf.Bytes(), Manifest: manifest}, nil
}

func writeMember(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("failed to add bundle member %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write bundle member %s: %w", name, err)
	}
	return nil
}

// RenderDDL renders one CREATE TABLE statement per table, blank-line
// separated, in the given table order.
func RenderDDL(tables []engine.TableInfo) string {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(`CREATE TABLE "` + t.Name + `" (`)
		for j, c := range t.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(`"` + c.Name + `" ` + c.Type)
		}
		b.WriteString(");\n")
	}
	return b.String()
}

func renderReadme(tables []engine.TableInfo) string {
	var b strings.Builder
	b.WriteString("# Database bundle\n\n")
	b.WriteString("This archive contains one parquet file per table, a manifest.json\n")
	b.WriteString("index and a schema.sql with the table definitions.\n\n")
	b.WriteString("Tables:\n\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "- %s (%d rows, %d columns)\n", t.Name, t.RowCount, len(t.Columns))
	}
	return b.String()
}
