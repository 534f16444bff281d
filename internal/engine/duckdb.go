package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// DuckDB is the default Engine: an in-memory DuckDB connection plus a
// temp directory holding exported virtual files.
type DuckDB struct {
	db      *sql.DB
	workDir string
	logger  *zap.Logger
}

// NewDuckDB opens an in-memory DuckDB database and a scratch directory for
// virtual files.
func NewDuckDB(logger *zap.Logger) (*DuckDB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	// The engine is single-connection per session; workflows run
	// sequentially against it.
	db.SetMaxOpenConns(1)

	workDir, err := os.MkdirTemp("", "tablecrate-*")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create engine scratch dir: %w", err)
	}

	return &DuckDB{
		db:      db,
		workDir: workDir,
		logger:  logger.With(zap.String("component", "engine")),
	}, nil
}

func (e *DuckDB) LoadDelimited(ctx context.Context, path, table string, delim rune) error {
	// sample_size=-1 makes DuckDB scan the whole file for type inference,
	// so a late anomalous value widens the column instead of failing the
	// load. Replace semantics come from CREATE OR REPLACE.
	query := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv(%s, delim=%s, header=true, sample_size=-1)`,
		quoteIdent(table), quoteLiteral(path), quoteLiteral(string(delim)),
	)
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to load %s into table %s: %w", path, table, err)
	}
	return nil
}

func (e *DuckDB) RunSQL(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, query, args...)
}

func (e *DuckDB) ExportTable(ctx context.Context, table, file string) error {
	dest := filepath.Join(e.workDir, filepath.Base(file))
	query := fmt.Sprintf(`COPY %s TO %s (FORMAT PARQUET)`, quoteIdent(table), quoteLiteral(dest))
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to export table %s: %w", table, err)
	}
	return nil
}

func (e *DuckDB) ReadVirtualFile(ctx context.Context, file string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(e.workDir, filepath.Base(file)))
	if err != nil {
		return nil, fmt.Errorf("failed to read virtual file %s: %w", file, err)
	}
	return data, nil
}

func (e *DuckDB) VirtualFileSize(ctx context.Context, file string) (int64, error) {
	info, err := os.Stat(filepath.Join(e.workDir, filepath.Base(file)))
	if err != nil {
		return 0, fmt.Errorf("failed to stat virtual file %s: %w", file, err)
	}
	return info.Size(), nil
}

func (e *DuckDB) RemoveVirtualFile(ctx context.Context, file string) error {
	err := os.Remove(filepath.Join(e.workDir, filepath.Base(file)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove virtual file %s: %w", file, err)
	}
	return nil
}

func (e *DuckDB) Tables(ctx context.Context) ([]TableInfo, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		columns, err := e.Describe(ctx, name)
		if err != nil {
			return nil, err
		}
		count, err := e.RowCount(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, TableInfo{Name: name, Columns: columns, RowCount: count})
	}
	return tables, nil
}

func (e *DuckDB) Describe(ctx context.Context, table string) ([]Column, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' AND table_name = ? ORDER BY ordinal_position`,
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	return columns, nil
}

func (e *DuckDB) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(table))
	if err := e.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return count, nil
}

func (e *DuckDB) DropTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(table))
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	return nil
}

func (e *DuckDB) Close() error {
	if err := os.RemoveAll(e.workDir); err != nil {
		e.logger.Warn("Failed to remove engine scratch dir", zap.Error(err))
	}
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("failed to close duckdb: %w", err)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
