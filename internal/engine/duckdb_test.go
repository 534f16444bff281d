package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *DuckDB {
	t.Helper()
	eng, err := NewDuckDB(zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDelimitedReplacesExistingTable(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	path := writeCSV(t, "orders.csv", "id,amount\n1,10\n2,20\n3,30\n")

	if err := eng.LoadDelimited(ctx, path, "orders", ','); err != nil {
		t.Fatal(err)
	}
	first, err := eng.RowCount(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if first != 3 {
		t.Fatalf("row count after first load = %d, want 3", first)
	}
	cols, err := eng.Describe(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}

	// Loading the same file under the same name again must replace the
	// table, not append to it.
	if err := eng.LoadDelimited(ctx, path, "orders", ','); err != nil {
		t.Fatal(err)
	}
	second, err := eng.RowCount(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("row count after reload = %d, want %d", second, first)
	}
	colsAfter, err := eng.Describe(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(colsAfter) != len(cols) {
		t.Fatalf("column count changed across reload: %d -> %d", len(cols), len(colsAfter))
	}
	for i := range cols {
		if colsAfter[i].Name != cols[i].Name {
			t.Errorf("column %d = %q after reload, want %q", i, colsAfter[i].Name, cols[i].Name)
		}
	}
}

func TestLoadDelimitedDifferentShapeReplaces(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	wide := writeCSV(t, "wide.csv", "a,b,c\n1,2,3\n")
	narrow := writeCSV(t, "narrow.csv", "x\n1\n2\n")

	if err := eng.LoadDelimited(ctx, wide, "data", ','); err != nil {
		t.Fatal(err)
	}
	if err := eng.LoadDelimited(ctx, narrow, "data", ','); err != nil {
		t.Fatal(err)
	}

	cols, err := eng.Describe(ctx, "data")
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 1 || cols[0].Name != "x" {
		t.Errorf("columns after reload = %+v, want the replacement file's single column x", cols)
	}
	count, err := eng.RowCount(ctx, "data")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("row count after reload = %d, want 2", count)
	}
}
