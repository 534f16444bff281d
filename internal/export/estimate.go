package export

import (
	"context"
	"fmt"

	"github.com/tablecrate/tablecrate/internal/engine"
)

// Estimate dry-runs the export path and returns the byte size the bundle's
// parquet members would have. Each table is exported through the real export
// path, measured and immediately discarded; loaded tables are not mutated.
// Zero tables estimate to zero.
func Estimate(ctx context.Context, eng engine.Engine) (int64, error) {
	tables, err := eng.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tables: %w", err)
	}

	var total int64
	for _, t := range tables {
		file := t.Name + ".parquet"
		if err := eng.ExportTable(ctx, t.Name, file); err != nil {
			eng.RemoveVirtualFile(ctx, file)
			return 0, err
		}
		size, err := eng.VirtualFileSize(ctx, file)
		eng.RemoveVirtualFile(ctx, file)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}
