package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/engine"
	"github.com/tablecrate/tablecrate/internal/export"
	"github.com/tablecrate/tablecrate/internal/ingest"
	"github.com/tablecrate/tablecrate/internal/utils"
)

// DatabaseSource builds a multi-table bundle from the tables already loaded
// in the engine. Size comes from the estimator; the bundle itself is only
// compressed after admission passes.
type DatabaseSource struct {
	Eng  engine.Engine
	Name string
}

func (s *DatabaseSource) Filename() string {
	return s.Name + ".zip"
}

func (s *DatabaseSource) Kind() admission.Kind { return admission.KindDatabase }

func (s *DatabaseSource) SizeMB(ctx context.Context) (float64, error) {
	size, err := export.Estimate(ctx, s.Eng)
	if err != nil {
		return 0, err
	}
	return utils.BytesToMB(size), nil
}

func (s *DatabaseSource) Bytes(ctx context.Context) ([]byte, error) {
	bundle, err := export.Bundle(ctx, s.Eng)
	if err != nil {
		return nil, err
	}
	return bundle.Data, nil
}

// FileSource publishes an existing artifact file as-is: no ingestion, no
// export, exact size from the filesystem.
type FileSource struct {
	Path string
}

func (s *FileSource) Filename() string { return filepath.Base(s.Path) }

func (s *FileSource) Kind() admission.Kind {
	if strings.EqualFold(filepath.Ext(s.Path), ".parquet") {
		return admission.KindParquet
	}
	return admission.KindUpload
}

func (s *FileSource) SizeMB(ctx context.Context) (float64, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", s.Path, err)
	}
	return utils.BytesToMB(info.Size()), nil
}

func (s *FileSource) Bytes(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	return data, nil
}

// ConvertSource holds the parquet bytes of a standalone conversion. The
// caller can keep them locally via Data or publish them; the byte length is
// exact either way.
type ConvertSource struct {
	name string
	data []byte
}

// Convert ingests one delimited file into a transient table, exports it to a
// single parquet file and drops the table again. The returned source carries
// the finished bytes.
func Convert(ctx context.Context, eng engine.Engine, path string) (*ConvertSource, error) {
	table := ingest.TableNameFor(path)
	if err := ingest.Ingest(ctx, eng, path, table); err != nil {
		return nil, err
	}
	defer eng.DropTable(ctx, table)

	data, err := export.Single(ctx, eng, table)
	if err != nil {
		return nil, err
	}

	return &ConvertSource{name: table + ".parquet", data: data}, nil
}

// Data returns the converted parquet bytes for local use.
func (s *ConvertSource) Data() []byte { return s.data }

func (s *ConvertSource) Filename() string { return s.name }

func (s *ConvertSource) Kind() admission.Kind { return admission.KindParquet }

func (s *ConvertSource) SizeMB(ctx context.Context) (float64, error) {
	return utils.BytesToMB(int64(len(s.data))), nil
}

func (s *ConvertSource) Bytes(ctx context.Context) ([]byte, error) {
	return s.data, nil
}
