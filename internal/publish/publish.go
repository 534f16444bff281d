// Package publish sequences the pipeline: estimate, admit, produce bytes,
// transfer, record. All three workflows (build-database, quick upload,
// convert-then-publish) run through the same orchestration over a ByteSource
// strategy, so the admission ordering is identical for each.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/entity"
	"github.com/tablecrate/tablecrate/internal/hub"
	"github.com/tablecrate/tablecrate/internal/utils"
)

var (
	// ErrRoleNotLoaded guards every workflow until the identity's role has
	// been resolved, so a caller eligible for persistence is never treated
	// as temporary-only because of a race.
	ErrRoleNotLoaded = errors.New("identity role not loaded yet")

	// ErrPublishInFlight rejects a second concurrent publish; one workflow
	// is active per session.
	ErrPublishInFlight = errors.New("another publish is already in flight")
)

// DeniedError is a terminal admission denial. The decision carries the exact
// reason and numbers; it is never coerced into a generic failure.
type DeniedError struct {
	Decision admission.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("upload denied: %s", e.Decision.Reason)
}

// ByteSource is the strategy for obtaining the artifact bytes. SizeMB feeds
// the admission decision; Bytes is only called after admission passes, so no
// compression work is wasted on a denied upload.
type ByteSource interface {
	Filename() string
	Kind() admission.Kind
	SizeMB(ctx context.Context) (float64, error)
	Bytes(ctx context.Context) ([]byte, error)
}

// Admitter decides whether an upload may proceed.
type Admitter interface {
	Decide(ctx context.Context, id admission.Identity, req admission.Request) (admission.Decision, error)
}

// Transfer performs the token-authenticated byte transfer.
type Transfer interface {
	RequestToken(ctx context.Context, filename string, contentLength int64, tier string) (*hub.UploadToken, error)
	Upload(ctx context.Context, token *hub.UploadToken, filename string, data []byte, onProgress hub.ProgressFunc) (*hub.UploadResult, error)
}

// Recorder persists file records for non-temporary publications.
type Recorder interface {
	AddFile(ctx context.Context, record *entity.FileRecord) error
}

// Result is a completed publication.
type Result struct {
	DownloadURL    string
	Filename       string
	ExpiresInHours int
	Tier           admission.Tier
	// Record is set for non-temporary publications whose metadata write
	// succeeded; a nil Record with a non-empty DownloadURL means the
	// artifact is live but unrecorded.
	Record *entity.FileRecord
}

// Publisher orchestrates publish attempts.
type Publisher struct {
	admit    Admitter
	transfer Transfer
	records  Recorder
	logger   *zap.Logger
	inFlight atomic.Bool
}

func NewPublisher(admit Admitter, transfer Transfer, records Recorder, logger *zap.Logger) *Publisher {
	return &Publisher{
		admit:    admit,
		transfer: transfer,
		records:  records,
		logger:   logger.With(zap.String("component", "publish")),
	}
}

// Publish runs one attempt end to end. Denials surface as *DeniedError; the
// orchestrator never retries and never downgrades a denied persistent-tier
// request to temporary on the caller's behalf.
func (p *Publisher) Publish(ctx context.Context, id admission.Identity, tier admission.Tier, src ByteSource, onProgress hub.ProgressFunc) (*Result, error) {
	if id.Role == "" {
		return nil, ErrRoleNotLoaded
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, ErrPublishInFlight
	}
	defer p.inFlight.Store(false)

	sizeMB, err := src.SizeMB(ctx)
	if err != nil {
		return nil, err
	}

	decision, err := p.admit.Decide(ctx, id, admission.Request{
		Tier:   tier,
		Kind:   src.Kind(),
		SizeMB: sizeMB,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		p.logger.Info("Upload denied",
			zap.String("reason", string(decision.Reason)),
			zap.Float64("size_mb", sizeMB),
		)
		return nil, &DeniedError{Decision: decision}
	}

	data, err := src.Bytes(ctx)
	if err != nil {
		return nil, err
	}

	token, err := p.transfer.RequestToken(ctx, src.Filename(), int64(len(data)), string(decision.Tier))
	if err != nil {
		return nil, err
	}

	uploaded, err := p.transfer.Upload(ctx, token, src.Filename(), data, onProgress)
	if err != nil {
		return nil, err
	}

	result := &Result{
		DownloadURL:    uploaded.DownloadURL,
		Filename:       uploaded.Filename,
		ExpiresInHours: uploaded.ExpiresInHours,
		Tier:           decision.Tier,
	}

	if decision.Tier != admission.TierTemporary {
		record := &entity.FileRecord{
			UserID:      id.ID,
			FileName:    uploaded.Filename,
			DisplayName: src.Filename(),
			DownloadURL: uploaded.DownloadURL,
			SizeMB:      utils.BytesToMB(int64(len(data))),
			Format:      formatFor(src.Kind()),
		}
		if err := p.records.AddFile(ctx, record); err != nil {
			// The artifact is uploaded and reachable; a failed metadata
			// write must not look like an upload failure and must never
			// roll the remote artifact back.
			p.logger.Error("File record not saved after successful upload",
				zap.Error(err),
				zap.String("filename", uploaded.Filename),
			)
		} else {
			result.Record = record
		}
	}

	return result, nil
}

func formatFor(kind admission.Kind) string {
	if kind == admission.KindParquet {
		return entity.FormatParquet
	}
	return entity.FormatDatabase
}
