package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/entity"
	"github.com/tablecrate/tablecrate/internal/hub"
)

type fakeSource struct {
	name      string
	kind      admission.Kind
	data      []byte
	sizeCalls int
	byteCalls int
}

func (s *fakeSource) Filename() string     { return s.name }
func (s *fakeSource) Kind() admission.Kind { return s.kind }

func (s *fakeSource) SizeMB(ctx context.Context) (float64, error) {
	s.sizeCalls++
	return float64(len(s.data)) / (1024 * 1024), nil
}

func (s *fakeSource) Bytes(ctx context.Context) ([]byte, error) {
	s.byteCalls++
	return s.data, nil
}

type fakeAdmitter struct {
	decision admission.Decision
	requests []admission.Request
}

func (a *fakeAdmitter) Decide(ctx context.Context, id admission.Identity, req admission.Request) (admission.Decision, error) {
	a.requests = append(a.requests, req)
	return a.decision, nil
}

type fakeTransfer struct {
	tokenCalls  int
	uploadCalls int
	uploaded    []byte
	failUpload  error
}

func (t *fakeTransfer) RequestToken(ctx context.Context, filename string, contentLength int64, tier string) (*hub.UploadToken, error) {
	t.tokenCalls++
	return &hub.UploadToken{Token: "tok", Filename: filename, StorageTier: tier, UploadURL: "/up/1"}, nil
}

func (t *fakeTransfer) Upload(ctx context.Context, token *hub.UploadToken, filename string, data []byte, onProgress hub.ProgressFunc) (*hub.UploadResult, error) {
	t.uploadCalls++
	if t.failUpload != nil {
		return nil, t.failUpload
	}
	t.uploaded = data
	if onProgress != nil {
		onProgress(int64(len(data)), int64(len(data)))
	}
	return &hub.UploadResult{DownloadURL: "/files/abc_" + filename, Filename: "abc_" + filename, ExpiresInHours: 24}, nil
}

type fakeRecorder struct {
	records []*entity.FileRecord
	fail    error
}

func (r *fakeRecorder) AddFile(ctx context.Context, record *entity.FileRecord) error {
	if r.fail != nil {
		return r.fail
	}
	r.records = append(r.records, record)
	return nil
}

func allow(tier admission.Tier) admission.Decision {
	return admission.Decision{Allowed: true, Tier: tier}
}

func loadedUser() admission.Identity {
	return admission.Identity{ID: uuid.New(), Role: admission.RoleUser, Allowlisted: true}
}

func TestPublishRejectsUnloadedRole(t *testing.T) {
	p := NewPublisher(&fakeAdmitter{}, &fakeTransfer{}, &fakeRecorder{}, zap.NewNop())

	_, err := p.Publish(context.Background(), admission.Identity{}, admission.TierTemporary,
		&fakeSource{name: "a.zip", kind: admission.KindDatabase}, nil)
	if !errors.Is(err, ErrRoleNotLoaded) {
		t.Fatalf("expected ErrRoleNotLoaded, got %v", err)
	}
}

func TestPublishDenialIsTerminalAndPrecise(t *testing.T) {
	admitter := &fakeAdmitter{decision: admission.Decision{
		Reason: admission.ReasonFileCountLimit,
		Detail: admission.Detail{CurrentCount: 2, MaxCount: 2},
	}}
	transfer := &fakeTransfer{}
	src := &fakeSource{name: "a.zip", kind: admission.KindDatabase, data: []byte("zip")}
	p := NewPublisher(admitter, transfer, &fakeRecorder{}, zap.NewNop())

	_, err := p.Publish(context.Background(), loadedUser(), admission.TierPersistent, src, nil)

	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *DeniedError, got %v", err)
	}
	if denied.Decision.Reason != admission.ReasonFileCountLimit {
		t.Errorf("reason = %s, want FILE_COUNT_LIMIT", denied.Decision.Reason)
	}
	if denied.Decision.Detail.CurrentCount != 2 || denied.Decision.Detail.MaxCount != 2 {
		t.Errorf("detail = %+v, want {2, 2}", denied.Decision.Detail)
	}
	// A denial must not retry, must not export and must not transfer.
	if src.byteCalls != 0 {
		t.Errorf("bytes produced %d times before admission passed", src.byteCalls)
	}
	if transfer.tokenCalls != 0 || transfer.uploadCalls != 0 {
		t.Error("transfer attempted after denial")
	}
	if len(admitter.requests) != 1 {
		t.Errorf("admission consulted %d times, want exactly 1", len(admitter.requests))
	}
}

func TestPublishTemporaryCreatesNoRecord(t *testing.T) {
	recorder := &fakeRecorder{}
	p := NewPublisher(&fakeAdmitter{decision: allow(admission.TierTemporary)},
		&fakeTransfer{}, recorder, zap.NewNop())

	result, err := p.Publish(context.Background(), loadedUser(), admission.TierTemporary,
		&fakeSource{name: "a.parquet", kind: admission.KindParquet, data: []byte("PAR1")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Record != nil {
		t.Error("temporary publish created a file record")
	}
	if len(recorder.records) != 0 {
		t.Error("recorder called for temporary publish")
	}
	if result.DownloadURL == "" {
		t.Error("missing download reference")
	}
}

func TestPublishPersistentCreatesRecord(t *testing.T) {
	recorder := &fakeRecorder{}
	id := loadedUser()
	p := NewPublisher(&fakeAdmitter{decision: allow(admission.TierPersistent)},
		&fakeTransfer{}, recorder, zap.NewNop())

	result, err := p.Publish(context.Background(), id, admission.TierPersistent,
		&fakeSource{name: "a.zip", kind: admission.KindDatabase, data: []byte("zipbytes")}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.Record == nil || len(recorder.records) != 1 {
		t.Fatal("persistent publish did not create a file record")
	}
	record := recorder.records[0]
	if record.UserID != id.ID {
		t.Errorf("record owner = %s, want %s", record.UserID, id.ID)
	}
	if record.Format != entity.FormatDatabase {
		t.Errorf("record format = %s, want database", record.Format)
	}
	if record.FileName != result.Filename {
		t.Errorf("record filename = %s, want server-assigned %s", record.FileName, result.Filename)
	}
}

func TestPublishSurvivesRecordPersistFailure(t *testing.T) {
	recorder := &fakeRecorder{fail: errors.New("metadata store down")}
	p := NewPublisher(&fakeAdmitter{decision: allow(admission.TierPersistent)},
		&fakeTransfer{}, recorder, zap.NewNop())

	result, err := p.Publish(context.Background(), loadedUser(), admission.TierPersistent,
		&fakeSource{name: "a.zip", kind: admission.KindDatabase, data: []byte("zip")}, nil)
	// The artifact is uploaded and reachable; the failed write is logged,
	// not surfaced as an upload failure.
	if err != nil {
		t.Fatalf("record persist failure surfaced as publish failure: %v", err)
	}
	if result.DownloadURL == "" {
		t.Error("missing download reference")
	}
	if result.Record != nil {
		t.Error("result claims a record that was never persisted")
	}
}

func TestPublishTransferFailureIsTerminal(t *testing.T) {
	transfer := &fakeTransfer{failUpload: &hub.TransferError{Message: "boom"}}
	recorder := &fakeRecorder{}
	p := NewPublisher(&fakeAdmitter{decision: allow(admission.TierPersistent)},
		transfer, recorder, zap.NewNop())

	_, err := p.Publish(context.Background(), loadedUser(), admission.TierPersistent,
		&fakeSource{name: "a.zip", kind: admission.KindDatabase, data: []byte("zip")}, nil)

	var transferErr *hub.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected *hub.TransferError, got %v", err)
	}
	if transfer.uploadCalls != 1 {
		t.Errorf("upload attempted %d times, want exactly 1 (no retry)", transfer.uploadCalls)
	}
	if len(recorder.records) != 0 {
		t.Error("record created for failed transfer")
	}
}

// reentrantSource tries to start a second publish from inside the first.
type reentrantSource struct {
	fakeSource
	p   *Publisher
	id  admission.Identity
	got error
}

func (s *reentrantSource) SizeMB(ctx context.Context) (float64, error) {
	_, s.got = s.p.Publish(ctx, s.id, admission.TierTemporary,
		&fakeSource{name: "b.zip", kind: admission.KindDatabase}, nil)
	return 0.1, nil
}

func TestPublishSingleInFlight(t *testing.T) {
	p := NewPublisher(&fakeAdmitter{decision: allow(admission.TierTemporary)},
		&fakeTransfer{}, &fakeRecorder{}, zap.NewNop())

	id := loadedUser()
	src := &reentrantSource{
		fakeSource: fakeSource{name: "a.zip", kind: admission.KindDatabase, data: []byte("z")},
		p:          p,
		id:         id,
	}
	if _, err := p.Publish(context.Background(), id, admission.TierTemporary, src, nil); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(src.got, ErrPublishInFlight) {
		t.Errorf("concurrent publish error = %v, want ErrPublishInFlight", src.got)
	}
}
