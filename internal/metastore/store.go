// Package metastore is the persistent metadata boundary: user lookup and
// limits, plus the durable file records created for non-temporary
// publications.
package metastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/entity"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrFileNotFound = errors.New("file record not found")
	ErrNotOwner     = errors.New("file record belongs to another user")
)

// RecordPersistError wraps a failed metadata write that happened after a
// successful transfer. The uploaded artifact exists and is reachable; this
// error must be logged, never surfaced as an upload failure.
type RecordPersistError struct {
	Err error
}

func (e *RecordPersistError) Error() string {
	return fmt.Sprintf("file record not persisted: %v", e.Err)
}

func (e *RecordPersistError) Unwrap() error { return e.Err }

// Store implements the metadata operations over gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.With(zap.String("component", "metastore"))}
}

// CheckUser looks a user up by email.
func (s *Store) CheckUser(ctx context.Context, email string) (*entity.User, error) {
	var user entity.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &user, nil
}

// UserRole returns the user's role.
func (s *Store) UserRole(ctx context.Context, userID uuid.UUID) (string, error) {
	var user entity.User
	err := s.db.WithContext(ctx).Select("role").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user role: %w", err)
	}
	return user.Role, nil
}

// UserLimits returns the user's file-count override; nil means the role
// default applies.
func (s *Store) UserLimits(ctx context.Context, userID uuid.UUID) (*int, error) {
	var user entity.User
	err := s.db.WithContext(ctx).Select("max_files").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user limits: %w", err)
	}
	return user.MaxFiles, nil
}

// Identity resolves a user's email into the admission identity. An unknown
// email yields the anonymous identity, which only qualifies for temporary
// uploads.
func (s *Store) Identity(ctx context.Context, email string) (admission.Identity, error) {
	if email == "" {
		return admission.Identity{Role: admission.RoleAnonymous}, nil
	}
	user, err := s.CheckUser(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return admission.Identity{Email: email, Role: admission.RoleAnonymous}, nil
	}
	if err != nil {
		return admission.Identity{}, err
	}
	return admission.Identity{
		ID:          user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Allowlisted: user.Allowlisted,
		Blocked:     user.Blocked,
		MaxFiles:    user.MaxFiles,
	}, nil
}

// CountFiles counts the user's non-deleted file records. Soft-deleted rows
// are excluded by gorm's DeletedAt handling.
func (s *Store) CountFiles(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&entity.FileRecord{}).
		Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count file records: %w", err)
	}
	return count, nil
}

// ListFiles returns the user's non-deleted file records, newest first.
func (s *Store) ListFiles(ctx context.Context, userID uuid.UUID) ([]entity.FileRecord, error) {
	var records []entity.FileRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).Order("created_at DESC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	return records, nil
}

// AddFile persists a new file record.
func (s *Store) AddFile(ctx context.Context, record *entity.FileRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return &RecordPersistError{Err: err}
	}
	return nil
}

// RenameFile updates the display name of a record owned by the user.
func (s *Store) RenameFile(ctx context.Context, userID, fileID uuid.UUID, displayName string) error {
	record, err := s.ownedRecord(ctx, userID, fileID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Model(record).Update("display_name", displayName).Error
	if err != nil {
		return fmt.Errorf("failed to rename file record: %w", err)
	}
	return nil
}

// DeleteFile soft-deletes a record owned by the user and returns it so the
// caller can request a best-effort purge of the remote bytes.
func (s *Store) DeleteFile(ctx context.Context, userID, fileID uuid.UUID) (*entity.FileRecord, error) {
	record, err := s.ownedRecord(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(record).Error; err != nil {
		return nil, fmt.Errorf("failed to delete file record: %w", err)
	}
	return record, nil
}

func (s *Store) ownedRecord(ctx context.Context, userID, fileID uuid.UUID) (*entity.FileRecord, error) {
	var record entity.FileRecord
	err := s.db.WithContext(ctx).Where("id = ?", fileID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up file record: %w", err)
	}
	if record.UserID != userID {
		return nil, ErrNotOwner
	}
	return &record, nil
}
