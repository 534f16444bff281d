package entity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Artifact formats recorded for a published file.
const (
	FormatParquet  = "parquet"
	FormatDatabase = "database"
)

// FileRecord is the durable metadata row for a successful non-temporary
// publication. Deleting a record is a soft delete (gorm.Model.DeletedAt);
// the remote bytes are purged best-effort and the row is kept for audit.
type FileRecord struct {
	gorm.Model
	ID          uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"file_name"`
	DisplayName string    `gorm:"type:varchar(255)" json:"display_name"`
	DownloadURL string    `gorm:"type:text;not null" json:"download_url"`
	SizeMB      float64   `gorm:"type:real" json:"size_mb"`
	Format      string    `gorm:"type:varchar(32)" json:"format"`
}

func (f *FileRecord) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
