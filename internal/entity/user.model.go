package entity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	Email       string    `json:"email" gorm:"type:varchar(100);uniqueIndex"`
	Name        string    `json:"name" gorm:"type:varchar(100)"`
	Role        string    `json:"role" gorm:"type:varchar(32)"`
	Allowlisted bool      `json:"allowlisted" gorm:"type:boolean"`
	Blocked     bool      `json:"blocked" gorm:"type:boolean"`
	// MaxFiles overrides the role's default file-count quota.
	// NULL means the role default applies; -1 means unlimited.
	MaxFiles *int `json:"max_files" gorm:"type:integer"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
