package models

import (
	"time"

	"github.com/google/uuid"
)

// Video is an uploaded lecture video (staged → probed → stored remotely → cataloged).
type Video struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	UploadedBy         uuid.UUID `json:"uploaded_by"`
	VideoURL           string    `json:"video_url"`
	ThumbnailURL       string    `json:"thumbnail_url"`
	StorageID          string    `json:"storage_id"`
	ThumbnailStorageID string    `json:"thumbnail_storage_id,omitempty"`
	Duration           float64   `json:"duration"` // seconds
	Views              int64     `json:"views"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// VideoPatch holds editable fields; nil means unchanged.
type VideoPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

// Role names carried in JWT claims.
const (
	RoleAdmin   = "admin"
	RoleMentor  = "mentor"
	RoleStudent = "student"
)

// Actor is the authenticated caller of a catalog mutation.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// CanModify reports whether the actor owns v or is an admin.
func (a Actor) CanModify(v *Video) bool {
	return a.Role == RoleAdmin || (v != nil && v.UploadedBy == a.UserID)
}
