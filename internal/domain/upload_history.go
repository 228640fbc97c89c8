package domain

import (
	"time"

	"github.com/google/uuid"
)

type UploadRecordStatus string

const (
	UploadRecordStatusValidating UploadRecordStatus = "validating"
	UploadRecordStatusReady      UploadRecordStatus = "ready"
	UploadRecordStatusConfirmed  UploadRecordStatus = "confirmed"
	UploadRecordStatusDiscarded  UploadRecordStatus = "discarded"
	UploadRecordStatusFailed     UploadRecordStatus = "failed"
)

// UploadRecord is the console's own audit entry for one bulk upload.
type UploadRecord struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	JobID        string             `db:"job_id" json:"job_id"`
	UploadedBy   string             `db:"uploaded_by" json:"uploaded_by"`
	Filename     string             `db:"filename" json:"filename"`
	FileKey      *string            `db:"file_key" json:"file_key,omitempty"`
	Status       UploadRecordStatus `db:"status" json:"status"`
	ExpireDate   string             `db:"expire_date" json:"expire_date"`
	TotalCount   int                `db:"total_count" json:"total_count"`
	ValidCount   int                `db:"valid_count" json:"valid_count"`
	InvalidCount int                `db:"invalid_count" json:"invalid_count"`
	Message      *string            `db:"message" json:"message,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

type UploadRecordFilter struct {
	UploadedBy string
	Statuses   []UploadRecordStatus
	Limit      int
}
