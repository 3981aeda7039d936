package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an upload session.
type SessionStatus string

const (
	SessionStatusUploading  SessionStatus = "uploading"
	SessionStatusUploaded   SessionStatus = "uploaded"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// ProcessingStats summarizes one processing run of a session.
type ProcessingStats struct {
	TotalFiles       int   `json:"total_files"`
	SuccessfulFiles  int   `json:"successful_files"`
	FailedFiles      int   `json:"failed_files"`
	TextFiles        int   `json:"text_files"`
	ImageFiles       int   `json:"image_files"`
	DuplicateGroups  int   `json:"duplicate_groups"`
	TotalDuplicates  int   `json:"total_duplicates"`
	BytesReclaimable int64 `json:"bytes_reclaimable"`
}

// UploadSession tracks one upload batch end to end. The record is mutated
// only by the session manager on behalf of the owning worker invocation;
// readers see eventually-consistent, monotonically-advancing progress.
type UploadSession struct {
	ID              uuid.UUID        `json:"session_id" db:"id"`
	OwnerID         string           `json:"owner_id" db:"owner_id"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	Status          SessionStatus    `json:"status" db:"status"`
	Progress        int              `json:"progress" db:"progress"`
	TotalFiles      int              `json:"total_files" db:"total_files"`
	ProcessedFiles  int              `json:"processed_files" db:"processed_files"`
	FailedFiles     int              `json:"failed_files" db:"failed_files"`
	DuplicateGroups []DuplicateGroup `json:"duplicate_groups" db:"duplicate_groups"`
	ProcessingStats *ProcessingStats `json:"processing_stats,omitempty" db:"processing_stats"`
	ErrorMessage    string           `json:"error_message,omitempty" db:"error_message"`
	TempDir         string           `json:"-" db:"temp_dir"`
}

// SessionStatusResponse is the polling view of a session exposed by the API.
type SessionStatusResponse struct {
	SessionID       uuid.UUID        `json:"session_id"`
	Status          SessionStatus    `json:"status"`
	Progress        int              `json:"progress"`
	TotalFiles      int              `json:"total_files"`
	ProcessedFiles  int              `json:"processed_files"`
	FailedFiles     int              `json:"failed_files"`
	DuplicateGroups []DuplicateGroup `json:"duplicate_groups"`
	ProcessingStats *ProcessingStats `json:"processing_stats,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// StatusView projects the session into its polling representation.
func (s *UploadSession) StatusView() SessionStatusResponse {
	groups := s.DuplicateGroups
	if groups == nil {
		groups = []DuplicateGroup{}
	}
	return SessionStatusResponse{
		SessionID:       s.ID,
		Status:          s.Status,
		Progress:        s.Progress,
		TotalFiles:      s.TotalFiles,
		ProcessedFiles:  s.ProcessedFiles,
		FailedFiles:     s.FailedFiles,
		DuplicateGroups: groups,
		ProcessingStats: s.ProcessingStats,
		ErrorMessage:    s.ErrorMessage,
	}
}
