// Package model holds the data types shared by the store, drivers, and
// service: the authoritative UploadSession record, the tagged
// StorageLocation union, and the read-model types returned to callers.
package model

import "time"

// Status is one of the legal UploadSession lifecycle states (spec §3/§4.1).
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCanceled    Status = "canceled"
)

// Session is the authoritative record of one upload.
type Session struct {
	UploadID    string
	FileName    string
	MimeType    string
	Metadata    map[string]string
	FileSize    int64
	ChunkSize   int64
	TotalChunks int
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
}

// InitInput is the caller-supplied payload for initUpload.
type InitInput struct {
	FileName         string
	MimeType         string
	Metadata         map[string]string
	FileSize         int64
	DesiredChunkSize int64
	TTL              *time.Duration
}

// SessionPatch describes a partial mutation applied by UploadStore.UpdateSession.
type SessionPatch struct {
	Status *Status
}

// StorageLocation is the tagged union returned on finalize.
type StorageLocation struct {
	Type   string `json:"type"` // "local" or "s3"
	Path   string `json:"path,omitempty"`   // populated for Type == "local"
	Bucket string `json:"bucket,omitempty"` // populated for Type == "s3"
	Key    string `json:"key,omitempty"`    // populated for Type == "s3"
	URL    string `json:"url,omitempty"`
	ETag   string `json:"etag,omitempty"`
}

// UploadStatus is the read model returned by UploadService.GetStatus.
type UploadStatus struct {
	UploadID       string `json:"uploadId"`
	Status         Status `json:"status"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	ReceivedChunks []int  `json:"receivedChunks"`
	MissingChunks  []int  `json:"missingChunks"`
}

// CompleteResult is returned by UploadService.CompleteUpload.
type CompleteResult struct {
	UploadID string          `json:"uploadId"`
	Status   Status          `json:"status"`
	Location StorageLocation `json:"location"`
}

// CleanupResult is returned by the two cleanup sweeps.
type CleanupResult struct {
	Cleaned int
	Errors  []string
}
