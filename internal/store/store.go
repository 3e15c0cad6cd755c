// Package store defines the UploadStore contract (session metadata plus
// received-chunk index persistence) and the in-memory reference
// implementation. The interface is designed to admit a network-backed
// implementation; UploadService only ever holds a Store reference, never a
// concrete type.
package store

import (
	"context"

	"github.com/torrin-io/torrin/internal/model"
)

// Store is the required UploadStore contract (spec §4.3).
type Store interface {
	CreateSession(ctx context.Context, input model.InitInput, chunkSize int64, totalChunks int) (*model.Session, error)
	GetSession(ctx context.Context, uploadID string) (*model.Session, error)
	UpdateSession(ctx context.Context, uploadID string, patch model.SessionPatch) (*model.Session, error)
	MarkChunkReceived(ctx context.Context, uploadID string, index int) error
	ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error)
	DeleteSession(ctx context.Context, uploadID string) error
}

// ExpiryLister is the optional capability backing cleanupExpiredUploads.
// A store that doesn't implement it causes UploadService to report the
// sweep as unsupported.
type ExpiryLister interface {
	ListExpiredSessions(ctx context.Context) ([]*model.Session, error)
}

// AllLister is the optional capability backing cleanupStaleUploads.
type AllLister interface {
	ListAllSessions(ctx context.Context) ([]*model.Session, error)
}
