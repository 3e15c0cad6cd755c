// Package storage defines the StorageDriver contract: byte persistence for
// an upload's chunks and the finalized artifact. Two concrete drivers are
// provided in sibling packages: localdriver (staged chunk files on disk)
// and s3driver (S3-compatible multipart upload).
package storage

import (
	"context"
	"io"

	"github.com/torrin-io/torrin/internal/model"
)

// Driver is the StorageDriver capability set (spec §4.2): init, writeChunk,
// finalize, abort. UploadService holds it behind this interface only.
type Driver interface {
	// InitUpload prepares backing storage for a new session (a temp
	// directory, an S3 multipart upload, ...).
	InitUpload(ctx context.Context, session *model.Session) error

	// WriteChunk persists the bytes of one chunk. expected is the chunk's
	// validated size; hash is the optional client-supplied content hash.
	// Implementations must tolerate a re-written index (last-writer-wins).
	WriteChunk(ctx context.Context, session *model.Session, index int, r io.Reader, expected int64, hash string) error

	// FinalizeUpload materializes the artifact once every chunk has
	// arrived, returning its storage location. Not idempotent for drivers
	// whose underlying transport isn't (S3 multipart complete).
	FinalizeUpload(ctx context.Context, session *model.Session) (model.StorageLocation, error)

	// AbortUpload releases any storage resources reserved for session.
	// Absence of reserved state is success, not an error.
	AbortUpload(ctx context.Context, session *model.Session) error
}

// FileHasher is the optional capability backing file-level hash
// verification on complete (spec §9's advisory hash field, made enforced
// when supplied). Not every driver can cheaply compute a whole-artifact
// digest (S3 has no read-back-and-hash primitive worth the round trip),
// so this is opt-in rather than part of the required Driver contract.
type FileHasher interface {
	ComputeHash(ctx context.Context, session *model.Session, location model.StorageLocation) (string, error)
}
