// Package service implements UploadService, the orchestrator that
// validates inputs, sequences UploadStore and StorageDriver calls, and
// enforces the upload session state machine.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/torrin-io/torrin/internal/ids"
	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/storage"
	"github.com/torrin-io/torrin/internal/store"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// Service is the UploadService. It holds its collaborators behind
// interfaces only; it never type-asserts to a concrete store or driver.
type Service struct {
	store  store.Store
	driver storage.Driver
	logger *zap.Logger
}

// New constructs a Service over s and d. logger must not be nil; pass
// zap.NewNop() in tests that don't care about log output.
func New(s store.Store, d storage.Driver, logger *zap.Logger) *Service {
	return &Service{store: s, driver: d, logger: logger}
}

// InitUpload validates input, normalizes chunkSize, creates the store
// record, and asks the driver to reserve backing storage. Both must
// succeed for the session to be considered created.
func (svc *Service) InitUpload(ctx context.Context, input model.InitInput) (*model.Session, error) {
	if input.FileSize <= 0 {
		return nil, uploaderrors.New(uploaderrors.InvalidRequest, "fileSize must be positive")
	}

	chunkSize := ids.NormalizeChunkSize(input.DesiredChunkSize, input.FileSize)
	totalChunks := ids.TotalChunks(input.FileSize, chunkSize)

	session, err := svc.store.CreateSession(ctx, input, chunkSize, totalChunks)
	if err != nil {
		return nil, err
	}

	if err := svc.driver.InitUpload(ctx, session); err != nil {
		// Best-effort rollback of the store-side record; the caller only
		// ever sees the driver error.
		if delErr := svc.store.DeleteSession(ctx, session.UploadID); delErr != nil {
			svc.logger.Warn("failed to roll back session after driver init failure",
				zap.String("uploadId", session.UploadID), zap.Error(delErr))
		}
		return nil, err
	}

	svc.logger.Info("upload initialized",
		zap.String("uploadId", session.UploadID),
		zap.Int64("fileSize", session.FileSize),
		zap.Int64("chunkSize", session.ChunkSize),
		zap.Int("totalChunks", session.TotalChunks),
	)
	return session, nil
}

func (svc *Service) rejectIfTerminal(session *model.Session) error {
	switch session.Status {
	case model.StatusCompleted:
		return uploaderrors.New(uploaderrors.UploadAlreadyCompleted, "upload session is already completed")
	case model.StatusCanceled:
		return uploaderrors.New(uploaderrors.UploadCanceled, "upload session was canceled")
	}
	return nil
}

// HandleChunk validates and delegates one chunk write. Re-writing a known
// index is idempotent: neither rejected nor double-counted.
func (svc *Service) HandleChunk(ctx context.Context, uploadID string, index int, size int64, hash string, r io.Reader) error {
	session, err := svc.store.GetSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := svc.rejectIfTerminal(session); err != nil {
		return err
	}
	if index < 0 || index >= session.TotalChunks {
		return uploaderrors.New(uploaderrors.ChunkOutOfRange, "chunk index out of range").
			WithDetails(map[string]interface{}{"index": index, "totalChunks": session.TotalChunks})
	}

	expected := ids.ExpectedChunkSize(index, session.TotalChunks, session.FileSize, session.ChunkSize)
	if size != expected {
		return uploaderrors.New(uploaderrors.ChunkSizeMismatch, "chunk size does not match expected size").
			WithDetails(map[string]interface{}{"expected": expected, "actual": size})
	}

	// SHA-256 the chunk body as it streams to the driver; cheap relative to
	// the I/O it rides alongside. When the caller supplied a hash, the
	// advisory field becomes enforced.
	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)
	if err := svc.driver.WriteChunk(ctx, session, index, tee, expected, hash); err != nil {
		return err
	}
	if hash != "" {
		if computed := hex.EncodeToString(hasher.Sum(nil)); computed != hash {
			return uploaderrors.New(uploaderrors.ChunkHashMismatch, "chunk hash does not match supplied hash").
				WithDetails(map[string]interface{}{"expected": hash, "actual": computed})
		}
	}

	if err := svc.store.MarkChunkReceived(ctx, uploadID, index); err != nil {
		return err
	}

	if session.Status == model.StatusPending {
		inProgress := model.StatusInProgress
		if _, err := svc.store.UpdateSession(ctx, uploadID, model.SessionPatch{Status: &inProgress}); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus returns the read model of a session's progress.
func (svc *Service) GetStatus(ctx context.Context, uploadID string) (*model.UploadStatus, error) {
	session, err := svc.store.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	received, err := svc.store.ListReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	receivedSet := make(map[int]struct{}, len(received))
	for _, idx := range received {
		receivedSet[idx] = struct{}{}
	}
	return &model.UploadStatus{
		UploadID:       session.UploadID,
		Status:         session.Status,
		FileName:       session.FileName,
		FileSize:       session.FileSize,
		ChunkSize:      session.ChunkSize,
		TotalChunks:    session.TotalChunks,
		ReceivedChunks: received,
		MissingChunks:  ids.MissingChunks(receivedSet, session.TotalChunks),
	}, nil
}

// CompleteUpload finalizes the artifact via the driver and patches the
// session to completed. Finalize is not transactional with the status
// patch: if finalize succeeds but the patch fails, the artifact exists
// durably while the session record still reads in_progress. This is a
// documented store-failure mode, not a bug to paper over with a retry
// (finalize is not idempotent for S3 multipart).
func (svc *Service) CompleteUpload(ctx context.Context, uploadID string, hash string) (*model.CompleteResult, error) {
	session, err := svc.store.GetSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if err := svc.rejectIfTerminal(session); err != nil {
		return nil, err
	}

	received, err := svc.store.ListReceivedChunks(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	receivedSet := make(map[int]struct{}, len(received))
	for _, idx := range received {
		receivedSet[idx] = struct{}{}
	}
	if missing := ids.MissingChunks(receivedSet, session.TotalChunks); len(missing) > 0 {
		return nil, uploaderrors.New(uploaderrors.MissingChunks, "cannot complete upload with missing chunks").
			WithDetails(map[string]interface{}{"missingChunks": missing})
	}

	location, err := svc.driver.FinalizeUpload(ctx, session)
	if err != nil {
		return nil, err
	}

	if hash != "" {
		if hasher, ok := svc.driver.(storage.FileHasher); ok {
			computed, hashErr := hasher.ComputeHash(ctx, session, location)
			if hashErr != nil {
				return nil, hashErr
			}
			if computed != hash {
				return nil, uploaderrors.New(uploaderrors.FileHashMismatch, "final artifact hash does not match supplied hash").
					WithDetails(map[string]interface{}{"expected": hash, "actual": computed})
			}
		}
	}

	completed := model.StatusCompleted
	updated, err := svc.store.UpdateSession(ctx, uploadID, model.SessionPatch{Status: &completed})
	if err != nil {
		svc.logger.Error("artifact finalized but session patch to completed failed",
			zap.String("uploadId", uploadID), zap.Error(err))
		return nil, err
	}

	svc.logger.Info("upload completed", zap.String("uploadId", uploadID), zap.String("storageType", location.Type))
	return &model.CompleteResult{
		UploadID: updated.UploadID,
		Status:   updated.Status,
		Location: location,
	}, nil
}

// AbortUpload releases driver-side resources and patches the session to
// canceled. Aborting an already-canceled session is a no-op.
func (svc *Service) AbortUpload(ctx context.Context, uploadID string) error {
	session, err := svc.store.GetSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if session.Status == model.StatusCompleted {
		return uploaderrors.New(uploaderrors.UploadAlreadyCompleted, "cannot abort a completed upload")
	}
	if session.Status == model.StatusCanceled {
		return nil
	}

	if err := svc.driver.AbortUpload(ctx, session); err != nil {
		return err
	}
	canceled := model.StatusCanceled
	if _, err := svc.store.UpdateSession(ctx, uploadID, model.SessionPatch{Status: &canceled}); err != nil {
		return err
	}
	return nil
}

// ListUploads returns a status summary for every session the store
// currently holds, supporting the GET /torrin/uploads listing endpoint.
// Requires the store's optional AllLister capability.
func (svc *Service) ListUploads(ctx context.Context) ([]*model.UploadStatus, error) {
	lister, ok := svc.store.(store.AllLister)
	if !ok {
		return nil, uploaderrors.New(uploaderrors.InternalError, "store does not support listing all sessions")
	}
	sessions, err := lister.ListAllSessions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*model.UploadStatus, 0, len(sessions))
	for _, session := range sessions {
		received, err := svc.store.ListReceivedChunks(ctx, session.UploadID)
		if err != nil {
			return nil, err
		}
		receivedSet := make(map[int]struct{}, len(received))
		for _, idx := range received {
			receivedSet[idx] = struct{}{}
		}
		out = append(out, &model.UploadStatus{
			UploadID:       session.UploadID,
			Status:         session.Status,
			FileName:       session.FileName,
			FileSize:       session.FileSize,
			ChunkSize:      session.ChunkSize,
			TotalChunks:    session.TotalChunks,
			ReceivedChunks: received,
			MissingChunks:  ids.MissingChunks(receivedSet, session.TotalChunks),
		})
	}
	return out, nil
}

// sweep runs the shared cleanup action over sessions, aggregating
// per-session failures with multierr so one bad session never aborts the
// rest of the pass.
func (svc *Service) sweep(ctx context.Context, sessions []*model.Session) *model.CleanupResult {
	result := &model.CleanupResult{}
	var aggregate error
	for _, session := range sessions {
		if session.Status != model.StatusCompleted {
			if err := svc.driver.AbortUpload(ctx, session); err != nil {
				aggregate = multierr.Append(aggregate, err)
				result.Errors = append(result.Errors, err.Error())
				continue
			}
		}
		if err := svc.store.DeleteSession(ctx, session.UploadID); err != nil {
			aggregate = multierr.Append(aggregate, err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Cleaned++
	}
	if aggregate != nil {
		svc.logger.Warn("cleanup sweep completed with errors", zap.Int("cleaned", result.Cleaned), zap.Error(aggregate))
	}
	return result
}

// CleanupExpiredUploads deletes sessions whose TTL has elapsed. Requires
// the store's optional ExpiryLister capability.
func (svc *Service) CleanupExpiredUploads(ctx context.Context) (*model.CleanupResult, error) {
	lister, ok := svc.store.(store.ExpiryLister)
	if !ok {
		return &model.CleanupResult{Errors: []string{"not supported"}}, nil
	}
	sessions, err := lister.ListExpiredSessions(ctx)
	if err != nil {
		return nil, err
	}
	return svc.sweep(ctx, sessions), nil
}

// CleanupStaleUploads deletes non-completed sessions whose updatedAt is
// older than maxAge. Requires the store's optional AllLister capability.
func (svc *Service) CleanupStaleUploads(ctx context.Context, maxAge time.Duration) (*model.CleanupResult, error) {
	lister, ok := svc.store.(store.AllLister)
	if !ok {
		return &model.CleanupResult{Errors: []string{"not supported"}}, nil
	}
	all, err := lister.ListAllSessions(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var stale []*model.Session
	for _, session := range all {
		if session.Status == model.StatusCompleted {
			continue
		}
		if now.Sub(session.UpdatedAt) > maxAge {
			stale = append(stale, session)
		}
	}
	return svc.sweep(ctx, stale), nil
}
