package store

import (
	"context"
	"sync"
	"time"

	"github.com/torrin-io/torrin/internal/ids"
	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// entry is the hash-indexed record the teacher's SessionManager kept per
// session, generalized with a chunk-index set instead of a map of
// per-chunk metadata (spec §3 only requires set membership).
type entry struct {
	session   *model.Session
	received  map[int]struct{}
}

// MemStore is the process-local reference UploadStore. It does not survive
// restart; spec §1 names this explicitly as the store implementation's
// problem, not the service's.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func cloneSession(s *model.Session) *model.Session {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

// CreateSession generates an upload id and persists a pending session.
func (m *MemStore) CreateSession(ctx context.Context, input model.InitInput, chunkSize int64, totalChunks int) (*model.Session, error) {
	now := m.now()
	session := &model.Session{
		UploadID:    ids.NewUploadID(),
		FileName:    input.FileName,
		MimeType:    input.MimeType,
		Metadata:    input.Metadata,
		FileSize:    input.FileSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.TTL != nil {
		expiry := now.Add(*input.TTL)
		session.ExpiresAt = &expiry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[session.UploadID] = &entry{
		session:  session,
		received: make(map[int]struct{}),
	}
	return cloneSession(session), nil
}

// GetSession treats expiresAt <= now as absent: the store pretends the
// session is gone once its TTL elapses, even if no sweep has run yet.
func (m *MemStore) GetSession(ctx context.Context, uploadID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[uploadID]
	if !ok {
		return nil, uploaderrors.New(uploaderrors.UploadNotFound, "upload session not found")
	}
	if e.session.ExpiresAt != nil && !e.session.ExpiresAt.After(m.now()) {
		return nil, uploaderrors.New(uploaderrors.UploadNotFound, "upload session not found")
	}
	return cloneSession(e.session), nil
}

// UpdateSession applies patch and refreshes updatedAt.
func (m *MemStore) UpdateSession(ctx context.Context, uploadID string, patch model.SessionPatch) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[uploadID]
	if !ok {
		return nil, uploaderrors.New(uploaderrors.UploadNotFound, "upload session not found")
	}
	if patch.Status != nil {
		e.session.Status = *patch.Status
	}
	e.session.UpdatedAt = m.now()
	return cloneSession(e.session), nil
}

// MarkChunkReceived is an idempotent set insert; re-marking a known index is
// a no-op but still refreshes updatedAt, matching the teacher's
// UpdateSession-on-any-mutation behavior.
func (m *MemStore) MarkChunkReceived(ctx context.Context, uploadID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[uploadID]
	if !ok {
		return uploaderrors.New(uploaderrors.UploadNotFound, "upload session not found")
	}
	e.received[index] = struct{}{}
	e.session.UpdatedAt = m.now()
	return nil
}

// ListReceivedChunks returns the sorted received-index list.
func (m *MemStore) ListReceivedChunks(ctx context.Context, uploadID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[uploadID]
	if !ok {
		return nil, uploaderrors.New(uploaderrors.UploadNotFound, "upload session not found")
	}
	return ids.SortedIndices(e.received), nil
}

// DeleteSession removes a session's record. Deleting an unknown session is
// not an error: cleanup sweeps operate on a snapshot and tolerate concurrent
// deletions (spec §5).
func (m *MemStore) DeleteSession(ctx context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, uploadID)
	return nil
}

// ListExpiredSessions returns every entry whose expiresAt < now, implementing
// the optional ExpiryLister capability. A completed session is never
// auto-cleaned (spec §3), so the reference policy excludes it here even if
// its TTL has technically elapsed.
func (m *MemStore) ListExpiredSessions(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []*model.Session
	for _, e := range m.entries {
		if e.session.Status == model.StatusCompleted {
			continue
		}
		if e.session.ExpiresAt != nil && e.session.ExpiresAt.Before(now) {
			out = append(out, cloneSession(e.session))
		}
	}
	return out, nil
}

// ListAllSessions returns every session currently held, implementing the
// optional AllLister capability used by cleanupStaleUploads.
func (m *MemStore) ListAllSessions(ctx context.Context) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, cloneSession(e.session))
	}
	return out, nil
}

var (
	_ Store        = (*MemStore)(nil)
	_ ExpiryLister = (*MemStore)(nil)
	_ AllLister    = (*MemStore)(nil)
)
