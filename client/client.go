package client

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/torrin-io/torrin/internal/ids"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// Status is one of the Upload state machine's states (spec §4.4).
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusUploading    Status = "uploading"
	StatusPaused       Status = "paused"
	StatusCompleting   Status = "completing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCanceled     Status = "canceled"
)

const (
	defaultMaxConcurrency = 3
	maxMaxConcurrency     = 10
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = 500 * time.Millisecond
	saveEveryNChunks      = 10
)

// Source is the local file an Upload reads chunks from. LastModified being
// zero disables resume-by-file-selection (no stable file key can be built).
type Source struct {
	Name         string
	Size         int64
	MimeType     string
	Metadata     map[string]string
	LastModified time.Time
	ReaderAt     io.ReaderAt
}

func (s Source) fileKey() (string, bool) {
	if s.LastModified.IsZero() {
		return "", false
	}
	return ids.FileKey(s.Name, s.Size, s.LastModified), true
}

// Options configures an Upload.
type Options struct {
	MaxConcurrency int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	ChunkSize      int64
	ResumeStore    ResumeStore
}

func (o Options) normalize() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.MaxConcurrency > maxMaxConcurrency {
		o.MaxConcurrency = maxMaxConcurrency
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = defaultRetryBaseDelay
	}
	if o.ResumeStore == nil {
		o.ResumeStore = NewMemoryResumeStore()
	}
	return o
}

// pauseLatch is a manual-reset gate: Wait blocks while paused, Pause/Resume
// toggle it. Two checkpoints in the retry loop poll it so an in-flight
// chunk neither races ahead nor deadlocks a caller holding no locks.
type pauseLatch struct {
	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
}

func newPauseLatch() *pauseLatch {
	return &pauseLatch{}
}

func (l *pauseLatch) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.paused {
		l.paused = true
		l.resumeCh = make(chan struct{})
	}
}

func (l *pauseLatch) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		l.paused = false
		close(l.resumeCh)
	}
}

func (l *pauseLatch) Wait(ctx context.Context) error {
	l.mu.Lock()
	if !l.paused {
		l.mu.Unlock()
		return nil
	}
	ch := l.resumeCh
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upload drives one resumable upload end to end: resume discovery, a
// bounded-concurrency chunk pump, pause/resume/cancel, retry with
// exponential backoff, and progress/status/error events.
type Upload struct {
	transport Transport
	source    Source
	opts      Options
	events    *EventBus

	mu          sync.Mutex
	status      Status
	uploadID    string
	chunkSize   int64
	totalChunks int
	received    map[int]struct{}
	saveCounter int

	pause    *pauseLatch
	canceled chan struct{}
	cancelOnce sync.Once
}

// New constructs an Upload against transport for source, with an optional
// event bus (a fresh one is created if events is nil).
func New(transport Transport, source Source, opts Options, events *EventBus) *Upload {
	if events == nil {
		events = NewEventBus()
	}
	return &Upload{
		transport: transport,
		source:    source,
		opts:      opts.normalize(),
		events:    events,
		status:    StatusIdle,
		received:  make(map[int]struct{}),
		pause:     newPauseLatch(),
		canceled:  make(chan struct{}),
	}
}

// Events returns the bus progress/status/error events are published on.
func (u *Upload) Events() *EventBus { return u.events }

func (u *Upload) setStatus(s Status) {
	u.mu.Lock()
	u.status = s
	id := u.uploadID
	u.mu.Unlock()
	u.events.publishStatus(StatusEvent{UploadID: id, Status: s})
}

// Status returns the current state.
func (u *Upload) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *Upload) isCanceled() bool {
	select {
	case <-u.canceled:
		return true
	default:
		return false
	}
}

// Cancel cooperatively stops the pump: in-flight chunk attempts return at
// their next checkpoint, the pause latch is released so a paused pump
// cannot deadlock forever, and the server session and resume record are
// cleared. Safe to call more than once.
func (u *Upload) Cancel(ctx context.Context) error {
	u.cancelOnce.Do(func() { close(u.canceled) })
	u.pause.Resume()

	u.mu.Lock()
	id := u.uploadID
	u.mu.Unlock()

	if id != "" {
		if err := u.transport.Abort(ctx, id); err != nil {
			return err
		}
		_ = u.opts.ResumeStore.Delete(id)
		if key, ok := u.source.fileKey(); ok {
			_ = u.opts.ResumeStore.DeleteFileIndex(key)
		}
	}
	u.setStatus(StatusCanceled)
	return nil
}

// Pause suspends the pump at its next checkpoint. A no-op once canceled,
// completed, or failed.
func (u *Upload) Pause() {
	u.mu.Lock()
	s := u.status
	u.mu.Unlock()
	if s != StatusUploading {
		return
	}
	u.pause.Pause()
	u.setStatus(StatusPaused)
}

// Resume releases a paused pump.
func (u *Upload) Resume() {
	u.mu.Lock()
	s := u.status
	u.mu.Unlock()
	if s != StatusPaused {
		return
	}
	u.pause.Resume()
	u.setStatus(StatusUploading)
}

// Start runs resume discovery (if a file key and resume store entry exist)
// or a fresh init, then drives the chunk pump to completion. Blocks until
// the upload completes, fails, or is canceled.
func (u *Upload) Start(ctx context.Context) error {
	u.setStatus(StatusInitializing)

	if err := u.discoverOrInit(ctx); err != nil {
		u.fail(u.uploadID, err)
		return err
	}

	u.setStatus(StatusUploading)

	u.mu.Lock()
	pending := ids.MissingChunks(u.received, u.totalChunks)
	u.mu.Unlock()

	if err := u.runPump(ctx, pending); err != nil {
		if u.isCanceled() {
			u.setStatus(StatusCanceled)
			return err
		}
		u.fail(u.uploadID, err)
		return err
	}

	return u.finish(ctx)
}

func (u *Upload) fail(id string, err error) {
	u.setStatus(StatusFailed)
	u.events.publishError(ErrorEvent{UploadID: id, Err: err})
}

// discoverOrInit adopts a saved session if the server still recognizes it
// in a resumable state, otherwise performs a fresh init and records it.
func (u *Upload) discoverOrInit(ctx context.Context) error {
	key, hasKey := u.source.fileKey()
	if hasKey {
		if uploadID, found, err := u.opts.ResumeStore.FindByFile(key); err == nil && found {
			status, err := u.transport.GetStatus(ctx, uploadID)
			if err == nil && (status.Status == string(statusPending) || status.Status == string(statusInProgress)) {
				u.adopt(status)
				return nil
			}
			// Stale: either the server no longer knows this id, or it
			// settled into a terminal state. Evict and fall through to init.
			_ = u.opts.ResumeStore.Delete(uploadID)
			_ = u.opts.ResumeStore.DeleteFileIndex(key)
		}
	}

	resp, err := u.transport.Init(ctx, u.source.Name, u.source.Size, u.source.MimeType, u.source.Metadata, u.opts.ChunkSize)
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.uploadID = resp.UploadID
	u.chunkSize = resp.ChunkSize
	u.totalChunks = resp.TotalChunks
	u.received = make(map[int]struct{})
	u.mu.Unlock()

	if hasKey {
		_ = u.opts.ResumeStore.SetFileIndex(key, resp.UploadID)
	}
	u.persist()
	return nil
}

// statusPending/statusInProgress mirror the server-side session states
// this client cares about for resume eligibility; terminal states
// (completed, canceled) are never resumed.
const (
	statusPending    Status = "pending"
	statusInProgress Status = "in_progress"
)

func (u *Upload) adopt(status StatusResponse) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploadID = status.UploadID
	u.chunkSize = status.ChunkSize
	u.totalChunks = status.TotalChunks
	u.received = make(map[int]struct{})
	for _, idx := range status.ReceivedChunks {
		u.received[idx] = struct{}{}
	}
}

// runPump drives pending chunk indices through a bounded-size ants pool.
// Once any chunk ultimately fails, no further chunks are submitted, but
// every chunk already in flight is allowed to settle before returning.
func (u *Upload) runPump(ctx context.Context, pending []int) error {
	if len(pending) == 0 {
		return nil
	}

	pool, err := ants.NewPool(u.opts.MaxConcurrency)
	if err != nil {
		return uploaderrors.Wrap(uploaderrors.InternalError, "failed to start chunk pool", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, idx := range pending {
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop || u.isCanceled() {
			break
		}

		index := idx
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := u.uploadChunkWithRetry(ctx, index); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
			break
		}
	}

	wg.Wait()
	return firstErr
}

func (u *Upload) uploadChunkWithRetry(ctx context.Context, index int) error {
	var lastErr error
	for attempt := 1; attempt <= u.opts.RetryAttempts; attempt++ {
		if err := u.pause.Wait(ctx); err != nil { // checkpoint: before reading the body slice
			return err
		}
		if u.isCanceled() {
			return uploaderrors.New(uploaderrors.UploadCanceled, "upload canceled")
		}

		lastErr = u.uploadOneChunk(ctx, index)
		if lastErr == nil {
			u.onChunkSuccess(index)
			return nil
		}
		if attempt == u.opts.RetryAttempts {
			return lastErr
		}

		delay := u.opts.RetryBaseDelay * time.Duration(1<<(attempt-1))
		if err := u.pause.Wait(ctx); err != nil { // checkpoint: before the retry sleep
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-u.canceled:
			return uploaderrors.New(uploaderrors.UploadCanceled, "upload canceled")
		}
	}
	return lastErr
}

func (u *Upload) uploadOneChunk(ctx context.Context, index int) error {
	u.mu.Lock()
	uploadID := u.uploadID
	chunkSize := u.chunkSize
	totalChunks := u.totalChunks
	fileSize := u.source.Size
	u.mu.Unlock()

	size := ids.ExpectedChunkSize(index, totalChunks, fileSize, chunkSize)
	section := io.NewSectionReader(u.source.ReaderAt, int64(index)*chunkSize, size)
	return u.transport.PutChunk(ctx, uploadID, index, section, size, "")
}

func (u *Upload) onChunkSuccess(index int) {
	u.mu.Lock()
	u.received[index] = struct{}{}
	chunksCompleted := len(u.received)
	totalChunks := u.totalChunks
	fileSize := u.source.Size
	chunkSize := u.chunkSize
	uploadID := u.uploadID
	bytesUploaded := ids.BytesUploaded(u.received, totalChunks, fileSize, chunkSize)
	u.saveCounter++
	shouldSave := u.saveCounter%saveEveryNChunks == 0 || chunksCompleted == totalChunks
	u.mu.Unlock()

	u.events.publishProgress(ProgressEvent{
		BytesUploaded:   bytesUploaded,
		TotalBytes:      fileSize,
		Percentage:      ids.ProgressPercentage(bytesUploaded, fileSize),
		ChunkIndex:      index,
		ChunksCompleted: chunksCompleted,
		TotalChunks:     totalChunks,
	})

	if shouldSave {
		u.persistFor(uploadID)
	}
}

func (u *Upload) persist() {
	u.mu.Lock()
	id := u.uploadID
	u.mu.Unlock()
	u.persistFor(id)
}

func (u *Upload) persistFor(uploadID string) {
	u.mu.Lock()
	state := UploadState{
		UploadID:       uploadID,
		FileName:       u.source.Name,
		FileSize:       u.source.Size,
		ChunkSize:      u.chunkSize,
		TotalChunks:    u.totalChunks,
		ReceivedChunks: ids.SortedIndices(u.received),
		Metadata:       u.source.Metadata,
	}
	u.mu.Unlock()
	_ = u.opts.ResumeStore.Save(state)
}

func (u *Upload) finish(ctx context.Context) error {
	u.setStatus(StatusCompleting)

	u.mu.Lock()
	uploadID := u.uploadID
	u.mu.Unlock()

	u.persistFor(uploadID)

	if _, err := u.transport.Complete(ctx, uploadID, ""); err != nil {
		u.fail(uploadID, err)
		return err
	}

	_ = u.opts.ResumeStore.Delete(uploadID)
	if key, ok := u.source.fileKey(); ok {
		_ = u.opts.ResumeStore.DeleteFileIndex(key)
	}

	u.setStatus(StatusCompleted)
	return nil
}
