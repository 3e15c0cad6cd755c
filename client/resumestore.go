// Package client implements the Torrin client-side Upload state machine:
// resume discovery, a bounded-concurrency chunk pump, pause/resume/cancel,
// retry with exponential backoff, and resume-store persistence.
package client

import (
	"encoding/json"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// UploadState is the persisted client-side record of one upload's
// progress, keyed by uploadId in the resume store.
type UploadState struct {
	UploadID       string            `json:"uploadId"`
	FileName       string            `json:"fileName,omitempty"`
	FileSize       int64             `json:"fileSize"`
	ChunkSize      int64             `json:"chunkSize"`
	TotalChunks    int               `json:"totalChunks"`
	ReceivedChunks []int             `json:"receivedChunks"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ResumeStore persists UploadState under uploadId and maintains a
// fileKey -> uploadId index enabling resume-by-file-selection.
type ResumeStore interface {
	Save(state UploadState) error
	Load(uploadID string) (*UploadState, bool, error)
	Delete(uploadID string) error

	SetFileIndex(fileKey, uploadID string) error
	FindByFile(fileKey string) (string, bool, error)
	DeleteFileIndex(fileKey string) error
}

// MemoryResumeStore is an in-process ResumeStore, primarily for tests and
// non-durable embeddings.
type MemoryResumeStore struct {
	mu         sync.Mutex
	states     map[string]UploadState
	fileIndex  map[string]string
}

// NewMemoryResumeStore constructs an empty in-memory resume store.
func NewMemoryResumeStore() *MemoryResumeStore {
	return &MemoryResumeStore{
		states:    make(map[string]UploadState),
		fileIndex: make(map[string]string),
	}
}

func (s *MemoryResumeStore) Save(state UploadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UploadID] = state
	return nil
}

func (s *MemoryResumeStore) Load(uploadID string) (*UploadState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[uploadID]
	if !ok {
		return nil, false, nil
	}
	return &state, true, nil
}

func (s *MemoryResumeStore) Delete(uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, uploadID)
	return nil
}

func (s *MemoryResumeStore) SetFileIndex(fileKey, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileIndex[fileKey] = uploadID
	return nil
}

func (s *MemoryResumeStore) FindByFile(fileKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.fileIndex[fileKey]
	return id, ok, nil
}

func (s *MemoryResumeStore) DeleteFileIndex(fileKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fileIndex, fileKey)
	return nil
}

var (
	uploadsBucket   = []byte("uploads")
	fileIndexBucket = []byte("file_index")
)

// BoltResumeStore is a bbolt-backed ResumeStore, grounded on the upload
// queue persistence pattern of a bucket keyed by id holding JSON-marshaled
// state, surviving process restart unlike MemoryResumeStore.
type BoltResumeStore struct {
	db *bolt.DB
}

// OpenBoltResumeStore opens (creating if absent) a bbolt database at path
// and ensures both buckets exist.
func OpenBoltResumeStore(path string) (*BoltResumeStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(uploadsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(fileIndexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltResumeStore{db: db}, nil
}

// Close releases the underlying bbolt database handle.
func (s *BoltResumeStore) Close() error {
	return s.db.Close()
}

func (s *BoltResumeStore) Save(state UploadState) error {
	contents, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(uploadsBucket).Put([]byte(state.UploadID), contents)
	})
}

func (s *BoltResumeStore) Load(uploadID string) (*UploadState, bool, error) {
	var state UploadState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(uploadsBucket).Get([]byte(uploadID))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &state)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &state, true, nil
}

func (s *BoltResumeStore) Delete(uploadID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(uploadsBucket).Delete([]byte(uploadID))
	})
}

func (s *BoltResumeStore) SetFileIndex(fileKey, uploadID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fileIndexBucket).Put([]byte(fileKey), []byte(uploadID))
	})
}

func (s *BoltResumeStore) FindByFile(fileKey string) (string, bool, error) {
	var uploadID string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(fileIndexBucket).Get([]byte(fileKey))
		if val == nil {
			return nil
		}
		found = true
		uploadID = string(val)
		return nil
	})
	return uploadID, found, err
}

func (s *BoltResumeStore) DeleteFileIndex(fileKey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(fileIndexBucket).Delete([]byte(fileKey))
	})
}

var (
	_ ResumeStore = (*MemoryResumeStore)(nil)
	_ ResumeStore = (*BoltResumeStore)(nil)
)
