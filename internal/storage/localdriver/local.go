// Package localdriver implements the StorageDriver contract over the local
// filesystem: chunks are staged as numbered files under a per-upload temp
// directory, then concatenated into the final artifact at finalize time.
package localdriver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/torrin-io/torrin/internal/ids"
	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// Driver stages chunks under TempDir/<uploadId>/ and assembles the final
// artifact under BaseDir.
type Driver struct {
	TempDir string
	BaseDir string

	// PreserveFileName places the final artifact at
	// <BaseDir>/<uploadId>/<fileName> instead of <BaseDir>/<uploadId><ext>.
	PreserveFileName bool

	// GetObjectKey, when set, overrides the default final-path computation.
	GetObjectKey func(session *model.Session) string
}

const copyBufferSize = 256 * 1024

// New constructs a local driver rooted at tempDir/baseDir.
func New(tempDir, baseDir string) *Driver {
	return &Driver{TempDir: tempDir, BaseDir: baseDir}
}

func (d *Driver) sessionTempDir(uploadID string) string {
	return filepath.Join(d.TempDir, uploadID)
}

func (d *Driver) chunkPath(uploadID string, index int) string {
	return filepath.Join(d.sessionTempDir(uploadID), ids.ChunkTempFileName(index))
}

// InitUpload creates the per-upload staging directory.
func (d *Driver) InitUpload(ctx context.Context, session *model.Session) error {
	if err := os.MkdirAll(d.sessionTempDir(session.UploadID), 0o755); err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to create staging directory", err)
	}
	return nil
}

// WriteChunk streams r directly to disk (no full buffering) and verifies
// the resulting file length matches expected, deleting a partial write on
// mismatch. Writing the same index twice overwrites the prior file
// (last-writer-wins).
func (d *Driver) WriteChunk(ctx context.Context, session *model.Session, index int, r io.Reader, expected int64, hash string) error {
	path := d.chunkPath(session.UploadID, index)
	f, err := os.Create(path)
	if err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to create chunk file", err)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Reset()
	buf.B = buf.B[:cap(buf.B)]
	if len(buf.B) < copyBufferSize {
		buf.B = make([]byte, copyBufferSize)
	}

	_, copyErr := io.CopyBuffer(f, r, buf.B)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(path)
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to write chunk", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to close chunk file", closeErr)
	}

	info, err := os.Stat(path)
	if err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to stat chunk file", err)
	}
	if info.Size() != expected {
		os.Remove(path)
		return uploaderrors.New(uploaderrors.ChunkSizeMismatch, "chunk size mismatch on disk").
			WithDetails(map[string]interface{}{"expected": expected, "actual": info.Size()})
	}
	return nil
}

func (d *Driver) finalPath(session *model.Session) string {
	if d.GetObjectKey != nil {
		if key := d.GetObjectKey(session); key != "" {
			return filepath.Join(d.BaseDir, key)
		}
	}
	if d.PreserveFileName && session.FileName != "" {
		return filepath.Join(d.BaseDir, session.UploadID, session.FileName)
	}
	return filepath.Join(d.BaseDir, session.UploadID+filepath.Ext(session.FileName))
}

// FinalizeUpload sorts the staged chunk files lexicographically (the
// zero-padded index guarantees this equals numeric order), concatenates
// them into the final path using a single write stream kept open across
// chunk reads, then removes the temp directory.
func (d *Driver) FinalizeUpload(ctx context.Context, session *model.Session) (model.StorageLocation, error) {
	tempDir := d.sessionTempDir(session.UploadID)
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return model.StorageLocation{}, uploaderrors.Wrap(uploaderrors.StorageError, "failed to read staging directory", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "chunk_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	finalPath := d.finalPath(session)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return model.StorageLocation{}, uploaderrors.Wrap(uploaderrors.StorageError, "failed to create destination directory", err)
	}

	out, err := os.Create(finalPath)
	if err != nil {
		return model.StorageLocation{}, uploaderrors.Wrap(uploaderrors.StorageError, "failed to create final artifact", err)
	}
	defer out.Close()

	for _, name := range names {
		if err := appendChunk(out, filepath.Join(tempDir, name)); err != nil {
			return model.StorageLocation{}, uploaderrors.Wrap(uploaderrors.StorageError, fmt.Sprintf("failed to append %s", name), err)
		}
	}

	if err := os.RemoveAll(tempDir); err != nil {
		return model.StorageLocation{}, uploaderrors.Wrap(uploaderrors.StorageError, "failed to clean up staging directory", err)
	}

	return model.StorageLocation{Type: "local", Path: finalPath}, nil
}

func appendChunk(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// ComputeHash implements storage.FileHasher: it hashes the finalized
// artifact on disk with SHA-256, hex-encoded.
func (d *Driver) ComputeHash(ctx context.Context, session *model.Session, location model.StorageLocation) (string, error) {
	f, err := os.Open(location.Path)
	if err != nil {
		return "", uploaderrors.Wrap(uploaderrors.StorageError, "failed to open artifact for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", uploaderrors.Wrap(uploaderrors.StorageError, "failed to hash artifact", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AbortUpload recursive-removes the temp directory; a missing directory is
// success.
func (d *Driver) AbortUpload(ctx context.Context, session *model.Session) error {
	if err := os.RemoveAll(d.sessionTempDir(session.UploadID)); err != nil {
		return uploaderrors.Wrap(uploaderrors.StorageError, "failed to remove staging directory", err)
	}
	return nil
}
