package localdriver

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

func newTestSession(t *testing.T, fileName string, fileSize, chunkSize int64, totalChunks int) *model.Session {
	t.Helper()
	return &model.Session{
		UploadID:    "u_test123",
		FileName:    fileName,
		FileSize:    fileSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Status:      model.StatusPending,
	}
}

func TestLocalDriverHappyPath(t *testing.T) {
	tmp := t.TempDir()
	d := New(filepath.Join(tmp, "staging"), filepath.Join(tmp, "final"))
	session := newTestSession(t, "movie.mp4", 2_500_000, 1_000_000, 3)

	require.NoError(t, d.InitUpload(nil, session))

	chunks := [][]byte{
		bytes.Repeat([]byte{'a'}, 1_000_000),
		bytes.Repeat([]byte{'b'}, 1_000_000),
		bytes.Repeat([]byte{'c'}, 500_000),
	}
	for i, c := range chunks {
		require.NoError(t, d.WriteChunk(nil, session, i, bytes.NewReader(c), int64(len(c)), ""))
	}

	loc, err := d.FinalizeUpload(nil, session)
	require.NoError(t, err)
	require.Equal(t, "local", loc.Type)

	contents, err := os.ReadFile(loc.Path)
	require.NoError(t, err)
	require.Len(t, contents, 2_500_000)
	require.True(t, bytes.Equal(contents[:1_000_000], chunks[0]))
	require.True(t, bytes.Equal(contents[1_000_000:2_000_000], chunks[1]))
	require.True(t, bytes.Equal(contents[2_000_000:], chunks[2]))

	_, err = os.Stat(filepath.Join(tmp, "staging", session.UploadID))
	require.True(t, os.IsNotExist(err))
}

func TestLocalDriverOutOfOrderChunks(t *testing.T) {
	tmp := t.TempDir()
	d := New(filepath.Join(tmp, "staging"), filepath.Join(tmp, "final"))
	session := newTestSession(t, "a.bin", 30, 10, 3)
	require.NoError(t, d.InitUpload(nil, session))

	order := []int{2, 0, 1}
	data := map[int][]byte{
		0: bytes.Repeat([]byte{'0'}, 10),
		1: bytes.Repeat([]byte{'1'}, 10),
		2: bytes.Repeat([]byte{'2'}, 10),
	}
	for _, idx := range order {
		require.NoError(t, d.WriteChunk(nil, session, idx, bytes.NewReader(data[idx]), 10, ""))
	}

	loc, err := d.FinalizeUpload(nil, session)
	require.NoError(t, err)
	contents, _ := os.ReadFile(loc.Path)
	require.Equal(t, append(append(data[0], data[1]...), data[2]...), contents)
}

func TestLocalDriverSizeMismatchDeletesPartial(t *testing.T) {
	tmp := t.TempDir()
	d := New(filepath.Join(tmp, "staging"), filepath.Join(tmp, "final"))
	session := newTestSession(t, "a.bin", 20, 10, 2)
	require.NoError(t, d.InitUpload(nil, session))

	err := d.WriteChunk(nil, session, 1, bytes.NewReader(bytes.Repeat([]byte{'x'}, 5)), 10, "")
	require.Error(t, err)
	e, ok := uploaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, uploaderrors.ChunkSizeMismatch, e.Code)

	_, statErr := os.Stat(filepath.Join(tmp, "staging", session.UploadID, "chunk_000001"))
	require.True(t, os.IsNotExist(statErr))
}

func TestLocalDriverOverwriteIsIdempotent(t *testing.T) {
	tmp := t.TempDir()
	d := New(filepath.Join(tmp, "staging"), filepath.Join(tmp, "final"))
	session := newTestSession(t, "a.bin", 10, 10, 1)
	require.NoError(t, d.InitUpload(nil, session))

	first := bytes.Repeat([]byte{'a'}, 10)
	second := bytes.Repeat([]byte{'b'}, 10)
	require.NoError(t, d.WriteChunk(nil, session, 0, bytes.NewReader(first), 10, ""))
	require.NoError(t, d.WriteChunk(nil, session, 0, bytes.NewReader(second), 10, ""))

	loc, err := d.FinalizeUpload(nil, session)
	require.NoError(t, err)
	contents, _ := os.ReadFile(loc.Path)
	require.Equal(t, second, contents)
}

func TestLocalDriverPreserveFileName(t *testing.T) {
	tmp := t.TempDir()
	d := New(filepath.Join(tmp, "staging"), filepath.Join(tmp, "final"))
	d.PreserveFileName = true
	session := newTestSession(t, "report.pdf", 3, 3, 1)
	require.NoError(t, d.InitUpload(nil, session))
	require.NoError(t, d.WriteChunk(nil, session, 0, bytes.NewReader([]byte("abc")), 3, ""))

	loc, err := d.FinalizeUpload(nil, session)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, "final", session.UploadID, "report.pdf"), loc.Path)
}

func TestLocalDriverAbortMissingDirIsSuccess(t *testing.T) {
	tmp := t.TempDir()
	d := New(filepath.Join(tmp, "staging"), filepath.Join(tmp, "final"))
	session := newTestSession(t, "a.bin", 10, 10, 1)
	require.NoError(t, d.AbortUpload(nil, session))
}
