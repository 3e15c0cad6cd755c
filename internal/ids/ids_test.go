package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewUploadIDFormat(t *testing.T) {
	id := NewUploadID()
	require.True(t, IsValidUploadID(id))
	require.Greater(t, len(id), 2)
}

func TestIsValidUploadID(t *testing.T) {
	require.True(t, IsValidUploadID("u_abc"))
	require.False(t, IsValidUploadID("u_"))
	require.False(t, IsValidUploadID(""))
	require.False(t, IsValidUploadID("abc"))
}

func TestNormalizeChunkSize(t *testing.T) {
	require.Equal(t, int64(DefaultChunkSize), NormalizeChunkSize(0, 10*DefaultChunkSize))
	require.Equal(t, int64(MinChunkSize), NormalizeChunkSize(1, 10*MinChunkSize))
	require.Equal(t, int64(MaxChunkSize), NormalizeChunkSize(MaxChunkSize*2, MaxChunkSize*10))
	// capped to fileSize even when within [MIN, MAX]
	require.Equal(t, int64(500*1024), NormalizeChunkSize(MinChunkSize, 500*1024))
}

func TestTotalChunksAndExpectedSize(t *testing.T) {
	fileSize := int64(2_500_000)
	chunkSize := int64(1_000_000)
	total := TotalChunks(fileSize, chunkSize)
	require.Equal(t, 3, total)

	var sum int64
	expectedSizes := []int64{1_000_000, 1_000_000, 500_000}
	for i := 0; i < total; i++ {
		got := ExpectedChunkSize(i, total, fileSize, chunkSize)
		require.Equal(t, expectedSizes[i], got)
		sum += got
	}
	require.Equal(t, fileSize, sum)
}

func TestExpectedChunkSizeEvenlyDivisible(t *testing.T) {
	fileSize := int64(3_000_000)
	chunkSize := int64(1_000_000)
	total := TotalChunks(fileSize, chunkSize)
	require.Equal(t, 3, total)
	for i := 0; i < total; i++ {
		require.Equal(t, chunkSize, ExpectedChunkSize(i, total, fileSize, chunkSize))
	}
}

func TestMissingChunks(t *testing.T) {
	received := map[int]struct{}{0: {}, 2: {}}
	missing := MissingChunks(received, 5)
	require.Equal(t, []int{1, 3, 4}, missing)
}

func TestBytesUploaded(t *testing.T) {
	fileSize := int64(2_500_000)
	chunkSize := int64(1_000_000)
	total := TotalChunks(fileSize, chunkSize)
	received := map[int]struct{}{0: {}, 1: {}}
	require.Equal(t, int64(2_000_000), BytesUploaded(received, total, fileSize, chunkSize))

	all := map[int]struct{}{0: {}, 1: {}, 2: {}}
	require.Equal(t, fileSize, BytesUploaded(all, total, fileSize, chunkSize))
}

func TestProgressPercentage(t *testing.T) {
	require.Equal(t, 0, ProgressPercentage(0, 100))
	require.Equal(t, 50, ProgressPercentage(50, 100))
	require.Equal(t, 100, ProgressPercentage(100, 100))
	require.Equal(t, 100, ProgressPercentage(150, 100))
	require.Equal(t, 0, ProgressPercentage(0, 0))
}

func TestChunkTempFileName(t *testing.T) {
	require.Equal(t, "chunk_000000", ChunkTempFileName(0))
	require.Equal(t, "chunk_000042", ChunkTempFileName(42))
}

func TestFileKeyStable(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := FileKey("foo.bin", 100, ts)
	b := FileKey("foo.bin", 100, ts)
	require.Equal(t, a, b)
}
