// Package ids implements the pure identifier and chunk-arithmetic
// invariants of the upload protocol: upload-id generation, chunk-size
// normalization, total-chunk arithmetic, expected-size-per-chunk, and
// missing-chunk computation. Nothing here performs I/O.
package ids

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// MinChunkSize is the smallest chunk size a session may be created with.
	MinChunkSize = 256 * 1024
	// MaxChunkSize is the largest chunk size a session may be created with.
	MaxChunkSize = 100 * 1024 * 1024
	// DefaultChunkSize is used when no desired chunk size is supplied.
	DefaultChunkSize = 1024 * 1024

	uploadIDPrefix = "u_"

	base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewUploadID generates an opaque upload identifier: "u_", the current
// Unix time in milliseconds in base36, then 8 random base36 characters.
func NewUploadID() string {
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = base36Digits[rand.IntN(len(base36Digits))]
	}
	return uploadIDPrefix + strconv.FormatInt(time.Now().UnixMilli(), 36) + string(suffix)
}

// IsValidUploadID reports whether id could plausibly be an upload id: the
// validator accepts any string that starts with "u_" and has length > 2.
func IsValidUploadID(id string) bool {
	return strings.HasPrefix(id, uploadIDPrefix) && len(id) > 2
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeChunkSize clamps desired (or DefaultChunkSize if desired is zero)
// to [MinChunkSize, MaxChunkSize] and then caps it to fileSize.
func NormalizeChunkSize(desired, fileSize int64) int64 {
	if desired <= 0 {
		desired = DefaultChunkSize
	}
	normalized := clamp(desired, MinChunkSize, MaxChunkSize)
	if normalized > fileSize {
		normalized = fileSize
	}
	return normalized
}

// TotalChunks returns ceil(fileSize / chunkSize).
func TotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	n := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		n++
	}
	return int(n)
}

// ExpectedChunkSize returns the expected byte length of chunk index, given
// totalChunks, fileSize and chunkSize. The last chunk absorbs the remainder.
func ExpectedChunkSize(index, totalChunks int, fileSize, chunkSize int64) int64 {
	if index == totalChunks-1 {
		remainder := fileSize - int64(totalChunks-1)*chunkSize
		if remainder <= 0 {
			return chunkSize
		}
		return remainder
	}
	return chunkSize
}

// BytesUploaded sums ExpectedChunkSize over every index in received.
func BytesUploaded(received map[int]struct{}, totalChunks int, fileSize, chunkSize int64) int64 {
	var sum int64
	for idx := range received {
		sum += ExpectedChunkSize(idx, totalChunks, fileSize, chunkSize)
	}
	return sum
}

// MissingChunks returns the sorted complement of received over [0, totalChunks).
func MissingChunks(received map[int]struct{}, totalChunks int) []int {
	missing := make([]int, 0, totalChunks-len(received))
	for i := 0; i < totalChunks; i++ {
		if _, ok := received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// SortedIndices returns the sorted contents of a chunk-index set.
func SortedIndices(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for idx := range set {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// ProgressPercentage returns min(100, round(uploaded/total*100)).
func ProgressPercentage(uploaded, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := float64(uploaded) / float64(total) * 100
	rounded := int(pct + 0.5)
	if rounded > 100 {
		return 100
	}
	if rounded < 0 {
		return 0
	}
	return rounded
}

// ChunkTempFileName returns the local-driver on-disk name for a chunk index:
// chunk_<6-digit zero-padded index>.
func ChunkTempFileName(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}

// FileKey builds the stable client-side fingerprint name-size-lastModified.
func FileKey(name string, size int64, lastModified time.Time) string {
	return fmt.Sprintf("%s-%d-%d", name, size, lastModified.UnixNano())
}
