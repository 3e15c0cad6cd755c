package uploaderrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		UploadNotFound:         http.StatusNotFound,
		UploadAlreadyCompleted: http.StatusConflict,
		ChunkSizeMismatch:      http.StatusBadRequest,
		StorageError:           http.StatusInternalServerError,
		NetworkError:           http.StatusServiceUnavailable,
	}
	for code, status := range cases {
		e := New(code, "boom")
		require.Equal(t, status, e.HTTPStatus())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := Wrap(StorageError, "driver failed", cause)
	require.ErrorIs(t, e, cause)
}

func TestCodeOfUntyped(t *testing.T) {
	require.Equal(t, InternalError, CodeOf(errors.New("plain")))
	require.Equal(t, ChunkOutOfRange, CodeOf(New(ChunkOutOfRange, "oops")))
}

func TestWithDetails(t *testing.T) {
	e := New(MissingChunks, "gap").WithDetails(map[string]interface{}{"missingChunks": []int{1, 2}})
	require.Equal(t, []int{1, 2}, e.Details["missingChunks"])
}
