package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torrin-io/torrin/internal/uploaderrors"
)

func TestHTTPTransportInitPostsJSONAndParsesResponse(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(InitResponse{UploadID: "u_1", ChunkSize: 10, TotalChunks: 3, Status: "pending"})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	resp, err := transport.Init(context.Background(), "a.bin", 25, "video/mp4", map[string]string{"k": "v"}, 10)
	require.NoError(t, err)
	require.Equal(t, "u_1", resp.UploadID)
	require.Equal(t, int64(10), resp.ChunkSize)
	require.Equal(t, float64(25), gotBody["fileSize"])
}

func TestHTTPTransportPutChunkSetsHeadersAndBody(t *testing.T) {
	var gotHash string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/u_1/chunks/2", r.URL.Path)
		gotHash = r.Header.Get("x-torrin-chunk-hash")
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	err := transport.PutChunk(context.Background(), "u_1", 2, bytes.NewReader([]byte("hello")), 5, "abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", gotHash)
	require.Equal(t, []byte("hello"), gotBody)
}

func TestHTTPTransportGetStatusParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/u_1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(StatusResponse{UploadID: "u_1", Status: "in_progress", TotalChunks: 3, ReceivedChunks: []int{0, 1}})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	status, err := transport.GetStatus(context.Background(), "u_1")
	require.NoError(t, err)
	require.Equal(t, "in_progress", status.Status)
	require.Equal(t, []int{0, 1}, status.ReceivedChunks)
}

func TestHTTPTransportCompleteAndAbort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/u_1/complete", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CompleteResponse{UploadID: "u_1", Status: "completed"})
	})
	mux.HandleFunc("/u_1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	completion, err := transport.Complete(context.Background(), "u_1", "")
	require.NoError(t, err)
	require.Equal(t, "completed", completion.Status)

	require.NoError(t, transport.Abort(context.Background(), "u_1"))
}

func TestHTTPTransportAbortTolerates404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	require.NoError(t, transport.Abort(context.Background(), "u_gone"))
}

func TestHTTPTransportMapsTypedErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": "UPLOAD_ALREADY_COMPLETED", "message": "already done"},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	_, err := transport.GetStatus(context.Background(), "u_1")
	require.Error(t, err)
	typed, ok := uploaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, uploaderrors.UploadAlreadyCompleted, typed.Code)
}

func TestHTTPTransportUnparseableErrorBodyBecomesNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, nil)
	_, err := transport.GetStatus(context.Background(), "u_1")
	require.Error(t, err)
	typed, ok := uploaderrors.As(err)
	require.True(t, ok)
	require.Equal(t, uploaderrors.NetworkError, typed.Code)
}
