package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/torrin-io/torrin/internal/uploaderrors"
)

// InitResponse is the server's reply to POST /.
type InitResponse struct {
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`
	Status      string `json:"status"`
}

// StatusResponse is the server's reply to GET /:uploadId/status.
type StatusResponse struct {
	UploadID       string `json:"uploadId"`
	Status         string `json:"status"`
	FileName       string `json:"fileName"`
	FileSize       int64  `json:"fileSize"`
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	ReceivedChunks []int  `json:"receivedChunks"`
	MissingChunks  []int  `json:"missingChunks"`
}

// CompleteResponse is the server's reply to POST /:uploadId/complete.
type CompleteResponse struct {
	UploadID string                 `json:"uploadId"`
	Status   string                 `json:"status"`
	Location map[string]interface{} `json:"location"`
}

// Transport is the HTTP wire-protocol surface an Upload drives (spec §6).
// Bound to a fixed base URL at construction.
type Transport interface {
	Init(ctx context.Context, fileName string, fileSize int64, mimeType string, metadata map[string]string, desiredChunkSize int64) (InitResponse, error)
	PutChunk(ctx context.Context, uploadID string, index int, r io.Reader, size int64, hash string) error
	GetStatus(ctx context.Context, uploadID string) (StatusResponse, error)
	Complete(ctx context.Context, uploadID, hash string) (CompleteResponse, error)
	Abort(ctx context.Context, uploadID string) error
}

// HTTPTransport is the net/http Transport implementation.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTransport constructs a Transport against baseURL (e.g.
// "https://example.com/torrin/uploads"), using http.DefaultClient if
// client is nil.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{BaseURL: baseURL, Client: client}
}

type initRequestBody struct {
	FileName         string            `json:"fileName,omitempty"`
	FileSize         int64             `json:"fileSize"`
	MimeType         string            `json:"mimeType,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DesiredChunkSize int64             `json:"desiredChunkSize,omitempty"`
}

func (t *HTTPTransport) Init(ctx context.Context, fileName string, fileSize int64, mimeType string, metadata map[string]string, desiredChunkSize int64) (InitResponse, error) {
	body, err := json.Marshal(initRequestBody{
		FileName: fileName, FileSize: fileSize, MimeType: mimeType,
		Metadata: metadata, DesiredChunkSize: desiredChunkSize,
	})
	if err != nil {
		return InitResponse{}, uploaderrors.Wrap(uploaderrors.InvalidRequest, "failed to encode init request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL, bytes.NewReader(body))
	if err != nil {
		return InitResponse{}, networkErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return InitResponse{}, networkErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return InitResponse{}, parseErrorBody(resp)
	}
	var out InitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return InitResponse{}, networkErr(err)
	}
	return out, nil
}

func (t *HTTPTransport) PutChunk(ctx context.Context, uploadID string, index int, r io.Reader, size int64, hash string) error {
	url := fmt.Sprintf("%s/%s/chunks/%d", t.BaseURL, uploadID, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return networkErr(err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	if hash != "" {
		req.Header.Set("x-torrin-chunk-hash", hash)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return networkErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorBody(resp)
	}
	return nil
}

func (t *HTTPTransport) GetStatus(ctx context.Context, uploadID string) (StatusResponse, error) {
	url := fmt.Sprintf("%s/%s/status", t.BaseURL, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusResponse{}, networkErr(err)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return StatusResponse{}, networkErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResponse{}, parseErrorBody(resp)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StatusResponse{}, networkErr(err)
	}
	return out, nil
}

func (t *HTTPTransport) Complete(ctx context.Context, uploadID, hash string) (CompleteResponse, error) {
	url := fmt.Sprintf("%s/%s/complete", t.BaseURL, uploadID)
	body, _ := json.Marshal(map[string]string{"hash": hash})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return CompleteResponse{}, networkErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return CompleteResponse{}, networkErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CompleteResponse{}, parseErrorBody(resp)
	}
	var out CompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CompleteResponse{}, networkErr(err)
	}
	return out, nil
}

func (t *HTTPTransport) Abort(ctx context.Context, uploadID string) error {
	url := fmt.Sprintf("%s/%s", t.BaseURL, uploadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return networkErr(err)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return networkErr(err)
	}
	defer resp.Body.Close()

	// 404 is silently tolerated: the session is already gone server-side.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return parseErrorBody(resp)
}

func networkErr(err error) error {
	return uploaderrors.Wrap(uploaderrors.NetworkError, "transport failure", err)
}

// parseErrorBody maps a non-2xx response back to the taxonomy in spec §7.
// An unparseable body becomes NETWORK_ERROR carrying the transport message,
// per the client-side propagation policy.
func parseErrorBody(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Code == "" {
		return uploaderrors.New(uploaderrors.NetworkError, fmt.Sprintf("unparseable error response (HTTP %d)", resp.StatusCode))
	}
	return (&uploaderrors.Error{
		Code:    uploaderrors.Code(body.Error.Code),
		Message: body.Error.Message,
		Details: body.Error.Details,
	})
}
