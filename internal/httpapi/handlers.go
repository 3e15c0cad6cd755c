package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/torrin-io/torrin/internal/model"
	"github.com/torrin-io/torrin/internal/service"
	"github.com/torrin-io/torrin/internal/uploaderrors"
)

type handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError renders err as the {error:{code,message,details}} envelope
// of spec §7, deriving the HTTP status from the taxonomy code. Untyped
// errors are logged and surfaced as INTERNAL_ERROR, never leaking their
// raw message to the client.
func (h *handler) respondError(w http.ResponseWriter, err error) {
	e, ok := uploaderrors.As(err)
	if !ok {
		h.logger.Error("unexpected internal error", zap.Error(err))
		e = uploaderrors.Wrap(uploaderrors.InternalError, "internal error", err)
	}
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}
	if e.Details != nil {
		body["error"].(map[string]interface{})["details"] = e.Details
	}
	respondJSON(w, e.HTTPStatus(), body)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initRequest struct {
	FileName         string            `json:"fileName"`
	FileSize         int64             `json:"fileSize"`
	MimeType         string            `json:"mimeType"`
	Metadata         map[string]string `json:"metadata"`
	DesiredChunkSize int64             `json:"desiredChunkSize"`
}

func (h *handler) handleInit(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, uploaderrors.Wrap(uploaderrors.InvalidRequest, "malformed request body", err))
		return
	}

	session, err := h.svc.InitUpload(r.Context(), model.InitInput{
		FileName:         req.FileName,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
		Metadata:         req.Metadata,
		DesiredChunkSize: req.DesiredChunkSize,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"uploadId":    session.UploadID,
		"chunkSize":   session.ChunkSize,
		"totalChunks": session.TotalChunks,
		"status":      session.Status,
	})
}

func (h *handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uploadID := vars["uploadId"]
	index, err := strconv.Atoi(vars["index"])
	if err != nil || index < 0 {
		h.respondError(w, uploaderrors.New(uploaderrors.InvalidRequest, "index must be a non-negative integer"))
		return
	}

	if r.ContentLength <= 0 {
		h.respondError(w, uploaderrors.New(uploaderrors.InvalidRequest, "Content-Length header is required and must be > 0"))
		return
	}

	hash := r.Header.Get("x-torrin-chunk-hash")
	if err := h.svc.HandleChunk(r.Context(), uploadID, index, r.ContentLength, hash, r.Body); err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uploadId":      uploadID,
		"receivedIndex": index,
		"status":        model.StatusInProgress,
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["uploadId"]
	status, err := h.svc.GetStatus(r.Context(), uploadID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type completeRequest struct {
	Hash string `json:"hash"`
}

func (h *handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["uploadId"]

	var req completeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, uploaderrors.Wrap(uploaderrors.InvalidRequest, "malformed request body", err))
			return
		}
	}

	result, err := h.svc.CompleteUpload(r.Context(), uploadID, req.Hash)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["uploadId"]
	if err := h.svc.AbortUpload(r.Context(), uploadID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList implements the supplemented GET /torrin/uploads listing
// endpoint, returning 501 when the store can't enumerate all sessions.
func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.svc.ListUploads(r.Context())
	if err != nil {
		e, ok := uploaderrors.As(err)
		if ok && e.Code == uploaderrors.InternalError {
			respondJSON(w, http.StatusNotImplemented, map[string]interface{}{
				"error": map[string]interface{}{"code": "NOT_IMPLEMENTED", "message": "store does not support listing uploads"},
			})
			return
		}
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"uploads": uploads})
}
