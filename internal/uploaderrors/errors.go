// Package uploaderrors implements the typed error taxonomy of spec §7 and
// its HTTP status mapping. Typed errors flow verbatim from the service to
// the HTTP surface; anything else is logged and translated to INTERNAL_ERROR.
package uploaderrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is one of the taxonomy values from spec §7.
type Code string

const (
	UploadNotFound        Code = "UPLOAD_NOT_FOUND"
	UploadAlreadyCompleted Code = "UPLOAD_ALREADY_COMPLETED"
	UploadCanceled        Code = "UPLOAD_CANCELED"
	ChunkOutOfRange       Code = "CHUNK_OUT_OF_RANGE"
	ChunkSizeMismatch     Code = "CHUNK_SIZE_MISMATCH"
	ChunkHashMismatch     Code = "CHUNK_HASH_MISMATCH"
	ChunkAlreadyUploaded  Code = "CHUNK_ALREADY_UPLOADED"
	MissingChunks         Code = "MISSING_CHUNKS"
	FileHashMismatch      Code = "FILE_HASH_MISMATCH"
	StorageError          Code = "STORAGE_ERROR"
	InvalidRequest        Code = "INVALID_REQUEST"
	NetworkError          Code = "NETWORK_ERROR"
	TimeoutError          Code = "TIMEOUT_ERROR"
	InternalError         Code = "INTERNAL_ERROR"
)

var httpStatus = map[Code]int{
	UploadNotFound:         http.StatusNotFound,
	UploadAlreadyCompleted: http.StatusConflict,
	UploadCanceled:         http.StatusConflict,
	ChunkOutOfRange:        http.StatusBadRequest,
	ChunkSizeMismatch:      http.StatusBadRequest,
	ChunkHashMismatch:      http.StatusBadRequest,
	ChunkAlreadyUploaded:   http.StatusConflict,
	MissingChunks:          http.StatusBadRequest,
	FileHashMismatch:       http.StatusBadRequest,
	StorageError:           http.StatusInternalServerError,
	InvalidRequest:         http.StatusBadRequest,
	NetworkError:           http.StatusServiceUnavailable,
	TimeoutError:           http.StatusServiceUnavailable,
	InternalError:          http.StatusInternalServerError,
}

// Error is the typed error returned by UploadService and the client.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code spec §7 maps this code to.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error with no details or cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error recording an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches a details map (e.g. missingChunks, expected/actual).
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, matching the stdlib errors.As contract.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, or InternalError if err is not a
// typed *Error (matching the propagation policy of spec §7: untyped errors
// become INTERNAL_ERROR at the boundary).
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return InternalError
}

// StatusOf returns the HTTP status err maps to per spec §7.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
