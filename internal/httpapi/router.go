// Package httpapi translates the wire protocol (spec §6) into
// UploadService calls. Thin: handlers parse/validate the request shape,
// delegate to the service, and render its result or typed error.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/torrin-io/torrin/internal/service"
)

// NewRouter builds the complete HTTP handler: routes mounted under
// basePath, wrapped in CORS, matching the teacher's
// mux.NewRouter()+cors.New(...).Handler(router) wiring.
func NewRouter(svc *service.Service, basePath string, allowOrigins []string, logger *zap.Logger) http.Handler {
	h := &handler{svc: svc, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc(basePath, h.handleInit).Methods(http.MethodPost)
	router.HandleFunc(basePath, h.handleList).Methods(http.MethodGet)
	router.HandleFunc(basePath+"/{uploadId}/chunks/{index}", h.handleChunk).Methods(http.MethodPut)
	router.HandleFunc(basePath+"/{uploadId}/status", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc(basePath+"/{uploadId}/complete", h.handleComplete).Methods(http.MethodPost)
	router.HandleFunc(basePath+"/{uploadId}", h.handleAbort).Methods(http.MethodDelete)

	c := cors.New(cors.Options{
		AllowedOrigins:   allowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
	return c.Handler(router)
}
