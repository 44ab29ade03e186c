// Package registry implements the content-addressed storage engine and
// reference-counting garbage collector behind the distribution API v2
// surface: the resumable chunked blob upload protocol, the dual-address
// (tag + digest) manifest store, and the reference walker / GC that keeps
// the blob directory free of orphans.
package registry

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quayforge/ociregistry/internal/audit"
)

// Registry is the content-addressed registry engine: the blob store, the
// manifest store, and the HTTP surface that maps the wire protocol onto
// them. It holds no authorization or replication state — those are
// non-goals (spec.md §1).
type Registry struct {
	root   string
	logger *logrus.Logger
	audit  *audit.Log
	router *mux.Router
}

// New creates a Registry rooted at dataDir. dataDir is created if
// missing, along with its blobs/, uploads/, and manifests/ subtrees.
func New(dataDir string, log *audit.Log, logger *logrus.Logger) (*Registry, error) {
	reg := &Registry{
		root:   dataDir,
		logger: logger,
		audit:  log,
	}

	for _, dir := range []string{reg.blobsDir(), reg.uploadsDir(), reg.manifestsDir()} {
		if err := mkdirAll(dir); err != nil {
			return nil, err
		}
	}

	reg.setupRoutes()
	return reg, nil
}

// Router returns the registry's mux.Router for mounting on an HTTP server.
func (reg *Registry) Router() *mux.Router {
	return reg.router
}

// setupRoutes configures the Docker Registry v2 / OCI distribution API
// routes (spec.md §6).
func (reg *Registry) setupRoutes() {
	reg.router = mux.NewRouter()
	reg.router.Use(reg.loggingMiddleware)

	reg.router.HandleFunc("/v2/", reg.handleBase).Methods(http.MethodGet)
	reg.router.HandleFunc("/v2/_catalog", reg.handleCatalog).Methods(http.MethodGet)
	reg.router.HandleFunc("/v2/gc", reg.handleGC).Methods(http.MethodPost)

	reg.router.HandleFunc("/v2/{name:.*}/tags/list", reg.handleTagsList).Methods(http.MethodGet)

	reg.router.HandleFunc("/v2/{name:.*}/manifests/{reference}", reg.handleManifestGet).Methods(http.MethodGet, http.MethodHead)
	reg.router.HandleFunc("/v2/{name:.*}/manifests/{reference}", reg.handleManifestPut).Methods(http.MethodPut)
	reg.router.HandleFunc("/v2/{name:.*}/manifests/{reference}", reg.handleManifestDelete).Methods(http.MethodDelete)

	reg.router.HandleFunc("/v2/{name:.*}/blobs/{digest}", reg.handleBlobGet).Methods(http.MethodGet, http.MethodHead)
	reg.router.HandleFunc("/v2/{name:.*}/blobs/{digest}", reg.handleBlobDelete).Methods(http.MethodDelete)

	reg.router.HandleFunc("/v2/{name:.*}/blobs/uploads/", reg.handleBlobUploadPost).Methods(http.MethodPost)
	reg.router.HandleFunc("/v2/{name:.*}/blobs/uploads/{uuid}", reg.handleBlobUploadPatch).Methods(http.MethodPatch)
	reg.router.HandleFunc("/v2/{name:.*}/blobs/uploads/{uuid}", reg.handleBlobUploadPut).Methods(http.MethodPut)
	reg.router.HandleFunc("/v2/{name:.*}/blobs/uploads/{uuid}", reg.handleBlobUploadGet).Methods(http.MethodGet)
	reg.router.HandleFunc("/v2/{name:.*}/blobs/uploads/{uuid}", reg.handleBlobUploadDelete).Methods(http.MethodDelete)
}

// loggingMiddleware logs method/path/status/duration for every request.
func (reg *Registry) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, req)

		reg.logger.WithFields(logrus.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
		}).Debug("registry request")
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
// written, for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
