package registry

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors returned by the core components. The HTTP surface maps
// each one onto a wire error code and status in writeError.
var (
	ErrBlobUnknown        = errors.New("blob unknown")
	ErrUploadUnknown      = errors.New("upload unknown")
	ErrUploadInvalid      = errors.New("upload invalid")
	ErrDigestInvalid      = errors.New("digest invalid")
	ErrManifestUnknown    = errors.New("manifest unknown")
	ErrManifestInvalid    = errors.New("manifest invalid")
	ErrNameUnknown        = errors.New("name unknown")
)

// codeForError maps a sentinel error to its wire error code and HTTP
// status. Unrecognized errors are treated as internal server errors.
func codeForError(err error) (status int, code string) {
	switch {
	case errors.Is(err, ErrBlobUnknown):
		return http.StatusNotFound, "BLOB_UNKNOWN"
	case errors.Is(err, ErrUploadUnknown):
		return http.StatusNotFound, "BLOB_UPLOAD_UNKNOWN"
	case errors.Is(err, ErrUploadInvalid):
		return http.StatusBadRequest, "BLOB_UPLOAD_INVALID"
	case errors.Is(err, ErrDigestInvalid):
		return http.StatusBadRequest, "DIGEST_INVALID"
	case errors.Is(err, ErrManifestUnknown):
		return http.StatusNotFound, "MANIFEST_UNKNOWN"
	case errors.Is(err, ErrManifestInvalid):
		return http.StatusBadRequest, "MANIFEST_INVALID"
	case errors.Is(err, ErrNameUnknown):
		return http.StatusNotFound, "NAME_UNKNOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// errorResponse is the distribution API v2 error envelope.
type errorResponse struct {
	Errors []registryError `json:"errors"`
}

type registryError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// writeError writes the standard error envelope for err, deriving status
// and code automatically. detail is optional free-form context.
func (reg *Registry) writeError(w http.ResponseWriter, err error, detail string) {
	status, code := codeForError(err)

	if status >= http.StatusInternalServerError {
		reg.logger.WithError(err).WithField("code", code).Error("registry request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := errorResponse{
		Errors: []registryError{
			{Code: code, Message: err.Error(), Detail: detail},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}
