package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleBase handles GET /v2/ — the API version probe every client
// issues before anything else.
func (reg *Registry) handleBase(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{}"))
}

// handleCatalog handles GET /v2/_catalog.
func (reg *Registry) handleCatalog(w http.ResponseWriter, r *http.Request) {
	n, last := pageParams(r)

	repos, err := reg.ListRepos(n, last)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"repositories": repos})
}

// handleTagsList handles GET /v2/{name}/tags/list.
func (reg *Registry) handleTagsList(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	n, last := pageParams(r)

	tags, err := reg.ListTags(name, n, last)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"name": name, "tags": tags})
}

// handleManifestGet handles GET/HEAD /v2/{name}/manifests/{reference}.
func (reg *Registry) handleManifestGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	raw, contentType, digest, err := reg.GetManifest(vars["name"], vars["reference"])
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))

	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(raw)
	}
}

// handleManifestPut handles PUT /v2/{name}/manifests/{reference}.
func (reg *Registry) handleManifestPut(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, reference := vars["name"], vars["reference"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		reg.writeError(w, fmt.Errorf("%w: failed to read body", ErrManifestInvalid), "")
		return
	}

	contentType := r.Header.Get("Content-Type")

	digest, err := reg.PutManifest(name, reference, contentType, body)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/manifests/%s", name, digest))
	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusCreated)
}

// handleManifestDelete handles DELETE /v2/{name}/manifests/{reference}.
func (reg *Registry) handleManifestDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := reg.DeleteManifest(vars["name"], vars["reference"]); err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleBlobGet handles GET/HEAD /v2/{name}/blobs/{digest}.
func (reg *Registry) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]

	if r.Method == http.MethodHead {
		size, err := reg.BlobSize(digest)
		if err != nil {
			reg.writeError(w, err, "")
			return
		}
		w.Header().Set("Docker-Content-Digest", digest)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	body, size, err := reg.GetBlob(digest)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}
	defer body.Close()

	w.Header().Set("Docker-Content-Digest", digest)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

// handleBlobDelete handles DELETE /v2/{name}/blobs/{digest} — the
// unconditional single-blob delete documented in SPEC_FULL.md.
func (reg *Registry) handleBlobDelete(w http.ResponseWriter, r *http.Request) {
	digest := mux.Vars(r)["digest"]

	if err := reg.DeleteBlob(digest); err != nil {
		reg.writeError(w, err, "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleBlobUploadPost handles POST /v2/{name}/blobs/uploads/.
func (reg *Registry) handleBlobUploadPost(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	mountDigest := r.URL.Query().Get("digest")

	id, mounted, err := reg.BeginUpload(name, mountDigest)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	if mounted {
		w.Header().Set("Docker-Content-Digest", mountDigest)
		w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", name, mountDigest))
		w.WriteHeader(http.StatusCreated)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, id))
	w.Header().Set("Docker-Upload-UUID", id)
	w.Header().Set("Range", "0-0")
	w.WriteHeader(http.StatusAccepted)
}

// handleBlobUploadPatch handles PATCH /v2/{name}/blobs/uploads/{uuid}.
func (reg *Registry) handleBlobUploadPatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, id := vars["name"], vars["uuid"]

	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		reg.writeError(w, fmt.Errorf("%w: failed to read chunk", ErrUploadInvalid), "")
		return
	}

	size, err := reg.AppendUpload(id, chunk, r.Header.Get("Content-Range"))
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", name, id))
	w.Header().Set("Docker-Upload-UUID", id)
	w.Header().Set("Range", fmt.Sprintf("0-%d", size-1))
	w.WriteHeader(http.StatusAccepted)
}

// handleBlobUploadPut handles PUT /v2/{name}/blobs/uploads/{uuid}?digest=.
// Any trailing body is ignored — this system does not append on finalize
// (spec.md §6 table note).
func (reg *Registry) handleBlobUploadPut(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, id := vars["name"], vars["uuid"]
	digest := r.URL.Query().Get("digest")

	finalDigest, err := reg.FinalizeUpload(id, digest)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/%s", name, finalDigest))
	w.Header().Set("Docker-Content-Digest", finalDigest)
	w.WriteHeader(http.StatusCreated)
}

// handleBlobUploadGet handles GET /v2/{name}/blobs/uploads/{uuid} — an
// upload status probe (SPEC_FULL.md supplemented feature).
func (reg *Registry) handleBlobUploadGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]

	size, err := reg.UploadSize(id)
	if err != nil {
		reg.writeError(w, err, "")
		return
	}

	w.Header().Set("Docker-Upload-UUID", id)
	w.Header().Set("Range", fmt.Sprintf("0-%d", size-1))
	w.WriteHeader(http.StatusNoContent)
}

// handleBlobUploadDelete handles DELETE /v2/{name}/blobs/uploads/{uuid}.
func (reg *Registry) handleBlobUploadDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	reg.CancelUpload(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleGC handles POST /v2/gc.
func (reg *Registry) handleGC(w http.ResponseWriter, r *http.Request) {
	result, err := reg.BulkGC()
	if err != nil {
		reg.writeError(w, fmt.Errorf("gc failed: %v", err), "")
		return
	}

	removed := result.RemovedBlobs
	if removed == nil {
		removed = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "success",
		"removed_blobs": removed,
	})
}

// pageParams extracts the "n"/"last" pagination query parameters shared
// by the catalog and tags-list endpoints.
func pageParams(r *http.Request) (n int, last string) {
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			n = parsed
		}
	}
	last = r.URL.Query().Get("last")
	return n, last
}
