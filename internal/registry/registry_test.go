package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/quayforge/ociregistry/internal/audit"
)

func newTestRegistry(t *testing.T) *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auditLog, err := audit.NewLog(db, logger)
	require.NoError(t, err)

	reg, err := New(t.TempDir(), auditLog, logger)
	require.NoError(t, err)
	return reg
}

func do(reg *Registry, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	reg.Router().ServeHTTP(w, req)
	return w
}

func pushBlob(t *testing.T, reg *Registry, repo string, data []byte) string {
	digest := fmt.Sprintf("sha256:%x", sha256.Sum256(data))

	w := do(reg, http.MethodPost, fmt.Sprintf("/v2/%s/blobs/uploads/", repo), nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	w = do(reg, http.MethodPatch, location, data, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(reg, http.MethodPut, location+"?digest="+digest, nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	return digest
}

func TestBaseEndpoint(t *testing.T) {
	reg := newTestRegistry(t)

	w := do(reg, http.MethodGet, "/v2/", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "registry/2.0", w.Header().Get("Docker-Distribution-API-Version"))
}

func TestEmptyCatalog(t *testing.T) {
	reg := newTestRegistry(t)

	w := do(reg, http.MethodGet, "/v2/_catalog", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	repos, _ := resp["repositories"].([]interface{})
	assert.Empty(t, repos)
}

func TestUploadAndRetrieveBlob(t *testing.T) {
	reg := newTestRegistry(t)

	data := []byte("a test blob")
	digest := pushBlob(t, reg, "test-image", data)

	w := do(reg, http.MethodGet, fmt.Sprintf("/v2/test-image/blobs/%s", digest), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, digest, w.Header().Get("Docker-Content-Digest"))
	assert.Equal(t, data, w.Body.Bytes())
}

func TestChunkedUpload(t *testing.T) {
	reg := newTestRegistry(t)

	chunk1 := []byte("first chunk ")
	chunk2 := []byte("second chunk")
	full := append(append([]byte{}, chunk1...), chunk2...)
	digest := fmt.Sprintf("sha256:%x", sha256.Sum256(full))

	w := do(reg, http.MethodPost, "/v2/chunked/blobs/uploads/", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")
	assert.Equal(t, "0-0", w.Header().Get("Range"))

	w = do(reg, http.MethodPatch, location, chunk1, map[string]string{"Content-Range": fmt.Sprintf("0-%d", len(chunk1))})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, fmt.Sprintf("0-%d", len(chunk1)-1), w.Header().Get("Range"))

	w = do(reg, http.MethodPatch, location, chunk2, map[string]string{"Content-Range": fmt.Sprintf("%d-%d", len(chunk1), len(full))})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(reg, http.MethodPut, location+"?digest="+digest, nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(reg, http.MethodGet, fmt.Sprintf("/v2/chunked/blobs/%s", digest), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, full, w.Body.Bytes())
}

func TestChunkedUploadRejectsNonMonotonicRange(t *testing.T) {
	reg := newTestRegistry(t)

	w := do(reg, http.MethodPost, "/v2/chunked2/blobs/uploads/", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	w = do(reg, http.MethodPatch, location, []byte("data"), map[string]string{"Content-Range": "5-9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManifestPutGetTagAndDigest(t *testing.T) {
	reg := newTestRegistry(t)

	configData := []byte(`{"architecture":"amd64"}`)
	configDigest := pushBlob(t, reg, "img", configData)
	layerDigest := pushBlob(t, reg, "img", []byte("layer data"))

	manifest := map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     MediaTypeDockerSchema2Manifest,
		"config": map[string]interface{}{
			"mediaType": "application/vnd.docker.container.image.v1+json",
			"size":      len(configData),
			"digest":    configDigest,
		},
		"layers": []map[string]interface{}{
			{"mediaType": "application/vnd.docker.image.rootfs.diff.tar.gzip", "size": 10, "digest": layerDigest},
		},
	}
	body, err := json.Marshal(manifest)
	require.NoError(t, err)

	w := do(reg, http.MethodPut, "/v2/img/manifests/v1.0", body, map[string]string{"Content-Type": MediaTypeDockerSchema2Manifest})
	require.Equal(t, http.StatusCreated, w.Code)
	digest := w.Header().Get("Docker-Content-Digest")
	require.NotEmpty(t, digest)

	w = do(reg, http.MethodGet, "/v2/img/manifests/v1.0", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MediaTypeDockerSchema2Manifest, w.Header().Get("Content-Type"))
	assert.Equal(t, digest, w.Header().Get("Docker-Content-Digest"))

	w = do(reg, http.MethodGet, fmt.Sprintf("/v2/img/manifests/%s", digest), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTagsList(t *testing.T) {
	reg := newTestRegistry(t)

	manifest := []byte(fmt.Sprintf(`{"schemaVersion":2,"mediaType":%q}`, MediaTypeDockerSchema2Manifest))

	for _, tag := range []string{"v1.0", "v1.1", "latest"} {
		w := do(reg, http.MethodPut, "/v2/tagged/manifests/"+tag, manifest, map[string]string{"Content-Type": MediaTypeDockerSchema2Manifest})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(reg, http.MethodGet, "/v2/tagged/tags/list", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tagged", resp.Name)
	assert.ElementsMatch(t, []string{"v1.0", "v1.1", "latest"}, resp.Tags)
}

func TestDeleteManifestSweepsOrphanedBlob(t *testing.T) {
	reg := newTestRegistry(t)

	configData := []byte(`{"a":1}`)
	configDigest := pushBlob(t, reg, "del", configData)

	manifest := map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     MediaTypeDockerSchema2Manifest,
		"config": map[string]interface{}{
			"mediaType": "application/vnd.docker.container.image.v1+json",
			"size":      len(configData),
			"digest":    configDigest,
		},
		"layers": []map[string]interface{}{},
	}
	body, _ := json.Marshal(manifest)

	w := do(reg, http.MethodPut, "/v2/del/manifests/v1.0", body, map[string]string{"Content-Type": MediaTypeDockerSchema2Manifest})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(reg, http.MethodDelete, "/v2/del/manifests/v1.0", nil, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(reg, http.MethodGet, "/v2/del/manifests/v1.0", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(reg, http.MethodGet, fmt.Sprintf("/v2/del/blobs/%s", configDigest), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMediaTypeInjectedWhenDocumentOmitsIt(t *testing.T) {
	reg := newTestRegistry(t)

	manifest := map[string]interface{}{
		"schemaVersion": 2,
		"layers":        []map[string]interface{}{},
	}
	body, _ := json.Marshal(manifest)

	w := do(reg, http.MethodPut, "/v2/bare/manifests/latest", body, map[string]string{"Content-Type": MediaTypeDockerSchema2Manifest})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(reg, http.MethodGet, "/v2/bare/manifests/latest", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, MediaTypeDockerSchema2Manifest, w.Header().Get("Content-Type"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	assert.Equal(t, MediaTypeDockerSchema2Manifest, decoded["mediaType"])
}

func TestBulkGCRemovesOrphanedBlobOnly(t *testing.T) {
	reg := newTestRegistry(t)

	keptConfig := []byte(`{"keep":true}`)
	keptDigest := pushBlob(t, reg, "bulk", keptConfig)
	orphanDigest := pushBlob(t, reg, "bulk", []byte("nobody references this"))

	manifest := map[string]interface{}{
		"schemaVersion": 2,
		"mediaType":     MediaTypeDockerSchema2Manifest,
		"config": map[string]interface{}{
			"mediaType": "application/vnd.docker.container.image.v1+json",
			"size":      len(keptConfig),
			"digest":    keptDigest,
		},
		"layers": []map[string]interface{}{},
	}
	body, _ := json.Marshal(manifest)
	w := do(reg, http.MethodPut, "/v2/bulk/manifests/v1", body, map[string]string{"Content-Type": MediaTypeDockerSchema2Manifest})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(reg, http.MethodPost, "/v2/gc", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(reg, http.MethodGet, fmt.Sprintf("/v2/bulk/blobs/%s", orphanDigest), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(reg, http.MethodGet, fmt.Sprintf("/v2/bulk/blobs/%s", keptDigest), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBlobMountAcrossRepos(t *testing.T) {
	reg := newTestRegistry(t)

	data := []byte("shared layer")
	digest := pushBlob(t, reg, "source", data)

	w := do(reg, http.MethodPost, fmt.Sprintf("/v2/dest/blobs/uploads/?digest=%s", digest), nil, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, digest, w.Header().Get("Docker-Content-Digest"))

	w = do(reg, http.MethodGet, fmt.Sprintf("/v2/dest/blobs/%s", digest), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
}

func TestErrorCases(t *testing.T) {
	reg := newTestRegistry(t)

	w := do(reg, http.MethodGet, "/v2/nonexistent/manifests/latest", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(reg, http.MethodGet, "/v2/nonexistent/blobs/sha256:deadbeef", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(reg, http.MethodPost, "/v2/test/blobs/uploads/", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	location := w.Header().Get("Location")

	w = do(reg, http.MethodPut, location, []byte("data"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
