package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/quayforge/ociregistry/pkg/models"
)

// BeginUpload allocates a new upload session for repo and returns its id.
// If mountDigest is non-empty and already exists as a blob, no session is
// created and mounted is true; the caller should short-circuit with a 201.
func (reg *Registry) BeginUpload(repo, mountDigest string) (uploadID string, mounted bool, err error) {
	if mountDigest != "" && fileExists(reg.blobPath(mountDigest)) {
		return "", true, nil
	}

	id, err := randomHex(32)
	if err != nil {
		return "", false, fmt.Errorf("failed to allocate upload id: %w", err)
	}

	if err := mkdirAll(reg.uploadsDir()); err != nil {
		return "", false, err
	}

	f, err := os.Create(reg.uploadPath(id))
	if err != nil {
		return "", false, fmt.Errorf("failed to create upload session: %w", err)
	}
	f.Close()

	return id, false, nil
}

// UploadSize returns the current size of upload session id, or
// ErrUploadUnknown if no such session exists.
func (reg *Registry) UploadSize(id string) (int64, error) {
	info, err := os.Stat(reg.uploadPath(id))
	if err != nil {
		return 0, ErrUploadUnknown
	}
	return info.Size(), nil
}

// AppendUpload appends data to upload session id, honoring a
// "start-end" Content-Range header if contentRange is non-empty (I5:
// start must equal the session's current size). It returns the new
// high-water mark.
func (reg *Registry) AppendUpload(id string, data []byte, contentRange string) (int64, error) {
	path := reg.uploadPath(id)
	current, err := os.Stat(path)
	if err != nil {
		return 0, ErrUploadUnknown
	}

	if contentRange != "" {
		start, _, ok := parseContentRange(contentRange)
		if !ok {
			return 0, ErrUploadInvalid
		}
		if start != current.Size() {
			return 0, ErrUploadInvalid
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open upload session: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("failed to append to upload session: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat upload session: %w", err)
	}
	return info.Size(), nil
}

// FinalizeUpload verifies upload session id's content hashes to
// declaredDigest and, on success, atomically promotes it to a blob
// (or discards it if the blob already exists — dedup). On mismatch the
// session is deleted and ErrDigestInvalid is returned.
func (reg *Registry) FinalizeUpload(id, declaredDigest string) (string, error) {
	if declaredDigest == "" {
		return "", ErrDigestInvalid
	}

	path := reg.uploadPath(id)
	f, err := os.Open(path)
	if err != nil {
		return "", ErrUploadUnknown
	}

	d, err := digest.FromReader(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("failed to hash upload session: %w", err)
	}

	actual := d.String()
	if actual != declaredDigest {
		os.Remove(path)
		return "", ErrDigestInvalid
	}

	blobPath := reg.blobPath(declaredDigest)
	if fileExists(blobPath) {
		os.Remove(path)
		reg.audit.Record(models.Event{Type: models.EventBlobFinalized, Digest: declaredDigest})
		return declaredDigest, nil
	}

	if err := mkdirAll(reg.blobsDir()); err != nil {
		return "", err
	}
	if err := os.Rename(path, blobPath); err != nil {
		return "", fmt.Errorf("failed to promote upload session to blob: %w", err)
	}

	reg.audit.Record(models.Event{Type: models.EventBlobFinalized, Digest: declaredDigest})
	return declaredDigest, nil
}

// CancelUpload discards an in-progress upload session. It is idempotent.
func (reg *Registry) CancelUpload(id string) {
	os.Remove(reg.uploadPath(id))
}

// GetBlob opens the blob named by digest d for reading, along with its
// size, or ErrBlobUnknown if absent.
func (reg *Registry) GetBlob(d string) (io.ReadCloser, int64, error) {
	path := reg.blobPath(d)
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, ErrBlobUnknown
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, info.Size(), nil
}

// BlobSize reports the size of blob d without opening it, or
// ErrBlobUnknown if absent.
func (reg *Registry) BlobSize(d string) (int64, error) {
	info, err := os.Stat(reg.blobPath(d))
	if err != nil {
		return 0, ErrBlobUnknown
	}
	return info.Size(), nil
}

// DeleteBlob unconditionally unlinks blob d. This is the "dangerous
// escape hatch" direct-delete endpoint (SPEC_FULL.md) — it does not
// check references, unlike the garbage collector.
func (reg *Registry) DeleteBlob(d string) error {
	if err := os.Remove(reg.blobPath(d)); err != nil {
		if os.IsNotExist(err) {
			return ErrBlobUnknown
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// parseContentRange parses a "start-end" Content-Range value (the only
// form this system accepts — monotonic append, not arbitrary chunk
// negotiation, per spec.md §1 Non-goals).
func parseContentRange(s string) (start, end int64, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || a < 0 {
		return 0, 0, false
	}
	b, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || b < 0 {
		return 0, 0, false
	}
	return a, b, true
}
