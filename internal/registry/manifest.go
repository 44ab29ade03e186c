package registry

import (
	"encoding/json"
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"github.com/quayforge/ociregistry/pkg/models"
)

// parseManifest parses raw as a manifest document, rejecting anything
// that isn't valid JSON or that declares an unsupported mediaType.
func parseManifest(raw []byte) (*models.Manifest, error) {
	var m models.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrManifestInvalid, err)
	}
	if !isSupportedMediaType(m.MediaType) {
		return nil, fmt.Errorf("%w: unsupported mediaType %q", ErrManifestInvalid, m.MediaType)
	}
	return &m, nil
}

// digestOf returns the sha256 digest of raw as a "sha256:<hex>" string.
func digestOf(raw []byte) string {
	return digest.FromBytes(raw).String()
}

// injectMediaType adds the v2 default mediaType to a manifest document
// that omits it, re-serializing the bytes. This is the deliberate
// normalization spec.md §4.3/§9 calls out: the digest served afterward is
// computed over these re-serialized bytes, not the originally stored
// ones.
//
// An implementer targeting byte-for-byte addressability could instead
// preserve raw and serve mediaType only in the Content-Type header; this
// registry follows spec.md's pinned behavior (round-trip law R2/R3,
// scenario 3) and injects into the body.
func injectMediaType(raw []byte, m *models.Manifest) ([]byte, error) {
	if m.MediaType != "" {
		return raw, nil
	}

	m.MediaType = defaultManifestMediaType
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to re-serialize manifest: %w", err)
	}
	return out, nil
}

// contentTypeOf returns the Content-Type to serve for a parsed manifest,
// falling back to the v2 default if the document is unparseable or
// omits mediaType.
func contentTypeOf(m *models.Manifest) string {
	if m == nil || m.MediaType == "" {
		return defaultManifestMediaType
	}
	return m.MediaType
}
