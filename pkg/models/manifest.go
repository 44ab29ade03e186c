// Package models holds the wire-level JSON types shared across the
// registry and audit packages.
package models

import (
	digest "github.com/opencontainers/go-digest"
)

// Descriptor is a content descriptor: a pointer to a blob by digest, with
// enough metadata for a client to decide whether to fetch it.
type Descriptor struct {
	MediaType   string            `json:"mediaType,omitempty"`
	Size        int64             `json:"size,omitempty"`
	Digest      digest.Digest     `json:"digest,omitempty"`
	URLs        []string          `json:"urls,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Platform describes the platform a manifest-list entry targets.
type Platform struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	OSVersion    string   `json:"os.version,omitempty"`
	OSFeatures   []string `json:"os.features,omitempty"`
	Variant      string   `json:"variant,omitempty"`
}

// ManifestDescriptor extends Descriptor with the platform info used in
// manifest lists / image indexes.
type ManifestDescriptor struct {
	Descriptor
	Platform *Platform `json:"platform,omitempty"`
}

// Manifest is the union shape of every manifest document this registry
// accepts: a single-image manifest (config + layers) or a manifest
// list / image index (manifests[]). Fields are all optional because the
// wire format is one of several schemas and the reference walker (C4)
// only cares about which digest-bearing fields are present, not which
// named schema produced them.
type Manifest struct {
	SchemaVersion int                  `json:"schemaVersion,omitempty"`
	MediaType     string               `json:"mediaType,omitempty"`
	Config        *Descriptor          `json:"config,omitempty"`
	Layers        []Descriptor         `json:"layers,omitempty"`
	Manifests     []ManifestDescriptor `json:"manifests,omitempty"`
	Annotations   map[string]string    `json:"annotations,omitempty"`
}
