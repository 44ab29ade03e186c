package registry

import "github.com/quayforge/ociregistry/pkg/models"

// referencedDigests returns the set of digests m references: its config
// blob, its layer blobs, and — for manifest lists / image indexes — its
// sub-manifest digests. The walk is intentionally one level: a manifest
// index's children are not recursively expanded (spec.md §4.4, §9).
func referencedDigests(m *models.Manifest) map[string]struct{} {
	digests := make(map[string]struct{})

	if m.Config != nil && m.Config.Digest != "" {
		digests[m.Config.Digest.String()] = struct{}{}
	}
	for _, layer := range m.Layers {
		if layer.Digest != "" {
			digests[layer.Digest.String()] = struct{}{}
		}
	}
	for _, sub := range m.Manifests {
		if sub.Digest != "" {
			digests[sub.Digest.String()] = struct{}{}
		}
	}

	return digests
}
