package registry

import ociv1 "github.com/opencontainers/image-spec/specs-go/v1"

// Media types this registry accepts for manifest documents. Docker's
// distribution schemas have no constants in image-spec, so they are
// listed alongside the OCI ones pulled from the image-spec package.
const (
	MediaTypeDockerSchema2Manifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerSchema2ManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerSchema1Manifest     = "application/vnd.docker.distribution.manifest.v1+json"
	MediaTypeOCIManifest               = ociv1.MediaTypeImageManifest
	MediaTypeOCIImageIndex             = ociv1.MediaTypeImageIndex
)

// supportedManifestTypes is the whitelist enforced at PUT time: both the
// request's Content-Type and any explicit in-document "mediaType" must
// match one of these.
var supportedManifestTypes = []string{
	MediaTypeDockerSchema1Manifest,
	MediaTypeDockerSchema2Manifest,
	MediaTypeDockerSchema2ManifestList,
	MediaTypeOCIManifest,
	MediaTypeOCIImageIndex,
}

// defaultManifestMediaType is injected into documents that omit
// "mediaType" on GET (spec.md §4.3, §9).
const defaultManifestMediaType = MediaTypeDockerSchema2Manifest

func isSupportedContentType(contentType string) bool {
	for _, t := range supportedManifestTypes {
		if len(contentType) >= len(t) && contentType[:len(t)] == t {
			return true
		}
	}
	return false
}

func isSupportedMediaType(mediaType string) bool {
	if mediaType == "" {
		return true
	}
	for _, t := range supportedManifestTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}
