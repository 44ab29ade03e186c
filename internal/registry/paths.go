package registry

import (
	"path/filepath"
	"strings"
)

const digestPrefix = "sha256:"

// stripDigestPrefix removes a leading "sha256:" from a digest or
// digest-shaped reference, matching the on-disk naming convention where
// blob and manifest files are named by the bare hex digest.
func stripDigestPrefix(s string) string {
	return strings.TrimPrefix(s, digestPrefix)
}

// isHexDigest reports whether s looks like a bare, unprefixed sha256 hex
// digest: exactly 64 lowercase hex characters. This is the corrected tag
// filter from spec.md §9 ("tag filter asymmetry") — on disk the
// "sha256:" prefix is already stripped, so filtering on the literal
// prefix string would never exclude a digest-address file.
func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// isDigestReference reports whether ref names a manifest by digest
// (either "sha256:<hex>" or the bare 64-hex form).
func isDigestReference(ref string) bool {
	if strings.HasPrefix(ref, digestPrefix) {
		return true
	}
	return isHexDigest(ref)
}

// blobPath returns the on-disk path of the blob named by digest d.
func (r *Registry) blobPath(d string) string {
	return filepath.Join(r.root, "blobs", stripDigestPrefix(d))
}

// blobsDir returns the root of the finalized blob directory.
func (r *Registry) blobsDir() string {
	return filepath.Join(r.root, "blobs")
}

// uploadPath returns the on-disk path of the upload session u.
func (r *Registry) uploadPath(u string) string {
	return filepath.Join(r.root, "uploads", u)
}

// uploadsDir returns the root of the upload staging directory.
func (r *Registry) uploadsDir() string {
	return filepath.Join(r.root, "uploads")
}

// manifestsDir returns the root of the manifest tree.
func (r *Registry) manifestsDir() string {
	return filepath.Join(r.root, "manifests")
}

// repoDir returns the manifest directory for repo.
func (r *Registry) repoDir(repo string) string {
	return filepath.Join(r.manifestsDir(), repo)
}

// manifestPath returns the on-disk path of repo's manifest named ref
// (tag or digest).
func (r *Registry) manifestPath(repo, ref string) string {
	return filepath.Join(r.repoDir(repo), stripDigestPrefix(ref))
}
