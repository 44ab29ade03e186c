package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quayforge/ociregistry/pkg/models"
)

// PutManifest validates and stores body under repo/ref, materializing the
// digest address alongside a tag address (spec.md §4.3, I2).
func (reg *Registry) PutManifest(repo, ref, contentType string, body []byte) (digest string, err error) {
	if !isSupportedContentType(contentType) {
		return "", fmt.Errorf("%w: unsupported content-type %q", ErrManifestInvalid, contentType)
	}

	if _, err := parseManifest(body); err != nil {
		return "", err
	}

	digest = digestOf(body)

	path := reg.manifestPath(repo, ref)
	if err := writeFileAtomic(path, body); err != nil {
		return "", fmt.Errorf("failed to store manifest: %w", err)
	}

	if !isDigestReference(ref) {
		digestPath := reg.manifestPath(repo, digest)
		if !fileExists(digestPath) {
			if err := linkOrCopy(path, digestPath); err != nil {
				return "", fmt.Errorf("failed to materialize digest address: %w", err)
			}
		}
	}

	reg.audit.Record(models.Event{Type: models.EventManifestPut, Repo: repo, Reference: ref, Digest: digest})
	return digest, nil
}

// GetManifest returns the served bytes, content type, and digest for
// repo/ref, injecting a default mediaType if the stored document omits
// one (spec.md §4.3, §9).
func (reg *Registry) GetManifest(repo, ref string) (raw []byte, contentType string, digest string, err error) {
	_, raw, err = reg.resolveManifest(repo, ref)
	if err != nil {
		return nil, "", "", err
	}

	m, parseErr := parseManifest(raw)
	served := raw
	if parseErr == nil {
		served, err = injectMediaType(raw, m)
		if err != nil {
			return nil, "", "", err
		}
		contentType = contentTypeOf(m)
	} else {
		contentType = defaultManifestMediaType
	}

	return served, contentType, digestOf(served), nil
}

// DeleteManifest removes repo/ref, unlinking its tag/digest twin and
// sweeping any blob that becomes unreferenced as a result (spec.md §4.3
// step 2–5, §4.5 incremental sweep).
func (reg *Registry) DeleteManifest(repo, ref string) error {
	filename, raw, err := reg.resolveManifest(repo, ref)
	if err != nil {
		return err
	}

	m, err := parseManifest(raw)
	if err != nil {
		// A manifest that fails to parse still gets deleted — delete is not
		// a validation gate — but its reference walk contributes nothing.
		m = &models.Manifest{}
	}

	manifestDigest := digestOf(raw)
	digestFilename := stripDigestPrefix(manifestDigest)

	exclude := make(map[string]struct{})
	repoDir := reg.repoDir(repo)

	if isDigestReference(ref) {
		exclude[filename] = struct{}{}
		exclude[digestFilename] = struct{}{}
		reg.unlinkCoHashingTags(repo, repoDir, filename, manifestDigest)
	} else {
		exclude[ref] = struct{}{}
		exclude[digestFilename] = struct{}{}
	}

	candidates := referencedDigests(m)
	reg.sweepIncremental(candidates, repo, exclude)

	manifestFilePath := reg.manifestPath(repo, filename)
	if err := os.Remove(manifestFilePath); err != nil && !os.IsNotExist(err) {
		reg.logger.WithError(err).WithField("path", manifestFilePath).Error("failed to unlink manifest")
	}

	if digestFilename != filename {
		digestFilePath := reg.manifestPath(repo, digestFilename)
		if err := os.Remove(digestFilePath); err != nil && !os.IsNotExist(err) {
			reg.logger.WithError(err).WithField("path", digestFilePath).Error("failed to unlink manifest digest twin")
		}
	}

	reg.audit.Record(models.Event{Type: models.EventManifestDeleted, Repo: repo, Reference: ref, Digest: manifestDigest})
	return nil
}

// unlinkCoHashingTags removes every tag file in repoDir whose content
// hashes to targetDigest, other than the digest file itself
// (spec.md §4.3 step 3: "DELETE by digest removes every co-hashing tag").
func (reg *Registry) unlinkCoHashingTags(repo, repoDir, digestFilename, targetDigest string) {
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		return
	}

	digestFilePath := filepath.Join(repoDir, digestFilename)

	for _, entry := range entries {
		if entry.IsDir() || isHexDigest(entry.Name()) {
			continue
		}

		tagPath := filepath.Join(repoDir, entry.Name())

		if sameFile(tagPath, digestFilePath) {
			os.Remove(tagPath)
			continue
		}

		content, err := os.ReadFile(tagPath)
		if err != nil {
			reg.logger.WithError(err).WithField("path", tagPath).Error("failed to read candidate tag during delete")
			continue
		}
		if digestOf(content) == targetDigest {
			os.Remove(tagPath)
		}
	}
}

// resolveManifest locates repo/ref on disk, falling back to a directory
// scan when ref is a digest reference whose direct file is absent
// (tag files may not be hardlinked to their digest twin — spec.md §9).
// It returns the resolved filename (relative to the repo directory) and
// the raw stored bytes.
func (reg *Registry) resolveManifest(repo, ref string) (filename string, raw []byte, err error) {
	path := reg.manifestPath(repo, ref)
	filename = stripDigestPrefix(ref)

	if data, readErr := os.ReadFile(path); readErr == nil {
		return filename, data, nil
	} else if !os.IsNotExist(readErr) {
		return "", nil, fmt.Errorf("failed to read manifest: %w", readErr)
	}

	if !isDigestReference(ref) {
		return "", nil, ErrManifestUnknown
	}

	target := digestPrefix + filename
	repoDir := reg.repoDir(repo)
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		return "", nil, ErrManifestUnknown
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candidatePath := filepath.Join(repoDir, entry.Name())
		data, readErr := os.ReadFile(candidatePath)
		if readErr != nil {
			continue
		}
		if digestOf(data) == target {
			return entry.Name(), data, nil
		}
	}

	return "", nil, ErrManifestUnknown
}

// ListRepos enumerates repository names, sorted, optionally paginated.
func (reg *Registry) ListRepos(n int, last string) ([]string, error) {
	entries, err := os.ReadDir(reg.manifestsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	repos := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			repos = append(repos, e.Name())
		}
	}
	sort.Strings(repos)

	return paginate(repos, n, last), nil
}

// ListTags enumerates tag names within repo (excluding digest-address
// files), sorted, optionally paginated.
func (reg *Registry) ListTags(repo string, n int, last string) ([]string, error) {
	repoDir := reg.repoDir(repo)
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNameUnknown
		}
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isHexDigest(e.Name()) {
			continue
		}
		tags = append(tags, e.Name())
	}
	sort.Strings(tags)

	return paginate(tags, n, last), nil
}

// paginate applies the "exclude <= last, then truncate to n" pagination
// rule from spec.md §4.3 (single-shot, no opaque cursor).
func paginate(items []string, n int, last string) []string {
	if last != "" {
		filtered := items[:0:0]
		for _, it := range items {
			if it > last {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if n > 0 && n < len(items) {
		items = items[:n]
	}
	return items
}
