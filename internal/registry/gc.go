package registry

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/quayforge/ociregistry/pkg/models"
)

// sweepIncremental deletes every blob in candidates that is not
// referenced by any surviving manifest, where "surviving" excludes the
// filenames named in exclude within repo (the manifest currently being
// deleted and its digest twin). This is the incremental GC triggered by
// a manifest delete (spec.md §4.5).
func (reg *Registry) sweepIncremental(candidates map[string]struct{}, repo string, exclude map[string]struct{}) {
	for d := range candidates {
		if reg.isReferenced(d, repo, exclude) {
			continue
		}
		path := reg.blobPath(d)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			reg.logger.WithError(err).WithField("digest", d).Error("failed to sweep unreferenced blob")
		}
	}
}

// isReferenced walks every manifest file in every repository (skipping
// the excluded filenames within repo) and reports whether any of them
// reference digest d.
func (reg *Registry) isReferenced(d, excludeRepo string, exclude map[string]struct{}) bool {
	repos, err := os.ReadDir(reg.manifestsDir())
	if err != nil {
		return false
	}

	for _, r := range repos {
		if !r.IsDir() {
			continue
		}
		repoDir := filepath.Join(reg.manifestsDir(), r.Name())

		files, err := os.ReadDir(repoDir)
		if err != nil {
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if r.Name() == excludeRepo {
				if _, skip := exclude[f.Name()]; skip {
					continue
				}
			}

			manifestPath := filepath.Join(repoDir, f.Name())
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				reg.logger.WithError(err).WithField("path", manifestPath).Error("failed to read manifest during reference check")
				continue
			}

			m, err := parseManifest(data)
			if err != nil {
				reg.logger.WithError(err).WithField("path", manifestPath).Error("skipping unparseable manifest during reference check")
				continue
			}

			if _, ok := referencedDigests(m)[d]; ok {
				return true
			}
		}
	}

	return false
}

// GCResult reports what the bulk garbage collector removed.
type GCResult struct {
	RemovedBlobs []string
}

// BulkGC builds the live set from every surviving manifest across every
// repository, then removes every blob not in that set and empties the
// upload staging area. Abandoned upload sessions are assumed dead
// (spec.md §4.5 bulk sweep).
func (reg *Registry) BulkGC() (*GCResult, error) {
	live := make(map[string]struct{})

	repos, err := os.ReadDir(reg.manifestsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	for _, r := range repos {
		if !r.IsDir() {
			continue
		}
		repoDir := filepath.Join(reg.manifestsDir(), r.Name())

		files, err := os.ReadDir(repoDir)
		if err != nil {
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			manifestPath := filepath.Join(repoDir, f.Name())
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				reg.logger.WithError(err).WithField("path", manifestPath).Error("failed to read manifest during bulk GC")
				continue
			}

			m, err := parseManifest(data)
			if err != nil {
				reg.logger.WithError(err).WithField("path", manifestPath).Error("skipping unparseable manifest during bulk GC")
				continue
			}

			for d := range referencedDigests(m) {
				live[d] = struct{}{}
			}
		}
	}

	var removed []string
	blobEntries, err := os.ReadDir(reg.blobsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	for _, b := range blobEntries {
		if b.IsDir() {
			continue
		}
		digest := digestPrefix + b.Name()
		if _, ok := live[digest]; ok {
			continue
		}

		path := filepath.Join(reg.blobsDir(), b.Name())
		if err := os.Remove(path); err != nil {
			reg.logger.WithError(err).WithField("digest", digest).Error("failed to remove orphaned blob during bulk GC")
			continue
		}
		removed = append(removed, b.Name())
	}
	sort.Strings(removed)

	if err := os.RemoveAll(reg.uploadsDir()); err != nil {
		return nil, err
	}
	if err := mkdirAll(reg.uploadsDir()); err != nil {
		return nil, err
	}

	reg.audit.Record(models.Event{Type: models.EventGCRun, Removed: len(removed)})

	return &GCResult{RemovedBlobs: removed}, nil
}
