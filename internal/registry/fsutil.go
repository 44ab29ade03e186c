package registry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// mkdirAll creates dir (and parents) with the registry's standard
// permissions, matching the teacher's storage layer mkdir-before-write
// pattern.
func mkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// writeFileAtomic writes data to path by writing to a temp file in the
// same directory and renaming over it, so concurrent readers never see a
// partially written manifest.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := mkdirAll(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// linkOrCopy hardlinks dst to src, falling back to a byte-for-byte copy
// if the OS refuses the hardlink (e.g. cross-device). This is the
// portability hedge spec.md §4.3/§9 calls for, not an error path.
func linkOrCopy(src, dst string) error {
	if err := mkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}

	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source for copy fallback: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create copy destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

// fileExists reports whether path names a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// sameFile reports whether a and b name the same inode (used to detect
// hardlinked tag/digest pairs without re-reading content).
func sameFile(a, b string) bool {
	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
