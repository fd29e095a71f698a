// Package fsx holds the file-tree primitives shared by the backup and
// restore paths: atomic single-file writes, recursive copies, and
// mirror-with-delete.
package fsx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path via a temp file and rename so readers
// never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		tmp.Close()
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}

	ok = true
	return nil
}

// CopyFile copies src to dst, creating parent directories and preserving the
// source file's mode.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return out.Close()
}

// CopyTree copies the tree rooted at src into dst. Entries whose name (not
// path) appears in skipNames are skipped, along with everything below them.
// Symlinks are not followed; they are recreated pointing at the same target.
func CopyTree(src, dst string, skipNames map[string]bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if skipNames[info.Name()] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		default:
			return CopyFile(path, target)
		}
	})
}

// MirrorTree makes dst an exact copy of src: files and directories present
// in dst but absent from src are removed, everything else is copied over.
// Entries named in keepNames are neither copied nor deleted, so dst-local
// files (the production wp-config.php) survive the mirror.
func MirrorTree(src, dst string, keepNames map[string]bool) error {
	if err := deleteExtras(src, dst, keepNames); err != nil {
		return err
	}
	return CopyTree(src, dst, keepNames)
}

func deleteExtras(src, dst string, keepNames map[string]bool) error {
	entries, err := os.ReadDir(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if keepNames[e.Name()] {
			continue
		}
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())

		srcInfo, err := os.Lstat(srcPath)
		if os.IsNotExist(err) {
			if err := os.RemoveAll(dstPath); err != nil {
				return fmt.Errorf("removing extra %s: %w", dstPath, err)
			}
			continue
		}
		if err != nil {
			return err
		}

		if srcInfo.IsDir() && e.IsDir() {
			if err := deleteExtras(srcPath, dstPath, keepNames); err != nil {
				return err
			}
		} else if srcInfo.IsDir() != e.IsDir() {
			// Type changed between file and directory; replace wholesale.
			if err := os.RemoveAll(dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}
