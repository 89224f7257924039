package harvest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyStats accounts for every entry visited: copied + excluded covers
// the top level of each directory, nested counts propagate by summation.
// An excluded directory counts once, not per descendant.
type CopyStats struct {
	Copied   int `json:"files_copied"`
	Excluded int `json:"files_excluded"`
}

func (s *CopyStats) add(other CopyStats) {
	s.Copied += other.Copied
	s.Excluded += other.Excluded
}

// CopyFiltered recursively copies srcDir into dstDir, applying IsExcluded
// at every entry. Entries that fail to copy for other reasons (permission,
// transient I/O) are counted as excluded and do not abort the copy.
func CopyFiltered(srcDir, dstDir string) (CopyStats, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return CopyStats{}, fmt.Errorf("create harvest destination %s: %w", dstDir, err)
	}
	return copyDir(srcDir, dstDir, "")
}

func copyDir(srcDir, dstDir, rel string) (CopyStats, error) {
	var stats CopyStats
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return stats, fmt.Errorf("read directory %s: %w", srcDir, err)
	}
	for _, e := range entries {
		entryRel := filepath.Join(rel, e.Name())
		if IsExcluded(e.Name(), entryRel) {
			stats.Excluded++
			continue
		}
		srcPath := filepath.Join(srcDir, e.Name())
		dstPath := filepath.Join(dstDir, e.Name())

		if e.IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				stats.Excluded++
				continue
			}
			nested, err := copyDir(srcPath, dstPath, entryRel)
			stats.add(nested)
			if err != nil {
				stats.Excluded++
			}
			continue
		}
		if !e.Type().IsRegular() {
			stats.Excluded++
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			stats.Excluded++
			continue
		}
		stats.Copied++
	}
	return stats, nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
