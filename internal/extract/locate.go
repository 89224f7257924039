package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocateExecutable walks rootDir depth-first in directory-entry order and
// returns the first regular file whose name contains any of the candidate
// fragments, case-insensitively. The file is granted execute permission
// if it lacks one. A miss returns ("", nil): it is a normal outcome and
// the caller skips the harvest stage.
func LocateExecutable(rootDir string, candidateFragments []string) (string, error) {
	fragments := make([]string, 0, len(candidateFragments))
	for _, f := range candidateFragments {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			fragments = append(fragments, f)
		}
	}
	if len(fragments) == 0 {
		return "", nil
	}

	found, err := searchDir(rootDir, fragments)
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", nil
	}
	if err := ensureExecutable(found); err != nil {
		return "", err
	}
	return found, nil
}

func searchDir(dir string, fragments []string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read directory %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			found, err := searchDir(path, fragments)
			if err != nil {
				return "", err
			}
			if found != "" {
				return found, nil
			}
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		name := strings.ToLower(e.Name())
		for _, frag := range fragments {
			if strings.Contains(name, frag) {
				return path, nil
			}
		}
	}
	return "", nil
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o755); err != nil {
		return fmt.Errorf("grant execute permission on %s: %w", path, err)
	}
	return nil
}
