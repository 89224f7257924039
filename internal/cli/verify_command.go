package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/manifest"
	"launcher-archiver/internal/store"
)

type verifyArtifact struct {
	Version  string `json:"version"`
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

type verifyResult struct {
	Checked    int              `json:"checked"`
	Mismatches int              `json:"mismatches"`
	Artifacts  []verifyArtifact `json:"artifacts"`
}

// runVerify re-hashes every retained artifact against the sha256
// recorded next to it at download time. Offline; nothing is deleted.
func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "config file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(strings.TrimSpace(*configPath))
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.ArchiveRoot)
	if err != nil {
		return err
	}
	records, err := st.List()
	if err != nil {
		return err
	}

	var res verifyResult
	for i := range records {
		rec := &records[i]
		recordDir := st.RecordDir(rec)
		entries, err := os.ReadDir(recordDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			artifactDir := filepath.Join(recordDir, e.Name())
			expected, artifactPath, err := recordedArtifact(artifactDir)
			if err != nil {
				continue
			}
			check := verifyArtifact{
				Version:  rec.FullVersion,
				Path:     artifactPath,
				Expected: expected,
			}
			actual, err := manifest.HashFile(artifactPath)
			switch {
			case err != nil:
				check.Error = err.Error()
			case strings.EqualFold(actual, expected):
				check.Actual = actual
				check.OK = true
			default:
				check.Actual = actual
			}
			if !check.OK {
				res.Mismatches++
			}
			res.Checked++
			res.Artifacts = append(res.Artifacts, check)
		}
	}

	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		for _, a := range res.Artifacts {
			if a.OK {
				fmt.Printf("ok    %s\n", a.Path)
				continue
			}
			if a.Error != "" {
				fmt.Printf("error %s (%s)\n", a.Path, a.Error)
			} else {
				fmt.Printf("BAD   %s (expected %s, got %s)\n", a.Path, a.Expected, a.Actual)
			}
		}
		fmt.Printf("verified %d artifact(s), %d mismatch(es)\n", res.Checked, res.Mismatches)
	}
	if res.Mismatches > 0 {
		return errors.New("artifact verification failed")
	}
	return nil
}

// recordedArtifact reads sha256.txt from an artifact directory and
// locates the artifact file next to it (anything that is not one of
// the bookkeeping text files).
func recordedArtifact(dir string) (expectedHex, artifactPath string, err error) {
	raw, err := os.ReadFile(filepath.Join(dir, "sha256.txt"))
	if err != nil {
		return "", "", err
	}
	expectedHex = strings.TrimSpace(string(raw))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch e.Name() {
		case "sha256.txt", "url.txt":
			continue
		}
		return expectedHex, filepath.Join(dir, e.Name()), nil
	}
	return "", "", fmt.Errorf("no artifact file in %s", dir)
}
