package manifest

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Manifest is the JSON document a channel endpoint serves: the latest
// version plus per-platform, per-architecture download locations.
type Manifest struct {
	Version   string                         `json:"version"`
	Downloads map[string]map[string]Artifact `json:"download_url"`
}

type Artifact struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

var hexDigest = regexp.MustCompile(`^[0-9a-fA-F]{40,64}$`)

func (m Manifest) Validate() error {
	version := strings.TrimSpace(m.Version)
	if version == "" {
		return fmt.Errorf("manifest version is empty")
	}
	// The version names directories on disk; a hostile endpoint must not
	// be able to smuggle path elements through it.
	if strings.ContainsAny(version, `/\`) || !filepath.IsLocal(version) {
		return fmt.Errorf("manifest version %q is not a safe name", m.Version)
	}
	if len(m.Downloads) == 0 {
		return fmt.Errorf("manifest %s has no downloads", m.Version)
	}
	for platform, arches := range m.Downloads {
		for arch, a := range arches {
			if strings.TrimSpace(a.URL) == "" {
				return fmt.Errorf("manifest %s: %s/%s has no url", m.Version, platform, arch)
			}
			if !hexDigest.MatchString(strings.TrimSpace(a.SHA256)) {
				return fmt.Errorf("manifest %s: %s/%s has invalid sha256 %q", m.Version, platform, arch, a.SHA256)
			}
		}
	}
	return nil
}

// Artifact returns the entry for (platform, arch) if the manifest has one.
func (m Manifest) Artifact(platform, arch string) (Artifact, bool) {
	arches, ok := m.Downloads[platform]
	if !ok {
		return Artifact{}, false
	}
	a, ok := arches[arch]
	return a, ok
}
