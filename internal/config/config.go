package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath   = "config/launcher-archiver.yaml"
	DefaultHarvestWait  = 5 * time.Minute
	DefaultPollInterval = 30 * time.Minute

	envPrefix = "LAUNCHER_ARCHIVER_"
)

// Channel is one named release track with its own manifest endpoint.
type Channel struct {
	Name        string `yaml:"name"`
	ManifestURL string `yaml:"manifest_url"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
}

func (c Channel) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Git controls the publish stage.
type Git struct {
	Enabled bool   `yaml:"enabled"`
	Remote  string `yaml:"remote,omitempty"`
	Branch  string `yaml:"branch,omitempty"`
	Push    bool   `yaml:"push"`
}

// Notify posts a JSON cycle summary to a webhook after each cycle.
type Notify struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty"`
}

// Config is built once at startup and passed into every component; no
// component reads process environment after this point.
type Config struct {
	ArchiveRoot string    `yaml:"archive_root"`
	Channels    []Channel `yaml:"channels"`

	Extract      bool          `yaml:"extract"`
	Execute      bool          `yaml:"execute"`
	HarvestWait  time.Duration `yaml:"harvest_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// LauncherNameFragments are case-insensitive substrings used to find
	// the runtime executable inside an extracted archive.
	LauncherNameFragments []string `yaml:"launcher_name_fragments,omitempty"`

	// CandidateDataDirs are probed in order after the launcher ran; the
	// first existing one is the harvest source. Relative entries resolve
	// against the launcher's working directory.
	CandidateDataDirs []string `yaml:"candidate_data_dirs,omitempty"`

	Git Git `yaml:"git"`

	Notify Notify `yaml:"notify"`

	// StatusAddr, when set, serves /healthz, /status and /metrics in
	// watch mode (for example "127.0.0.1:9614").
	StatusAddr string `yaml:"status_addr,omitempty"`
}

func Default() Config {
	return Config{
		ArchiveRoot: "archive",
		Channels: []Channel{
			{Name: "release", ManifestURL: "https://updates.example.com/launcher/release/manifest.json"},
		},
		Extract:               true,
		Execute:               true,
		HarvestWait:           DefaultHarvestWait,
		PollInterval:          DefaultPollInterval,
		LauncherNameFragments: []string{"launcher"},
		CandidateDataDirs:     []string{"appdata", "data", "userdata"},
		Git:                   Git{Enabled: true, Remote: "origin", Branch: "", Push: true},
	}
}

// Load reads the YAML file at path, applies LAUNCHER_ARCHIVER_* overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(envPrefix + "ARCHIVE_ROOT")); v != "" {
		c.ArchiveRoot = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "STATUS_ADDR")); v != "" {
		c.StatusAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(envPrefix + "NOTIFY_URL")); v != "" {
		c.Notify.URL = v
	}
	for key, target := range map[string]*bool{
		"EXTRACT":  &c.Extract,
		"EXECUTE":  &c.Execute,
		"GIT":      &c.Git.Enabled,
		"GIT_PUSH": &c.Git.Push,
		"NOTIFY":   &c.Notify.Enabled,
	} {
		raw := strings.TrimSpace(os.Getenv(envPrefix + key))
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s%s value %q", envPrefix, key, raw)
		}
		*target = parsed
	}
	for key, target := range map[string]*time.Duration{
		"HARVEST_WAIT":  &c.HarvestWait,
		"POLL_INTERVAL": &c.PollInterval,
	} {
		raw := strings.TrimSpace(os.Getenv(envPrefix + key))
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s%s value %q", envPrefix, key, raw)
		}
		*target = parsed
	}
	// Per-channel enable flags: LAUNCHER_ARCHIVER_CHANNEL_<NAME>=false.
	for i := range c.Channels {
		key := envPrefix + "CHANNEL_" + strings.ToUpper(c.Channels[i].Name)
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s value %q", key, raw)
		}
		enabled := parsed
		c.Channels[i].Enabled = &enabled
	}
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ArchiveRoot) == "" {
		return errors.New("archive_root is required")
	}
	if len(c.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			return errors.New("channel name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate channel %q", name)
		}
		seen[name] = true
		if !ch.IsEnabled() {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(ch.ManifestURL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("channel %q: manifest_url %q is not a valid URL", name, ch.ManifestURL)
		}
	}
	if c.HarvestWait <= 0 {
		return errors.New("harvest_wait must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.Notify.Enabled {
		u, err := url.Parse(strings.TrimSpace(c.Notify.URL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("notify.url %q is not a valid URL", c.Notify.URL)
		}
	}
	return nil
}

// EnabledChannels returns channels in configured order with disabled ones
// filtered out.
func (c Config) EnabledChannels() []Channel {
	out := make([]Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.IsEnabled() {
			out = append(out, ch)
		}
	}
	return out
}

// WriteDefault writes a commented default config to path. Refuses to
// overwrite unless force is set.
func WriteDefault(path string, force bool) (created bool, err error) {
	if _, statErr := os.Stat(path); statErr == nil && !force {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, fmt.Errorf("write config %s: %w", path, err)
	}
	return true, nil
}

const defaultConfigYAML = `# launcher-archiver configuration
archive_root: archive

# Point manifest_url at the vendor's version manifest for each track.
channels:
  - name: release
    manifest_url: "https://updates.example.com/launcher/release/manifest.json"
  - name: stage
    manifest_url: "https://updates.example.com/launcher/stage/manifest.json"
    enabled: false

# Stage toggles.
extract: true
execute: true

# How long the launcher runs before its data directory is harvested.
harvest_wait: 5m
poll_interval: 30m

launcher_name_fragments: [launcher]
candidate_data_dirs: [appdata, data, userdata]

git:
  enabled: true
  remote: origin
  push: true

# Optional webhook receiving a JSON summary after every cycle.
notify:
  enabled: false
  # url: "https://hooks.example.com/launcher-archiver"

# Uncomment to expose /healthz, /status, /metrics in watch mode.
# status_addr: "127.0.0.1:9614"
`
