package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	versionsDirName  = "versions"
	extractedDirName = "extracted"
	runtimeDirName   = "runtime-archives"

	stateFileName       = "state.json"
	extractManifestName = "extraction-manifest.json"

	recordSchemaVersion = 1
)

// HarvestEntry records one successful runtime harvest for a platform.
type HarvestEntry struct {
	Dir           string `json:"dir"`
	HarvestedAt   string `json:"harvested_at"`
	FilesCopied   int    `json:"files_copied"`
	FilesExcluded int    `json:"files_excluded"`
}

// Record is the canonical per-version state file. It is the source of
// truth for idempotency decisions; directory existence is only consulted
// for legacy archives created before state files existed.
type Record struct {
	SchemaVersion int    `json:"schema_version"`
	Version       string `json:"version"`
	Channel       string `json:"channel"`
	FullVersion   string `json:"full_version"`
	DirName       string `json:"dir_name"`
	DiscoveredAt  string `json:"discovered_at"`
	Stage         string `json:"stage"`
	DownloadedAt  string `json:"downloaded_at,omitempty"`
	ExtractedAt   string `json:"extracted_at,omitempty"`
	// LauncherPath is relative to the archive root; empty when no
	// executable was located in the extracted tree.
	LauncherPath string                   `json:"launcher_path,omitempty"`
	Harvests     map[string]HarvestEntry `json:"harvests,omitempty"`
}

// Store owns the on-disk archive layout. All other components only
// read and write within directories the store allocates for them.
type Store struct {
	root string
}

func Open(root string) (*Store, error) {
	target := strings.TrimSpace(root)
	if target == "" {
		return nil, errors.New("archive root is required")
	}
	s := &Store{root: target}
	for _, dir := range []string{target, s.VersionsRoot(), s.ExtractedRoot(), s.RuntimeRoot()} {
		if err := Mkdir(dir); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Root() string          { return s.root }
func (s *Store) VersionsRoot() string  { return filepath.Join(s.root, versionsDirName) }
func (s *Store) ExtractedRoot() string { return filepath.Join(s.root, extractedDirName) }
func (s *Store) RuntimeRoot() string   { return filepath.Join(s.root, runtimeDirName) }

func (s *Store) RecordDir(rec *Record) string {
	return filepath.Join(s.VersionsRoot(), rec.DirName)
}

func (s *Store) ExtractDir(rec *Record) string {
	return filepath.Join(s.ExtractedRoot(), rec.FullVersion)
}

func (s *Store) statePath(rec *Record) string {
	return filepath.Join(s.RecordDir(rec), stateFileName)
}

// ResolveOrCreate returns the record for (version, channel), creating the
// version directory on first discovery. exists reports whether the version
// had been seen before. Canonical directories are named {version}-{channel};
// legacy timestamp-suffixed directories are recognised and adopted so old
// archives are not re-downloaded.
func (s *Store) ResolveOrCreate(version, channel string) (rec *Record, exists bool, err error) {
	version = strings.TrimSpace(version)
	channel = strings.TrimSpace(channel)
	if version == "" {
		return nil, false, errors.New("version is required")
	}
	if channel == "" {
		return nil, false, errors.New("channel is required")
	}
	// The version comes from a remote manifest; anything that could step
	// out of the versions directory must never reach filepath.Join.
	if !IsSafeName(version) {
		return nil, false, fmt.Errorf("version %q is not a safe directory name", version)
	}
	if !IsSafeName(channel) {
		return nil, false, fmt.Errorf("channel %q is not a safe directory name", channel)
	}
	full := version + "-" + channel

	dirName, found, err := s.findVersionDir(full)
	if err != nil {
		return nil, false, err
	}
	if found {
		existing := &Record{DirName: dirName}
		if err := ReadJSON(s.statePath(existing), existing); err == nil {
			existing.DirName = dirName
			return existing, true, nil
		}
		// Legacy directory without a state file: derive the stage from
		// what is on disk and persist it so the next cycle is cheap.
		derived := s.deriveRecord(dirName, version, channel, full)
		if err := s.Save(derived); err != nil {
			return nil, false, err
		}
		return derived, true, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rec = &Record{
		SchemaVersion: recordSchemaVersion,
		Version:       version,
		Channel:       channel,
		FullVersion:   full,
		DirName:       full,
		DiscoveredAt:  now,
		Stage:         StageDiscovered,
	}
	if err := Mkdir(s.RecordDir(rec)); err != nil {
		return nil, false, err
	}
	if err := s.Save(rec); err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

// IsSafeName reports whether name can be used as a single path element
// under the archive root. Separators, parent references and rooted paths
// are all rejected.
func IsSafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.IsLocal(name)
}

var legacyTimestampSuffix = regexp.MustCompile(`^[0-9]+$`)

func (s *Store) findVersionDir(full string) (string, bool, error) {
	canonical := filepath.Join(s.VersionsRoot(), full)
	if info, err := os.Stat(canonical); err == nil && info.IsDir() {
		return full, true, nil
	}

	entries, err := os.ReadDir(s.VersionsRoot())
	if err != nil {
		return "", false, fmt.Errorf("read versions directory %s: %w", s.VersionsRoot(), err)
	}
	matches := make([]string, 0, 1)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, full+"-") {
			continue
		}
		if legacyTimestampSuffix.MatchString(strings.TrimPrefix(name, full+"-")) {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return "", false, nil
	}
	sort.Strings(matches)
	return matches[0], true, nil
}

func (s *Store) deriveRecord(dirName, version, channel, full string) *Record {
	rec := &Record{
		SchemaVersion: recordSchemaVersion,
		Version:       version,
		Channel:       channel,
		FullVersion:   full,
		DirName:       dirName,
		DiscoveredAt:  time.Now().UTC().Format(time.RFC3339),
		Stage:         StageDownloaded,
	}
	if s.extractedHasContent(rec) {
		rec.Stage = StageExtracted
	}
	if dirs, _ := s.harvestDirs(rec, ""); len(dirs) > 0 {
		rec.Stage = StageHarvested
	}
	return rec
}

func (s *Store) Save(rec *Record) error {
	return WriteJSON(s.statePath(rec), rec)
}

// NeedsCatchUp reports which stages are still pending for an
// already-downloaded record on the given platform. The scheduler uses it
// to re-process partially completed versions without re-downloading.
func (s *Store) NeedsCatchUp(rec *Record, platform string) (needExtract, needHarvest bool) {
	switch rec.Stage {
	case StageDiscovered, StageDownloaded:
		return true, true
	case StageExtracted:
		return false, !s.HarvestedFor(rec, platform)
	default:
		return false, !s.HarvestedFor(rec, platform)
	}
}

// HarvestedFor reports whether a runtime harvest for (record, platform)
// already exists, consulting the state file first and falling back to a
// directory prefix scan for pre-state archives. The fallback only counts
// directories holding a runtime metadata record: partial trees from
// failed attempts do not mark a platform as harvested.
func (s *Store) HarvestedFor(rec *Record, platform string) bool {
	if _, ok := rec.Harvests[platform]; ok {
		return true
	}
	dirs, err := s.harvestDirs(rec, platform)
	if err != nil {
		return false
	}
	for _, dir := range dirs {
		meta := filepath.Join(s.RuntimeRoot(), dir, "runtime-metadata.json")
		if _, statErr := os.Stat(meta); statErr == nil {
			return true
		}
	}
	return false
}

func (s *Store) harvestDirs(rec *Record, platform string) ([]string, error) {
	entries, err := os.ReadDir(s.RuntimeRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runtime archives %s: %w", s.RuntimeRoot(), err)
	}
	prefix := rec.FullVersion + "-"
	if platform != "" {
		prefix = rec.FullVersion + "-" + platform + "-runtime-"
	}
	out := make([]string, 0, 1)
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// NewRuntimeDir allocates a fresh timestamped harvest destination. The
// timestamp keeps retried harvests from colliding with partial trees left
// by earlier failed attempts.
func (s *Store) NewRuntimeDir(rec *Record, platform string) string {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join(s.RuntimeRoot(), rec.FullVersion+"-"+platform+"-runtime-"+stamp)
}

func (s *Store) MarkDownloaded(rec *Record) error {
	if rec.Stage != StageDiscovered {
		return nil
	}
	if err := TransitionStage(rec, StageDownloaded); err != nil {
		return err
	}
	rec.DownloadedAt = time.Now().UTC().Format(time.RFC3339)
	return s.Save(rec)
}

func (s *Store) MarkExtracted(rec *Record, launcherPath string) error {
	if err := TransitionStage(rec, StageExtracted); err != nil {
		return err
	}
	rec.ExtractedAt = time.Now().UTC().Format(time.RFC3339)
	if rel, err := filepath.Rel(s.root, launcherPath); err == nil && launcherPath != "" {
		rec.LauncherPath = rel
	}
	return s.Save(rec)
}

// RecordHarvest persists a successful harvest. Failed harvests are never
// recorded, so the next cycle retries them with a fresh destination.
func (s *Store) RecordHarvest(rec *Record, platform string, entry HarvestEntry) error {
	if rec.Harvests == nil {
		rec.Harvests = make(map[string]HarvestEntry, 1)
	}
	rec.Harvests[platform] = entry
	if rec.Stage == StageExtracted {
		if err := TransitionStage(rec, StageHarvested); err != nil {
			return err
		}
	}
	return s.Save(rec)
}

func (s *Store) extractedHasContent(rec *Record) bool {
	entries, err := os.ReadDir(s.ExtractDir(rec))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name() != extractManifestName {
			return true
		}
	}
	return false
}

// ExtractedHasContent reports whether the extraction destination already
// holds non-metadata files; extraction is skipped when it does.
func (s *Store) ExtractedHasContent(rec *Record) bool {
	return s.extractedHasContent(rec)
}

// List returns all known records sorted by directory name.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.VersionsRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("read versions directory %s: %w", s.VersionsRoot(), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Record, 0, len(names))
	for _, name := range names {
		rec := Record{DirName: name}
		if err := ReadJSON(s.statePath(&rec), &rec); err != nil {
			// Pre-state directory: derive what we can from the name.
			version, channel := splitFullVersion(name)
			rec = *s.deriveRecord(name, version, channel, strings.TrimSuffix(name, legacySuffix(name)))
		}
		rec.DirName = name
		out = append(out, rec)
	}
	return out, nil
}

func legacySuffix(name string) string {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return ""
	}
	if legacyTimestampSuffix.MatchString(name[i+1:]) {
		return name[i:]
	}
	return ""
}

func splitFullVersion(name string) (version, channel string) {
	name = strings.TrimSuffix(name, legacySuffix(name))
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}
