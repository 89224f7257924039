package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/extract"
	"launcher-archiver/internal/gitrepo"
	"launcher-archiver/internal/harvest"
	"launcher-archiver/internal/manifest"
	"launcher-archiver/internal/store"
)

// Options wires the pipeline. Publisher may be nil when git automation is
// disabled; Metrics may be nil outside watch mode.
type Options struct {
	Config    config.Config
	Store     *store.Store
	Fetcher   *manifest.Client
	Publisher *gitrepo.Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	// Platform overrides the host platform key ("linux-amd64"); tests
	// use it to pin fixtures.
	Platform string
}

type Scheduler struct {
	cfg      config.Config
	store    *store.Store
	fetcher  *manifest.Client
	pub      *gitrepo.Publisher
	metrics  *Metrics
	logger   *slog.Logger
	platform string
}

// CycleReport summarises one pass over all enabled channels.
type CycleReport struct {
	CycleID   string          `json:"cycle_id"`
	StartedAt string          `json:"started_at"`
	Channels  []ChannelReport `json:"channels"`
	Failures  int             `json:"failures"`
}

type ChannelReport struct {
	Channel           string `json:"channel"`
	Version           string `json:"version,omitempty"`
	New               bool   `json:"new"`
	ArtifactsVerified int    `json:"artifacts_verified,omitempty"`
	ArtifactsFailed   int    `json:"artifacts_failed,omitempty"`
	Extracted         bool   `json:"extracted,omitempty"`
	Harvested         bool   `json:"harvested,omitempty"`
	Committed         bool   `json:"committed,omitempty"`
	Pushed            bool   `json:"pushed,omitempty"`
	Error             string `json:"error,omitempty"`
}

func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	platform := strings.TrimSpace(opts.Platform)
	if platform == "" {
		platform = runtime.GOOS + "-" + runtime.GOARCH
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = manifest.NewClient()
	}
	return &Scheduler{
		cfg:      opts.Config,
		store:    opts.Store,
		fetcher:  fetcher,
		pub:      opts.Publisher,
		metrics:  opts.Metrics,
		logger:   logger,
		platform: platform,
	}
}

// RunCycle processes every enabled channel once, in configured order.
// A channel failure is logged and counted; it never stops the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	report := CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: start.UTC().Format(time.RFC3339),
	}
	logger := s.logger.With("cycle", report.CycleID)

	for _, ch := range s.cfg.EnabledChannels() {
		if ctx.Err() != nil {
			break
		}
		chReport, err := s.processChannel(ctx, logger, ch, report.CycleID)
		if err != nil {
			chReport.Error = err.Error()
			report.Failures++
			s.metrics.channelFailed(ch.Name)
			logger.Error("channel cycle failed", "channel", ch.Name, "err", err)
		}
		report.Channels = append(report.Channels, chReport)
	}

	s.metrics.cycleDone(time.Since(start).Seconds())
	logger.Info("cycle finished",
		"channels", len(report.Channels),
		"failures", report.Failures,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)

	if s.cfg.Notify.Enabled {
		if err := s.notify(ctx, report); err != nil {
			logger.Warn("cycle notification failed", "url", s.cfg.Notify.URL, "err", err)
		}
	}
	return report
}

// notify posts the cycle report to the configured webhook. Failures are
// warnings; archiving never depends on the notification channel.
func (s *Scheduler) notify(ctx context.Context, report CycleReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Notify.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Watch runs cycles on the poll interval until ctx is cancelled. The
// first cycle runs immediately.
func (s *Scheduler) Watch(ctx context.Context, interval time.Duration) error {
	s.RunCycle(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

func (s *Scheduler) processChannel(ctx context.Context, logger *slog.Logger, ch config.Channel, cycleID string) (ChannelReport, error) {
	report := ChannelReport{Channel: ch.Name}
	logger = logger.With("channel", ch.Name)

	m, err := s.fetcher.FetchManifest(ctx, ch.ManifestURL)
	if err != nil {
		return report, err
	}
	if err := m.Validate(); err != nil {
		return report, fmt.Errorf("%w: %v", manifest.ErrParse, err)
	}
	report.Version = m.Version

	rec, exists, err := s.store.ResolveOrCreate(m.Version, ch.Name)
	if err != nil {
		return report, err
	}
	report.New = !exists
	logger = logger.With("version", rec.FullVersion)
	if !exists {
		logger.Info("discovered new version")
	}

	changed := make(map[string]bool)

	if rec.Stage == store.StageDiscovered {
		verified, failed := s.downloadArtifacts(ctx, logger, rec, m)
		report.ArtifactsVerified = verified
		report.ArtifactsFailed = failed
		if verified > 0 {
			if err := s.store.MarkDownloaded(rec); err != nil {
				return report, err
			}
			changed[s.relPath(s.store.RecordDir(rec))] = true
		} else if failed > 0 {
			// Nothing verified; leave the record pending so the next
			// cycle retries the downloads.
			return report, fmt.Errorf("%w: no artifact for %s survived verification", manifest.ErrDownload, rec.FullVersion)
		}
	}

	needExtract, needHarvest := s.store.NeedsCatchUp(rec, s.platform)

	if s.cfg.Extract && needExtract && rec.Stage == store.StageDownloaded {
		extracted, err := s.extractForPlatform(logger, rec)
		if err != nil {
			logger.Error("extraction failed; will retry next cycle", "err", err)
		} else if extracted {
			report.Extracted = true
			changed[s.relPath(s.store.ExtractDir(rec))] = true
		}
		_, needHarvest = s.store.NeedsCatchUp(rec, s.platform)
	}

	if s.cfg.Execute && needHarvest && rec.Stage != store.StageDiscovered && rec.Stage != store.StageDownloaded {
		harvested, harvestDir, err := s.harvestForPlatform(ctx, logger, rec)
		if err != nil {
			var crash *harvest.CrashError
			if errors.As(err, &crash) {
				s.metrics.harvest("crashed")
				logger.Error("launcher crashed; harvest abandoned for this cycle", "err", err)
			} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			} else {
				s.metrics.harvest("failed")
				logger.Error("harvest failed; will retry next cycle", "err", err)
			}
		}
		if harvestDir != "" {
			changed[s.relPath(harvestDir)] = true
		}
		report.Harvested = harvested
	}

	if s.pub != nil && len(changed) > 0 {
		paths := make([]string, 0, len(changed))
		for p := range changed {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		message := fmt.Sprintf("archive %s (discovered %s, cycle %s)", rec.FullVersion, rec.DiscoveredAt, cycleID)
		pubResult, err := s.pub.Publish(ctx, paths, message)
		if err != nil {
			s.metrics.publish("failed")
			return report, fmt.Errorf("publish %s: %w", rec.FullVersion, err)
		}
		report.Committed = pubResult.Committed
		report.Pushed = pubResult.Pushed
		switch {
		case pubResult.Pushed:
			s.metrics.publish("pushed")
		case pubResult.Committed:
			s.metrics.publish("committed")
		default:
			s.metrics.publish("noop")
		}
	}

	return report, nil
}

// downloadArtifacts fetches and verifies every artifact the manifest
// lists, for all platforms. Failed or mismatched artifacts are skipped;
// the counts decide whether the record advances to downloaded.
func (s *Scheduler) downloadArtifacts(ctx context.Context, logger *slog.Logger, rec *store.Record, m manifest.Manifest) (verified, failed int) {
	recordDir := s.store.RecordDir(rec)

	type artifactInfo struct {
		Platform string `json:"platform"`
		Arch     string `json:"arch"`
		URL      string `json:"url"`
		SHA256   string `json:"sha256"`
		File     string `json:"file"`
	}
	downloaded := make([]artifactInfo, 0, 4)

	platforms := make([]string, 0, len(m.Downloads))
	for p := range m.Downloads {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	for _, platform := range platforms {
		arches := make([]string, 0, len(m.Downloads[platform]))
		for a := range m.Downloads[platform] {
			arches = append(arches, a)
		}
		sort.Strings(arches)

		for _, arch := range arches {
			artifact := m.Downloads[platform][arch]
			destDir := filepath.Join(recordDir, platform+"-"+arch)
			destPath := filepath.Join(destDir, artifactFileName(artifact.URL))

			if err := s.fetcher.DownloadArtifact(ctx, artifact.URL, destPath); err != nil {
				failed++
				s.metrics.download("failed")
				logger.Error("artifact download failed", "platform", platform, "arch", arch, "err", err)
				continue
			}
			if _, err := manifest.VerifyIntegrity(destPath, artifact.SHA256); err != nil {
				failed++
				s.metrics.download("checksum_mismatch")
				logger.Error("artifact checksum mismatch; file deleted", "platform", platform, "arch", arch, "err", err)
				continue
			}
			verified++
			s.metrics.download("verified")

			if err := store.WriteBytes(filepath.Join(destDir, "url.txt"), []byte(artifact.URL+"\n")); err != nil {
				logger.Warn("write url.txt failed", "err", err)
			}
			if err := store.WriteBytes(filepath.Join(destDir, "sha256.txt"), []byte(strings.ToLower(artifact.SHA256)+"\n")); err != nil {
				logger.Warn("write sha256.txt failed", "err", err)
			}
			downloaded = append(downloaded, artifactInfo{
				Platform: platform,
				Arch:     arch,
				URL:      artifact.URL,
				SHA256:   strings.ToLower(artifact.SHA256),
				File:     artifactFileName(artifact.URL),
			})
			logger.Info("artifact verified", "platform", platform, "arch", arch, "file", artifactFileName(artifact.URL))
		}
	}

	if verified > 0 {
		now := time.Now().UTC()
		if err := store.WriteJSON(filepath.Join(recordDir, "launcher.json"), m); err != nil {
			logger.Warn("write launcher.json failed", "err", err)
		}
		meta := struct {
			Version      string         `json:"version"`
			Channel      string         `json:"channel"`
			DiscoveredAt string         `json:"discovered_at"`
			Artifacts    []artifactInfo `json:"artifacts"`
		}{rec.Version, rec.Channel, rec.DiscoveredAt, downloaded}
		if err := store.WriteJSON(filepath.Join(recordDir, "download-metadata.json"), meta); err != nil {
			logger.Warn("write download-metadata.json failed", "err", err)
		}
		if err := store.WriteBytes(filepath.Join(recordDir, "download-timestamp.txt"), []byte(strconv.FormatInt(now.Unix(), 10)+"\n")); err != nil {
			logger.Warn("write download-timestamp.txt failed", "err", err)
		}
		if err := store.WriteBytes(filepath.Join(recordDir, "download-date.txt"), []byte(now.Format(time.RFC3339)+"\n")); err != nil {
			logger.Warn("write download-date.txt failed", "err", err)
		}
	}
	return verified, failed
}

// extractForPlatform expands the host platform's archive and records the
// located launcher. A missing platform archive is a normal outcome.
func (s *Scheduler) extractForPlatform(logger *slog.Logger, rec *store.Record) (bool, error) {
	archivePath := s.findPlatformArchive(rec)
	if archivePath == "" {
		logger.Info("no archive for host platform; extraction skipped", "platform", s.platform)
		return false, nil
	}

	destDir := filepath.Join(s.store.ExtractDir(rec), s.platform+"-launcher")
	if !s.store.ExtractedHasContent(rec) {
		if err := extract.Extract(archivePath, destDir); err != nil {
			return false, err
		}
	}

	launcherPath, err := extract.LocateExecutable(destDir, s.cfg.LauncherNameFragments)
	if err != nil {
		return false, err
	}
	if launcherPath == "" {
		logger.Info("no launcher executable found in extracted archive; harvest will be skipped")
	}

	manifestPath := filepath.Join(s.store.ExtractDir(rec), "extraction-manifest.json")
	extMeta := struct {
		Version     string `json:"version"`
		Channel     string `json:"channel"`
		Archive     string `json:"archive"`
		Launcher    string `json:"launcher,omitempty"`
		ExtractedAt string `json:"extracted_at"`
	}{rec.Version, rec.Channel, filepath.Base(archivePath), s.relPath(launcherPath), time.Now().UTC().Format(time.RFC3339)}
	if err := store.WriteJSON(manifestPath, extMeta); err != nil {
		return false, err
	}

	if err := s.store.MarkExtracted(rec, launcherPath); err != nil {
		return false, err
	}
	logger.Info("extracted", "archive", filepath.Base(archivePath), "launcher", s.relPath(launcherPath))
	return true, nil
}

func (s *Scheduler) harvestForPlatform(ctx context.Context, logger *slog.Logger, rec *store.Record) (bool, string, error) {
	if strings.TrimSpace(rec.LauncherPath) == "" {
		logger.Info("no launcher executable recorded; harvest skipped")
		return false, "", nil
	}
	launcherPath := filepath.Join(s.store.Root(), rec.LauncherPath)
	if _, err := os.Stat(launcherPath); err != nil {
		return false, "", fmt.Errorf("launcher executable missing: %w", err)
	}

	destDir := s.store.NewRuntimeDir(rec, s.platform)
	if err := store.Mkdir(destDir); err != nil {
		return false, "", err
	}

	result, err := harvest.RunAndHarvest(ctx, harvest.Options{
		ExecutablePath:    launcherPath,
		Wait:              s.cfg.HarvestWait,
		CandidateDataDirs: s.cfg.CandidateDataDirs,
		DestDir:           destDir,
		ErrorLogPath:      filepath.Join(destDir, "launcher-stderr.log"),
		Version:           rec.Version,
		Channel:           rec.Channel,
		Platform:          s.platform,
		Logger:            logger,
	})
	if err != nil {
		return false, destDir, err
	}
	if !result.Archived {
		logger.Info("launcher produced no data directory; harvest skipped this cycle")
		return false, destDir, nil
	}

	entry := store.HarvestEntry{
		Dir:           filepath.Base(destDir),
		HarvestedAt:   time.Now().UTC().Format(time.RFC3339),
		FilesCopied:   result.Stats.Copied,
		FilesExcluded: result.Stats.Excluded,
	}
	if err := s.store.RecordHarvest(rec, s.platform, entry); err != nil {
		return false, destDir, err
	}
	s.metrics.harvest("archived")
	logger.Info("runtime harvested",
		"data_dir", result.DataDir,
		"files_copied", result.Stats.Copied,
		"files_excluded", result.Stats.Excluded,
	)
	return true, destDir, nil
}

var archiveExtensions = []string{".zip", ".tar.gz", ".tgz"}

func (s *Scheduler) findPlatformArchive(rec *store.Record) string {
	dir := filepath.Join(s.store.RecordDir(rec), s.platform)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		for _, ext := range archiveExtensions {
			if strings.HasSuffix(name, ext) {
				return filepath.Join(dir, e.Name())
			}
		}
	}
	return ""
}

func (s *Scheduler) relPath(abs string) string {
	if abs == "" {
		return ""
	}
	rel, err := filepath.Rel(s.store.Root(), abs)
	if err != nil {
		return abs
	}
	return rel
}

func artifactFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || strings.TrimSpace(path.Base(u.Path)) == "" || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "artifact.bin"
	}
	return path.Base(u.Path)
}
