package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"launcher-archiver/internal/store"
)

const (
	// DefaultGracePeriod is how long the launcher gets to prove it can
	// stay alive before the harvest proceeds.
	DefaultGracePeriod = 2 * time.Second

	terminateTimeout = 2 * time.Second

	MetadataFileName = "runtime-metadata.json"
)

// Options configures one bounded launcher execution.
type Options struct {
	ExecutablePath string
	Wait           time.Duration
	GracePeriod    time.Duration
	// CandidateDataDirs are probed in order after the wait; relative
	// entries resolve against the launcher's working directory.
	CandidateDataDirs []string
	DestDir           string
	// ErrorLogPath captures the launcher's stderr for diagnostics.
	ErrorLogPath string

	Version  string
	Channel  string
	Platform string

	Logger *slog.Logger
}

// Result reports a harvest outcome. Archived=false without an error is
// normal: the launcher produced no data directory this time.
type Result struct {
	Archived     bool
	DataDir      string
	Stats        CopyStats
	MetadataPath string
}

// CrashError means the launcher died within the grace period. Not retried
// within the cycle.
type CrashError struct {
	Err     error
	LogTail string
}

func (e *CrashError) Error() string {
	msg := "launcher exited cleanly within grace period"
	if e.Err != nil {
		msg = fmt.Sprintf("launcher crashed during grace period: %v", e.Err)
	}
	if e.LogTail != "" {
		msg += "\n" + e.LogTail
	}
	return msg
}

func (e *CrashError) Unwrap() error { return e.Err }

type metadataRecord struct {
	Version       string `json:"version"`
	Channel       string `json:"channel"`
	Platform      string `json:"platform"`
	Timestamp     string `json:"timestamp"`
	Launcher      string `json:"launcher"`
	DataDir       string `json:"data_dir"`
	FilesCopied   int    `json:"files_copied"`
	FilesExcluded int    `json:"files_excluded"`
	SafetyNote    string `json:"safety_note"`
}

const safetyNote = "sensitive entries (cookies, credentials, sessions, profiles) were excluded during copy"

// RunAndHarvest launches the extracted executable, waits for it to
// populate its application-data directory, copies that directory through
// the exclusion filter and terminates the child. Termination runs on
// every exit path, including copy failures and context cancellation.
func RunAndHarvest(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.ExecutablePath) == "" {
		return Result{}, fmt.Errorf("executable path is required")
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	workDir := filepath.Dir(opts.ExecutablePath)

	cmd := exec.Command(opts.ExecutablePath)
	cmd.Dir = workDir

	var errLog *os.File
	if strings.TrimSpace(opts.ErrorLogPath) != "" {
		f, err := os.Create(opts.ErrorLogPath)
		if err != nil {
			return Result{}, fmt.Errorf("create launcher error log %s: %w", opts.ErrorLogPath, err)
		}
		errLog = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if errLog != nil {
			_ = errLog.Close()
		}
		return Result{}, fmt.Errorf("start launcher %s: %w", opts.ExecutablePath, err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	exited := false
	defer func() {
		if errLog != nil {
			_ = errLog.Close()
		}
		if exited {
			return
		}
		terminate(cmd, waitCh, logger)
	}()

	// Grace period: a launcher that dies this fast crashed.
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case err := <-waitCh:
		exited = true
		if errLog != nil {
			_ = errLog.Close()
			errLog = nil
		}
		return Result{}, &CrashError{Err: err, LogTail: logTail(opts.ErrorLogPath)}
	case <-time.After(grace):
	}

	// Observation window. If the launcher exits on its own we wait out
	// the rest of the window; whatever it wrote is still harvestable.
	waitStart := time.Now()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case err := <-waitCh:
		exited = true
		logger.Info("launcher exited before observation window elapsed", "err", err)
		if remaining := opts.Wait - time.Since(waitStart); remaining > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(remaining):
			}
		}
	case <-time.After(opts.Wait):
	}

	dataDir := probeDataDirs(workDir, opts.CandidateDataDirs)
	if dataDir == "" {
		return Result{}, nil
	}

	stats, err := CopyFiltered(dataDir, filepath.Join(opts.DestDir, "appdata"))
	if err != nil {
		return Result{}, fmt.Errorf("harvest copy from %s: %w", dataDir, err)
	}

	metaPath := filepath.Join(opts.DestDir, MetadataFileName)
	meta := metadataRecord{
		Version:       opts.Version,
		Channel:       opts.Channel,
		Platform:      opts.Platform,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Launcher:      opts.ExecutablePath,
		DataDir:       dataDir,
		FilesCopied:   stats.Copied,
		FilesExcluded: stats.Excluded,
		SafetyNote:    safetyNote,
	}
	if err := store.WriteJSON(metaPath, meta); err != nil {
		return Result{}, err
	}

	return Result{
		Archived:     true,
		DataDir:      dataDir,
		Stats:        stats,
		MetadataPath: metaPath,
	}, nil
}

// terminate escalates graceful to forced. Failures are warnings, never
// errors: the harvest result is already decided by the time we get here.
func terminate(cmd *exec.Cmd, waitCh <-chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Warn("graceful terminate failed", "pid", cmd.Process.Pid, "err", err)
	}
	select {
	case <-waitCh:
		return
	case <-time.After(terminateTimeout):
	}
	if err := cmd.Process.Kill(); err != nil {
		logger.Warn("force kill failed", "pid", cmd.Process.Pid, "err", err)
		return
	}
	<-waitCh
}

func probeDataDirs(workDir string, candidates []string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		path := c
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, c)
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
	}
	return ""
}

func logTail(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	const maxTail = 2048
	if len(data) > maxTail {
		data = data[len(data)-maxTail:]
	}
	return strings.TrimSpace(string(data))
}
