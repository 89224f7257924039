package harvest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeLauncher(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script launchers require a unix-like OS")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "launcher")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunAndHarvestArchivesFilteredData(t *testing.T) {
	launcher := writeLauncher(t, `#!/bin/sh
mkdir -p appdata
echo '{}' > appdata/settings.json
echo secret > appdata/Cookies
sleep 10
`)
	dest := t.TempDir()

	res, err := RunAndHarvest(context.Background(), Options{
		ExecutablePath:    launcher,
		Wait:              300 * time.Millisecond,
		GracePeriod:       150 * time.Millisecond,
		CandidateDataDirs: []string{"appdata"},
		DestDir:           dest,
		ErrorLogPath:      filepath.Join(dest, "stderr.log"),
		Version:           "1.0.0",
		Channel:           "release",
		Platform:          "linux-amd64",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Archived {
		t.Fatal("expected an archived harvest")
	}
	if res.Stats.Copied != 1 || res.Stats.Excluded != 1 {
		t.Fatalf("stats copied=%d excluded=%d, want 1/1", res.Stats.Copied, res.Stats.Excluded)
	}
	if _, err := os.Stat(filepath.Join(dest, "appdata", "settings.json")); err != nil {
		t.Fatal("settings.json missing from harvest")
	}
	if _, err := os.Stat(filepath.Join(dest, "appdata", "Cookies")); !os.IsNotExist(err) {
		t.Fatal("Cookies leaked into harvest")
	}
	if _, err := os.Stat(res.MetadataPath); err != nil {
		t.Fatal("runtime metadata missing")
	}
}

func TestRunAndHarvestCrashDuringGrace(t *testing.T) {
	launcher := writeLauncher(t, `#!/bin/sh
echo "boom: missing display" >&2
exit 3
`)
	dest := t.TempDir()

	_, err := RunAndHarvest(context.Background(), Options{
		ExecutablePath: launcher,
		Wait:           200 * time.Millisecond,
		GracePeriod:    500 * time.Millisecond,
		DestDir:        dest,
		ErrorLogPath:   filepath.Join(dest, "stderr.log"),
	})
	var crash *CrashError
	if !errors.As(err, &crash) {
		t.Fatalf("expected CrashError, got %v", err)
	}
	if !strings.Contains(crash.LogTail, "boom") {
		t.Fatalf("crash log tail missing stderr: %q", crash.LogTail)
	}
}

func TestRunAndHarvestCleanExitDuringGrace(t *testing.T) {
	// Exit status 0 inside the grace period is still too fast to be a
	// real run, but the message must not pretend there was an error.
	launcher := writeLauncher(t, `#!/bin/sh
exit 0
`)
	dest := t.TempDir()

	_, err := RunAndHarvest(context.Background(), Options{
		ExecutablePath: launcher,
		Wait:           200 * time.Millisecond,
		GracePeriod:    500 * time.Millisecond,
		DestDir:        dest,
	})
	var crash *CrashError
	if !errors.As(err, &crash) {
		t.Fatalf("expected CrashError, got %v", err)
	}
	if crash.Err != nil {
		t.Fatalf("clean exit should carry no wrapped error, got %v", crash.Err)
	}
	if !strings.Contains(err.Error(), "exited cleanly") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if strings.Contains(err.Error(), "<nil>") {
		t.Fatalf("message renders nil error: %q", err.Error())
	}
}

func TestRunAndHarvestEarlyExitStillHarvests(t *testing.T) {
	// A launcher that sets up its data and exits cleanly after the grace
	// period is not a crash; the window is waited out and the data kept.
	launcher := writeLauncher(t, `#!/bin/sh
mkdir -p data
echo ok > data/state.json
sleep 0.3
exit 0
`)
	dest := t.TempDir()

	res, err := RunAndHarvest(context.Background(), Options{
		ExecutablePath:    launcher,
		Wait:              600 * time.Millisecond,
		GracePeriod:       100 * time.Millisecond,
		CandidateDataDirs: []string{"data"},
		DestDir:           dest,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Archived || res.Stats.Copied != 1 {
		t.Fatalf("early clean exit should still harvest: %+v", res)
	}
}

func TestRunAndHarvestNoDataDir(t *testing.T) {
	launcher := writeLauncher(t, `#!/bin/sh
sleep 10
`)
	dest := t.TempDir()

	res, err := RunAndHarvest(context.Background(), Options{
		ExecutablePath:    launcher,
		Wait:              200 * time.Millisecond,
		GracePeriod:       100 * time.Millisecond,
		CandidateDataDirs: []string{"appdata", "data"},
		DestDir:           dest,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Archived {
		t.Fatal("no data directory means nothing to archive")
	}
}

func TestRunAndHarvestContextCancellation(t *testing.T) {
	launcher := writeLauncher(t, `#!/bin/sh
sleep 10
`)
	dest := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := RunAndHarvest(ctx, Options{
		ExecutablePath:    launcher,
		Wait:              30 * time.Second,
		GracePeriod:       100 * time.Millisecond,
		CandidateDataDirs: []string{"appdata"},
		DestDir:           dest,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took too long: %s", elapsed)
	}
}
