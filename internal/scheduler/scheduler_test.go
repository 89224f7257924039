package scheduler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"launcher-archiver/internal/config"
	"launcher-archiver/internal/store"
)

const testVersion = "2026.01.10-abcd123"

func launcherZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "bin/launcher"})
	if err != nil {
		t.Fatal(err)
	}
	script := `#!/bin/sh
mkdir -p appdata
echo '{}' > appdata/settings.json
echo secret > appdata/Cookies
sleep 10
`
	if _, err := w.Write([]byte(script)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// vendorServer serves a manifest and one linux/amd64 artifact, counting
// requests so tests can assert idempotency.
type vendorServer struct {
	srv           *httptest.Server
	archive       []byte
	sha256Hex     string
	manifestHits  atomic.Int64
	downloadHits  atomic.Int64
	breakChecksum bool
}

func newVendorServer(t *testing.T) *vendorServer {
	t.Helper()
	vs := &vendorServer{archive: launcherZip(t)}
	sum := sha256.Sum256(vs.archive)
	vs.sha256Hex = hex.EncodeToString(sum[:])

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		vs.manifestHits.Add(1)
		digest := vs.sha256Hex
		if vs.breakChecksum {
			digest = strings.Repeat("00", 32)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": testVersion,
			"download_url": map[string]any{
				"linux": map[string]any{
					"amd64": map[string]string{
						"url":    vs.srv.URL + "/launcher.zip",
						"sha256": strings.ToUpper(digest),
					},
				},
			},
		})
	})
	mux.HandleFunc("/launcher.zip", func(w http.ResponseWriter, _ *http.Request) {
		vs.downloadHits.Add(1)
		_, _ = w.Write(vs.archive)
	})

	vs.srv = httptest.NewServer(mux)
	t.Cleanup(vs.srv.Close)
	return vs
}

func testConfig(t *testing.T, manifestURL string, execute bool) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ArchiveRoot = t.TempDir()
	cfg.Channels = []config.Channel{{Name: "release", ManifestURL: manifestURL}}
	cfg.Execute = execute
	cfg.HarvestWait = 300 * time.Millisecond
	cfg.Git.Enabled = false
	return cfg
}

func newTestScheduler(t *testing.T, cfg config.Config) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(cfg.ArchiveRoot)
	if err != nil {
		t.Fatal(err)
	}
	sched := New(Options{
		Config:   cfg,
		Store:    st,
		Platform: "linux-amd64",
	})
	return sched, st
}

func TestRunCycleFullPipeline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script launchers require a unix-like OS")
	}
	vs := newVendorServer(t)
	cfg := testConfig(t, vs.srv.URL+"/manifest.json", true)
	sched, st := newTestScheduler(t, cfg)

	report := sched.RunCycle(context.Background())
	if report.Failures != 0 {
		t.Fatalf("unexpected failures: %+v", report.Channels)
	}
	if len(report.Channels) != 1 {
		t.Fatalf("expected one channel report, got %d", len(report.Channels))
	}
	ch := report.Channels[0]
	if !ch.New || ch.ArtifactsVerified != 1 || !ch.Extracted || !ch.Harvested {
		t.Fatalf("unexpected channel report %+v", ch)
	}

	full := testVersion + "-release"
	artifactDir := filepath.Join(st.VersionsRoot(), full, "linux-amd64")
	for _, name := range []string{"launcher.zip", "url.txt", "sha256.txt"} {
		if _, err := os.Stat(filepath.Join(artifactDir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	for _, name := range []string{"state.json", "launcher.json", "download-metadata.json", "download-timestamp.txt", "download-date.txt"} {
		if _, err := os.Stat(filepath.Join(st.VersionsRoot(), full, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	launcher := filepath.Join(st.ExtractedRoot(), full, "linux-amd64-launcher", "bin", "launcher")
	if info, err := os.Stat(launcher); err != nil || info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("extracted launcher missing or not executable: %v", err)
	}

	runtimeDirs, err := os.ReadDir(st.RuntimeRoot())
	if err != nil || len(runtimeDirs) != 1 {
		t.Fatalf("expected one runtime archive, got %d (err=%v)", len(runtimeDirs), err)
	}
	harvestDir := filepath.Join(st.RuntimeRoot(), runtimeDirs[0].Name())
	if _, err := os.Stat(filepath.Join(harvestDir, "runtime-metadata.json")); err != nil {
		t.Fatal("runtime metadata missing")
	}
	if _, err := os.Stat(filepath.Join(harvestDir, "appdata", "settings.json")); err != nil {
		t.Fatal("harvested settings.json missing")
	}
	if _, err := os.Stat(filepath.Join(harvestDir, "appdata", "Cookies")); !os.IsNotExist(err) {
		t.Fatal("Cookies leaked into harvest")
	}

	records, err := st.List()
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d (err=%v)", len(records), err)
	}
	if records[0].Stage != store.StageHarvested {
		t.Fatalf("final stage = %q", records[0].Stage)
	}
}

func TestRunCycleDownloadOnly(t *testing.T) {
	vs := newVendorServer(t)
	cfg := testConfig(t, vs.srv.URL+"/manifest.json", false)
	cfg.Extract = false
	sched, st := newTestScheduler(t, cfg)

	report := sched.RunCycle(context.Background())
	if report.Failures != 0 {
		t.Fatalf("unexpected failures: %+v", report.Channels)
	}

	artifactPath := filepath.Join(st.VersionsRoot(), testVersion+"-release", "linux-amd64", "launcher.zip")
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != vs.sha256Hex {
		t.Fatal("stored artifact digest does not match the manifest")
	}

	for _, root := range []string{st.ExtractedRoot(), st.RuntimeRoot()} {
		entries, err := os.ReadDir(root)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Fatalf("%s should stay empty in download-only mode", root)
		}
	}
}

func TestRunCycleIdempotentSecondPass(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script launchers require a unix-like OS")
	}
	vs := newVendorServer(t)
	cfg := testConfig(t, vs.srv.URL+"/manifest.json", false)
	sched, st := newTestScheduler(t, cfg)

	first := sched.RunCycle(context.Background())
	if first.Failures != 0 || !first.Channels[0].New {
		t.Fatalf("first cycle: %+v", first.Channels)
	}

	second := sched.RunCycle(context.Background())
	if second.Failures != 0 {
		t.Fatalf("second cycle: %+v", second.Channels)
	}
	if second.Channels[0].New {
		t.Fatal("second cycle must resolve the existing version")
	}
	if got := vs.downloadHits.Load(); got != 1 {
		t.Fatalf("artifact downloaded %d times, want 1", got)
	}
	if got := vs.manifestHits.Load(); got != 2 {
		t.Fatalf("manifest fetched %d times, want 2", got)
	}

	records, err := st.List()
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d (err=%v)", len(records), err)
	}
}

func TestRunCycleChecksumMismatchRetriesNextCycle(t *testing.T) {
	vs := newVendorServer(t)
	vs.breakChecksum = true
	cfg := testConfig(t, vs.srv.URL+"/manifest.json", false)
	sched, st := newTestScheduler(t, cfg)

	report := sched.RunCycle(context.Background())
	if report.Failures != 1 {
		t.Fatalf("mismatch cycle should count one failure: %+v", report.Channels)
	}
	if report.Channels[0].ArtifactsFailed != 1 || report.Channels[0].ArtifactsVerified != 0 {
		t.Fatalf("unexpected artifact counts %+v", report.Channels[0])
	}

	full := testVersion + "-release"
	if _, err := os.Stat(filepath.Join(st.VersionsRoot(), full, "linux-amd64", "launcher.zip")); !os.IsNotExist(err) {
		t.Fatal("mismatched artifact must be deleted")
	}
	records, err := st.List()
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %d (err=%v)", len(records), err)
	}
	if records[0].Stage != store.StageDiscovered {
		t.Fatalf("record must stay pending, got stage %q", records[0].Stage)
	}

	// The vendor fixes its manifest; the next cycle downloads again and
	// completes.
	vs.breakChecksum = false
	report = sched.RunCycle(context.Background())
	if report.Failures != 0 || report.Channels[0].ArtifactsVerified != 1 {
		t.Fatalf("retry cycle: %+v", report.Channels)
	}
	if got := vs.downloadHits.Load(); got != 2 {
		t.Fatalf("download hits = %d, want 2", got)
	}
}

func TestRunCycleRejectsHostileManifestVersion(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": "../../outside",
			"download_url": map[string]any{
				"linux": map[string]any{
					"amd64": map[string]string{"url": "https://cdn.example/l.zip", "sha256": digest},
				},
			},
		})
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/manifest.json", false)
	sched, st := newTestScheduler(t, cfg)

	report := sched.RunCycle(context.Background())
	if report.Failures != 1 {
		t.Fatalf("failures = %d, want 1", report.Failures)
	}

	// The poisoned version must never become a directory, least of all
	// one above the archive root.
	entries, err := os.ReadDir(st.VersionsRoot())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("versions directory should stay empty, found %d entries", len(entries))
	}
	parent := filepath.Dir(cfg.ArchiveRoot)
	if _, err := os.Stat(filepath.Join(parent, "outside-release")); !os.IsNotExist(err) {
		t.Fatalf("directory escaped the archive root: %v", err)
	}
}

func TestRunCycleChannelFailureIsolation(t *testing.T) {
	vs := newVendorServer(t)
	cfg := testConfig(t, vs.srv.URL+"/manifest.json", false)
	cfg.Channels = []config.Channel{
		{Name: "broken", ManifestURL: vs.srv.URL + "/missing.json"},
		{Name: "release", ManifestURL: vs.srv.URL + "/manifest.json"},
	}
	sched, _ := newTestScheduler(t, cfg)

	report := sched.RunCycle(context.Background())
	if report.Failures != 1 {
		t.Fatalf("failures = %d, want 1", report.Failures)
	}
	if len(report.Channels) != 2 {
		t.Fatalf("both channels must be attempted, got %d", len(report.Channels))
	}
	if report.Channels[0].Error == "" {
		t.Fatal("broken channel should carry an error")
	}
	if report.Channels[1].Error != "" || report.Channels[1].ArtifactsVerified != 1 {
		t.Fatalf("healthy channel must complete: %+v", report.Channels[1])
	}
}

func TestRunCyclePostsNotification(t *testing.T) {
	vs := newVendorServer(t)

	var got atomic.Pointer[CycleReport]
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report CycleReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			t.Errorf("bad webhook payload: %v", err)
		}
		got.Store(&report)
	}))
	defer hook.Close()

	cfg := testConfig(t, vs.srv.URL+"/manifest.json", false)
	cfg.Notify.Enabled = true
	cfg.Notify.URL = hook.URL
	sched, _ := newTestScheduler(t, cfg)

	report := sched.RunCycle(context.Background())
	posted := got.Load()
	if posted == nil {
		t.Fatal("webhook was not called")
	}
	if posted.CycleID != report.CycleID || len(posted.Channels) != 1 {
		t.Fatalf("unexpected webhook payload %+v", posted)
	}
}

func TestArtifactFileName(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://cdn.example/builds/launcher-1.0.zip", "launcher-1.0.zip"},
		{"https://cdn.example/", "artifact.bin"},
		{"://bad", "artifact.bin"},
	}
	for _, tc := range cases {
		if got := artifactFileName(tc.url); got != tc.want {
			t.Errorf("artifactFileName(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	vs := newVendorServer(t)
	cfg := testConfig(t, vs.srv.URL+"/manifest.json", false)
	sched, _ := newTestScheduler(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Watch(ctx, 50*time.Millisecond)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}

	if got := vs.manifestHits.Load(); got < 2 {
		t.Fatalf("expected repeated polling, got %d manifest fetches", got)
	}
}
