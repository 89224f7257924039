package harvest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFilteredExcludesSensitiveEntries(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "settings.json"), "{}")
	mustWrite(t, filepath.Join(src, "Cookies"), "secret")
	mustWrite(t, filepath.Join(src, "cache", "data.bin"), "blob")
	mustWrite(t, filepath.Join(src, "Session", "current.dat"), "secret")

	dst := t.TempDir()
	stats, err := CopyFiltered(src, dst)
	if err != nil {
		t.Fatal(err)
	}

	if stats.Copied != 2 {
		t.Fatalf("copied = %d, want 2", stats.Copied)
	}
	// Cookies plus the Session directory; an excluded directory counts
	// once, not per descendant.
	if stats.Excluded != 2 {
		t.Fatalf("excluded = %d, want 2", stats.Excluded)
	}

	if _, err := os.Stat(filepath.Join(dst, "settings.json")); err != nil {
		t.Fatal("settings.json should be copied")
	}
	if _, err := os.Stat(filepath.Join(dst, "cache", "data.bin")); err != nil {
		t.Fatal("cache/data.bin should be copied")
	}
	if _, err := os.Stat(filepath.Join(dst, "Cookies")); !os.IsNotExist(err) {
		t.Fatal("Cookies must not be copied")
	}
	if _, err := os.Stat(filepath.Join(dst, "Session")); !os.IsNotExist(err) {
		t.Fatal("Session subtree must not be copied")
	}
}

func TestCopyFilteredNestedFragmentPath(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "store", "tokens", "t.bin"), "secret")
	mustWrite(t, filepath.Join(src, "store", "assets", "a.bin"), "ok")

	dst := t.TempDir()
	stats, err := CopyFiltered(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Copied != 1 || stats.Excluded != 1 {
		t.Fatalf("copied=%d excluded=%d, want 1/1", stats.Copied, stats.Excluded)
	}
	if _, err := os.Stat(filepath.Join(dst, "store", "tokens")); !os.IsNotExist(err) {
		t.Fatal("tokens directory must be excluded by path fragment")
	}
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
