package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// installFakeGit puts a scripted git on PATH that records every
// invocation and answers diff/push per environment toggles.
func installFakeGit(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake git scripts require a unix-like OS")
	}
	binDir := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(binDir, "git.log")
	script := `#!/usr/bin/env bash
printf '%s\n' "$*" >> "$GIT_TEST_LOG"
case "$1" in
  diff) exit "${GIT_TEST_DIFF_EXIT:-1}" ;;
  push) exit "${GIT_TEST_PUSH_EXIT:-0}" ;;
esac
exit 0
`
	if err := os.WriteFile(filepath.Join(binDir, "git"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	t.Setenv("GIT_TEST_LOG", logPath)
	t.Setenv("GIT_TEST_DIFF_EXIT", "1")
	t.Setenv("GIT_TEST_PUSH_EXIT", "0")
	return logPath
}

func gitLog(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestPublishCommitsAndPushes(t *testing.T) {
	logPath := installFakeGit(t)
	pub := New(t.TempDir(), "origin", "main", true, nil)

	res, err := pub.Publish(context.Background(), []string{"versions/1.0.0-release"}, "archive 1.0.0-release")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Committed || !res.Pushed {
		t.Fatalf("result = %+v, want committed and pushed", res)
	}

	log := gitLog(t, logPath)
	if len(log) != 4 {
		t.Fatalf("expected add/diff/commit/push, got %v", log)
	}
	if log[0] != "add -- versions/1.0.0-release" {
		t.Fatalf("unexpected add invocation %q", log[0])
	}
	if log[3] != "push origin main" {
		t.Fatalf("unexpected push invocation %q", log[3])
	}
}

func TestPublishNothingStagedIsNoOp(t *testing.T) {
	logPath := installFakeGit(t)
	t.Setenv("GIT_TEST_DIFF_EXIT", "0")
	pub := New(t.TempDir(), "origin", "", true, nil)

	res, err := pub.Publish(context.Background(), []string{"versions/1.0.0-release"}, "msg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Committed || res.Pushed {
		t.Fatalf("empty diff must not commit: %+v", res)
	}
	for _, line := range gitLog(t, logPath) {
		if strings.HasPrefix(line, "commit") || strings.HasPrefix(line, "push") {
			t.Fatalf("unexpected invocation %q", line)
		}
	}
}

func TestPublishPushFailureKeepsCommit(t *testing.T) {
	installFakeGit(t)
	t.Setenv("GIT_TEST_PUSH_EXIT", "1")
	pub := New(t.TempDir(), "origin", "main", true, nil)

	res, err := pub.Publish(context.Background(), []string{"versions/1.0.0-release"}, "msg")
	if err != nil {
		t.Fatalf("push failure must not surface as an error: %v", err)
	}
	if !res.Committed {
		t.Fatal("commit should stand when push fails")
	}
	if res.Pushed {
		t.Fatal("push did not succeed")
	}
}

func TestPublishDiscardsTraversalPaths(t *testing.T) {
	logPath := installFakeGit(t)
	pub := New(t.TempDir(), "origin", "", false, nil)

	res, err := pub.Publish(context.Background(), []string{
		"../outside",
		"/etc/passwd",
		"versions/ok",
		"versions/ok",
		"versions/sub/../ok2",
	}, "msg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Discarded != 2 {
		t.Fatalf("discarded = %d, want 2", res.Discarded)
	}

	log := gitLog(t, logPath)
	if len(log) == 0 || log[0] != "add -- versions/ok versions/ok2" {
		t.Fatalf("unexpected staged paths: %v", log)
	}
}

func TestPublishAllPathsDiscardedSkipsGit(t *testing.T) {
	logPath := installFakeGit(t)
	pub := New(t.TempDir(), "origin", "", true, nil)

	res, err := pub.Publish(context.Background(), []string{"../outside"}, "msg")
	if err != nil {
		t.Fatal(err)
	}
	if res.Committed || res.Pushed || res.Discarded != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if log := gitLog(t, logPath); len(log) != 0 {
		t.Fatalf("git should not run: %v", log)
	}
}
