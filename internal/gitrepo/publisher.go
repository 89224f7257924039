package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
)

// Publisher stages, commits and pushes harvested paths in an existing
// working tree. The version-control transport is the external git binary;
// no git state is interpreted beyond exit codes.
type Publisher struct {
	repoRoot    string
	remote      string
	branch      string
	pushEnabled bool
	logger      *slog.Logger
}

// PublishResult reports what actually happened. Committed=false,
// Pushed=false with a nil error means the staged diff was empty.
type PublishResult struct {
	Committed bool `json:"committed"`
	Pushed    bool `json:"pushed"`
	Discarded int  `json:"discarded_paths,omitempty"`
}

func New(repoRoot, remote, branch string, push bool, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(remote) == "" {
		remote = "origin"
	}
	return &Publisher{
		repoRoot:    repoRoot,
		remote:      remote,
		branch:      strings.TrimSpace(branch),
		pushEnabled: push,
		logger:      logger,
	}
}

func CheckDependencies() error {
	if _, err := exec.LookPath("git"); err != nil {
		return errors.New("missing dependency: git is not installed or not on PATH")
	}
	return nil
}

// Publish stages only the given repo-relative paths, commits them with
// message and attempts a push. Paths resolving outside the repository
// root are discarded before staging. A push failure is a warning: the
// local commit stands and the next cycle's push picks it up.
func (p *Publisher) Publish(ctx context.Context, paths []string, message string) (PublishResult, error) {
	safe, discarded := p.filterPaths(paths)
	result := PublishResult{Discarded: discarded}
	if len(safe) == 0 {
		return result, nil
	}

	args := append([]string{"add", "--"}, safe...)
	if _, err := p.git(ctx, args...); err != nil {
		return result, fmt.Errorf("stage paths: %w", err)
	}

	// Exit 0 means the staged diff is empty: nothing to commit.
	if _, err := p.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return result, nil
	}

	if _, err := p.git(ctx, "commit", "-m", message); err != nil {
		return result, fmt.Errorf("commit: %w", err)
	}
	result.Committed = true

	if !p.pushEnabled {
		return result, nil
	}
	pushArgs := []string{"push", p.remote}
	if p.branch != "" {
		pushArgs = append(pushArgs, p.branch)
	}
	if _, err := p.git(ctx, pushArgs...); err != nil {
		p.logger.Warn("push failed; local commit preserved for next cycle", "remote", p.remote, "err", err)
		return result, nil
	}
	result.Pushed = true
	return result, nil
}

// filterPaths keeps repo-relative paths that stay inside the repository
// root, defending against traversal from malformed version strings.
func (p *Publisher) filterPaths(paths []string) (safe []string, discarded int) {
	seen := make(map[string]bool, len(paths))
	for _, raw := range paths {
		rel := strings.TrimSpace(raw)
		if rel == "" {
			continue
		}
		cleaned := filepath.Clean(rel)
		if filepath.IsAbs(cleaned) || !filepath.IsLocal(cleaned) {
			discarded++
			p.logger.Warn("discarded unsafe publish path", "path", raw)
			continue
		}
		if seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		safe = append(safe, cleaned)
	}
	return safe, discarded
}

func (p *Publisher) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.repoRoot

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
