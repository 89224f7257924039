package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultManifestTimeout = 10 * time.Second
	defaultDownloadTimeout = 10 * time.Minute
	defaultUserAgent       = "launcher-archiver"
)

// Client fetches manifests and artifacts. Every call carries an explicit
// timeout so one stalled channel cannot block the whole scheduler.
type Client struct {
	manifestClient *http.Client
	downloadClient *http.Client
	userAgent      string
}

func NewClient() *Client {
	return &Client{
		manifestClient: &http.Client{Timeout: defaultManifestTimeout},
		downloadClient: &http.Client{Timeout: defaultDownloadTimeout},
		userAgent:      defaultUserAgent,
	}
}

// FetchManifest GETs and parses a channel manifest. Non-2xx and transport
// failures wrap ErrNetwork; invalid JSON wraps ErrParse. No retry: the
// caller skips the channel for this cycle.
func (c *Client) FetchManifest(ctx context.Context, url string) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("build manifest request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.manifestClient.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("fetch manifest %s: %w: %v", url, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Manifest{}, fmt.Errorf("fetch manifest %s (%d): %w: %s", url, resp.StatusCode, ErrNetwork, strings.TrimSpace(string(body)))
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w: %v", url, ErrParse, err)
	}
	return m, nil
}

// DownloadArtifact streams url to destPath. Partial files are removed on
// any failure so a later cycle never mistakes them for a finished
// download.
func (c *Client) DownloadArtifact(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w: %v", url, ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download %s (%d): %w: %s", url, resp.StatusCode, ErrDownload, strings.TrimSpace(string(body)))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", destPath, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("write %s: %w: %v", destPath, ErrDownload, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("close %s: %w", destPath, err)
	}
	return nil
}

// VerifyIntegrity hashes the file at path and compares against the
// expected hex digest, case-insensitively. On mismatch the file is
// deleted and an IntegrityError returned.
func VerifyIntegrity(path, expectedHex string) (actualHex string, err error) {
	actualHex, err = HashFile(path)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(strings.TrimSpace(expectedHex), actualHex) {
		_ = os.Remove(path)
		return actualHex, &IntegrityError{Path: path, Expected: strings.ToLower(strings.TrimSpace(expectedHex)), Actual: actualHex}
	}
	return actualHex, nil
}

// HashFile returns the lowercase hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckReachable issues a short HEAD probe; doctor uses it to report on
// channel endpoints without downloading anything.
func (c *Client) CheckReachable(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.manifestClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w: %v", url, ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s: %w: status %d", url, ErrNetwork, resp.StatusCode)
	}
	return nil
}
