package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// fileNamePattern recovers the base name and extension from the final path
// segment of an asset URL.
var fileNamePattern = regexp.MustCompile(`([^/]+)\.([A-Za-z0-9]+)$`)

// parseAssetName extracts (name, ext) from an asset URL. The query string is
// ignored.
func parseAssetName(rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse asset url: %w", err)
	}
	m := fileNamePattern.FindStringSubmatch(parsed.Path)
	if m == nil {
		return "", "", fmt.Errorf("asset url %q has no name.ext file name", rawURL)
	}
	return m[1], m[2], nil
}

// fetchAsset downloads the asset into a temporary file and returns its path
// together with the lowercase hex SHA-256 of the content. The GET is
// idempotent, so transient failures are retried a bounded number of times.
func (s *Service) fetchAsset(ctx context.Context, assetURL string) (string, string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxFetchAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 500 * time.Millisecond):
			}
		}

		path, checksum, err := s.fetchOnce(ctx, assetURL)
		if err == nil {
			return path, checksum, nil
		}
		lastErr = err
		s.log.WithError(err).
			WithField("url", assetURL).
			WithField("attempt", attempt).
			Warn("asset fetch failed")
	}
	return "", "", fmt.Errorf("fetch asset after %d attempts: %w", s.maxFetchAttempts, lastErr)
}

func (s *Service) fetchOnce(ctx context.Context, assetURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("build asset request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch asset: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "asset-"+uuid.NewString())
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("download asset: %w", err)
	}

	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), nil
}

// persistArtifact moves the downloaded file to its deterministic location,
// creating directories as needed. An existing artifact at the target path is
// replaced.
func (s *Service) persistArtifact(tmpPath string, appID int64, version, identifier, ext string) (string, error) {
	dir := filepath.Join(s.dataDir, "resources", fmt.Sprintf("%d", appID), version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	target := filepath.Join(dir, identifier+"."+ext)
	if err := os.Rename(tmpPath, target); err != nil {
		// cross-device rename falls back to copy
		if copyErr := copyFile(tmpPath, target); copyErr != nil {
			return "", fmt.Errorf("persist artifact: %w", copyErr)
		}
		os.Remove(tmpPath)
	}
	return target, nil
}

// RemoveArtifact deletes one release's artifact file. A file already gone is
// not an error.
func (s *Service) RemoveArtifact(file string) error {
	if file == "" {
		return nil
	}
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveApplicationArtifacts deletes every artifact stored for an application.
func (s *Service) RemoveApplicationArtifacts(appID int64) error {
	return os.RemoveAll(filepath.Join(s.dataDir, "resources", fmt.Sprintf("%d", appID)))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
