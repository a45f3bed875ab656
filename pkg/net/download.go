package net

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 60
	clientAgent      = "dermai"
	dirMode          = 0700
	fileMode         = 0600
)

var (
	reqTransport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       timeoutInSeconds * time.Second,
		DisableCompression:    true,
		DisableKeepAlives:     false,
		ResponseHeaderTimeout: time.Duration(timeoutInSeconds) * time.Second,
	}

	ErrorURLNotFound = errors.New("URL not found")

	// ErrChecksumMismatch is returned when downloaded content does not
	// match the expected digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

func getResp(ctx context.Context, url string) (*http.Response, error) {
	c, err := GetHTTPClient()
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP client: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP Get request: %w", err)
	}

	req.Header.Set("User-Agent", clientAgent)

	return c.Do(req) //nolint:gosec // G704: URL comes from local config or flags
}

// Download saves the content at url to path. The file is written to a
// temporary name and renamed into place only after the transfer completes
// and, when sha256Hex is set, its digest matches. It returns the hex digest
// of the content.
func Download(ctx context.Context, url, path, sha256Hex string) (digest string, retErr error) {
	if url == "" || path == "" {
		return "", errors.New("url and path required")
	}

	resp, err := getResp(ctx, url)
	if err != nil {
		return "", fmt.Errorf("error downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	PrintHTTPResponse(resp)

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrorURLNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error downloading file (status: %d - %s): %s", resp.StatusCode, resp.Status, url)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("error creating dir %s: %w", dir, err)
	}
	out, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("error creating temp file: %w", err)
	}
	tmp := out.Name()
	defer func() {
		if retErr != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), resp.Body); err != nil {
		return "", fmt.Errorf("error saving downloaded content to file: %w", err)
	}
	digest = hex.EncodeToString(h.Sum(nil))
	if sha256Hex != "" && digest != sha256Hex {
		return "", fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, digest, sha256Hex)
	}

	if err := out.Chmod(fileMode); err != nil {
		return "", fmt.Errorf("error setting file mode: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("error moving download into place: %w", err)
	}
	return digest, nil
}
