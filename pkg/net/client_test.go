package net

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPClient(t *testing.T) {
	client, err := GetHTTPClient()
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.NotNil(t, client.Jar)
}

func TestPrintHTTPResponse_Nil(t *testing.T) {
	// should not panic
	PrintHTTPResponse(nil)
}

func TestPrintHTTPResponse_WithResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       http.NoBody,
	}
	// should not panic
	PrintHTTPResponse(resp)
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/backbone.bin", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, clientAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("weights"))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	srv := testServer(t)
	path := filepath.Join(t.TempDir(), "models", "backbone.bin")

	sum := sha256.Sum256([]byte("weights"))
	want := hex.EncodeToString(sum[:])

	digest, err := Download(context.Background(), srv.URL+"/backbone.bin", path, want)
	require.NoError(t, err)
	assert.Equal(t, want, digest)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownload_Errors(t *testing.T) {
	srv := testServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "backbone.bin")
	ctx := context.Background()

	_, err := Download(ctx, srv.URL+"/missing", path, "")
	assert.ErrorIs(t, err, ErrorURLNotFound)

	_, err = Download(ctx, srv.URL+"/broken", path, "")
	assert.Error(t, err)

	_, err = Download(ctx, srv.URL+"/backbone.bin", path, "deadbeef")
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = Download(ctx, "", path, "")
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownload_Canceled(t *testing.T) {
	srv := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Download(ctx, srv.URL+"/backbone.bin", filepath.Join(t.TempDir(), "b.bin"), "")
	assert.ErrorIs(t, err, context.Canceled)
}
