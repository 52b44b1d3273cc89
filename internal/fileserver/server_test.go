package fileserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Backend:              BackendLocal,
		Port:                 0, // ephemeral: tests must not fight over a port
		DownloadTTLSeconds:   3600,
		UploadTTLSeconds:     300,
		MaxUploadBytes:       DefaultMaxUploadBytes,
		SweepIntervalSeconds: 600,
	}
}

func newTestServer(t *testing.T, opts ...LocalOption) *LocalServer {
	t.Helper()
	srv := NewLocalServer(testConfig(), log.New(io.Discard), opts...)
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestLocalServer_LazyStart(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/test.txt", []byte("Hello, World!"), 0o600))

	srv := newTestServer(t, WithFilesystem(fs))
	assert.False(t, srv.IsRunning())

	grant, err := srv.RegisterDownload("/src/test.txt", "test.txt")
	require.NoError(t, err)
	assert.True(t, srv.IsRunning(), "registration must start the server")
	assert.NotEmpty(t, grant.Token)
	assert.Contains(t, grant.URL, "http://localhost:")
	assert.Contains(t, grant.Curl, grant.URL)

	resp, err := http.Get(grant.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(body))
}

func TestLocalServer_EnsureRunningIdempotent(t *testing.T) {
	srv := newTestServer(t, WithFilesystem(afero.NewMemMapFs()))

	require.NoError(t, srv.EnsureRunning())
	base := srv.BaseURL()
	require.NoError(t, srv.EnsureRunning())
	assert.Equal(t, base, srv.BaseURL())
}

func postMultipart(t *testing.T, uploadURL, token, filename string, content []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, uploadURL, &buf)
	require.NoError(t, err)
	req.Header.Set(uploadTokenHeader, token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLocalServer_UploadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	srv := newTestServer(t, WithFilesystem(fs))

	grant, err := srv.RegisterUpload("", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, grant.Method)
	assert.Equal(t, 300, grant.ExpiresIn)
	assert.Contains(t, grant.Curl, grant.UploadToken)

	content := []byte("round trip payload")
	resp := postMultipart(t, grant.UploadURL, grant.UploadToken, "notes.txt", content)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Success   bool   `json:"success"`
		FileToken string `json:"fileToken"`
		Filename  string `json:"filename"`
		Bytes     int    `json:"bytes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "notes.txt", result.Filename)
	assert.Equal(t, len(content), result.Bytes)

	uploaded, err := srv.ResolveUpload(result.FileToken)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", uploaded.Filename)

	got, err := afero.ReadFile(fs, uploaded.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Consuming forgets the token; a later resolve fails.
	require.NoError(t, srv.ConsumeUpload(result.FileToken))
	require.NoError(t, srv.ConsumeUpload(result.FileToken)) // idempotent
	_, err = srv.ResolveUpload(result.FileToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLocalServer_OversizedThenRetry(t *testing.T) {
	srv := newTestServer(t, WithFilesystem(afero.NewMemMapFs()))

	grant, err := srv.RegisterUpload("", 1024)
	require.NoError(t, err)

	resp := postMultipart(t, grant.UploadURL, grant.UploadToken, "big.bin", bytes.Repeat([]byte("x"), 1050))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = postMultipart(t, grant.UploadURL, grant.UploadToken, "small.bin", bytes.Repeat([]byte("y"), 20))
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Bytes int `json:"bytes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 20, result.Bytes)
}

func TestLocalServer_StopClearsStateAndRestarts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.txt", []byte("a"), 0o600))

	srv := newTestServer(t, WithFilesystem(fs))

	grant, err := srv.RegisterDownload("/src/a.txt", "a.txt")
	require.NoError(t, err)

	upGrant, err := srv.RegisterUpload("", 1024)
	require.NoError(t, err)
	resp := postMultipart(t, upGrant.UploadURL, upGrant.UploadToken, "f.txt", []byte("data"))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	uploadDir := srv.uploadDir
	require.NotEmpty(t, uploadDir)

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.Empty(t, srv.BaseURL())

	// Upload directory and its contents are gone.
	exists, err := afero.DirExists(fs, uploadDir)
	require.NoError(t, err)
	assert.False(t, exists)

	// Stop is idempotent.
	require.NoError(t, srv.Stop())

	// A fresh run starts with fresh state: the old token is unknown.
	require.NoError(t, srv.EnsureRunning())
	assert.True(t, srv.IsRunning())

	resp2, err := http.Get(srv.BaseURL() + "/downloads/" + grant.Token + "/a.txt")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestLocalServer_ExpiredDownloadOver404(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/a.txt", []byte("a"), 0o600))

	var mu sync.Mutex
	current := time.Now()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	srv := newTestServer(t, WithFilesystem(fs), WithClock(clock))

	grant, err := srv.RegisterDownload("/src/a.txt", "a.txt")
	require.NoError(t, err)

	mu.Lock()
	current = current.Add(2 * time.Hour)
	mu.Unlock()

	resp, err := http.Get(grant.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
