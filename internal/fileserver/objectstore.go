package fileserver

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// pendingUpload tracks one presigned upload slot until it is resolved or
// consumed.
type pendingUpload struct {
	objectKey string
	filename  string
	maxBytes  int64
}

// ObjectStoreServer implements FileServer against an S3-compatible object
// store using presigned URLs. There is no embedded server: the store itself
// authorizes each URL, so IsRunning is always true and single-use semantics
// are not enforced for uploads.
type ObjectStoreServer struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	client  *minio.Client
	pending map[string]pendingUpload
	tempDir string
}

var _ FileServer = (*ObjectStoreServer)(nil)

// NewObjectStoreServer validates the object-store settings and returns a
// server whose client is built lazily on first use.
func NewObjectStoreServer(cfg Config, logger *log.Logger) (*ObjectStoreServer, error) {
	if cfg.S3Endpoint == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("object store settings incomplete: %w", ErrConfiguration)
	}
	return &ObjectStoreServer{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]pendingUpload),
	}, nil
}

// normaliseEndpoint accepts either "minio:9000" or "http(s)://minio:9000".
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// ensureClient lazily builds the client and checks the bucket exists.
func (s *ObjectStoreServer) ensureClient(ctx context.Context) (*minio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	endpoint, secure, err := normaliseEndpoint(s.cfg.S3Endpoint)
	if err != nil {
		return nil, fmt.Errorf("object store endpoint: %w", ErrConfiguration)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.cfg.S3AccessKey, s.cfg.S3SecretKey, ""),
		Secure: secure,
		Region: s.cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, s.cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("object store bucket check: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket does not exist: %s: %w", s.cfg.S3Bucket, ErrConfiguration)
	}

	s.client = client
	s.logger.Info("object store client ready", "endpoint", endpoint, "bucket", s.cfg.S3Bucket)
	return client, nil
}

// RegisterDownload uploads the file and returns a time-limited presigned GET
// URL. The token is the object key, usable for later cleanup.
func (s *ObjectStoreServer) RegisterDownload(localPath, filename string) (DownloadGrant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := s.ensureClient(ctx)
	if err != nil {
		return DownloadGrant{}, err
	}

	objectKey := fmt.Sprintf("downloads/%s/%s", uuid.NewString(), sanitizeFilename(filename))
	if _, err := client.FPutObject(ctx, s.cfg.S3Bucket, objectKey, localPath, minio.PutObjectOptions{}); err != nil {
		return DownloadGrant{}, fmt.Errorf("upload object: %w", err)
	}

	reqParams := url.Values{}
	reqParams.Set("response-content-disposition", fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(filename)))

	signed, err := client.PresignedGetObject(ctx, s.cfg.S3Bucket, objectKey, s.cfg.downloadTTL(), reqParams)
	if err != nil {
		return DownloadGrant{}, fmt.Errorf("presign get: %w", err)
	}

	dlURL := signed.String()
	return DownloadGrant{
		URL:   dlURL,
		Curl:  fmt.Sprintf("curl -o '%s' '%s'", filename, dlURL),
		Token: objectKey,
	}, nil
}

// RegisterUpload returns a presigned PUT URL. maxBytes is advisory only;
// presigned PUTs cannot enforce a size server-side.
func (s *ObjectStoreServer) RegisterUpload(filename string, maxBytes int64) (UploadGrant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := s.ensureClient(ctx)
	if err != nil {
		return UploadGrant{}, err
	}

	if maxBytes <= 0 {
		maxBytes = s.cfg.maxUploadBytes()
	}

	token := uuid.NewString()
	safeName := sanitizeFilename(filename)
	objectKey := fmt.Sprintf("uploads/%s/%s", token, safeName)

	signed, err := client.PresignedPutObject(ctx, s.cfg.S3Bucket, objectKey, s.cfg.uploadTTL())
	if err != nil {
		return UploadGrant{}, fmt.Errorf("presign put: %w", err)
	}

	s.mu.Lock()
	s.pending[token] = pendingUpload{objectKey: objectKey, filename: safeName, maxBytes: maxBytes}
	s.mu.Unlock()

	upURL := signed.String()
	return UploadGrant{
		UploadURL:   upURL,
		UploadToken: token,
		Method:      "PUT",
		ExpiresIn:   int(s.cfg.uploadTTL() / time.Second),
		Curl: fmt.Sprintf("curl -X PUT -H 'Content-Type: application/octet-stream' -T '%s' '%s'",
			safeName, upURL),
	}, nil
}

// ResolveUpload downloads the uploaded object to a local temp path. It does
// not enforce single-use; resolving twice re-downloads the object.
func (s *ObjectStoreServer) ResolveUpload(token string) (UploadedFile, error) {
	s.mu.Lock()
	p, ok := s.pending[token]
	s.mu.Unlock()
	if !ok {
		return UploadedFile{}, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := s.ensureClient(ctx)
	if err != nil {
		return UploadedFile{}, err
	}

	dir, err := s.ensureTempDir()
	if err != nil {
		return UploadedFile{}, err
	}

	localPath := filepath.Join(dir, token+"-"+p.filename)
	if err := client.FGetObject(ctx, s.cfg.S3Bucket, p.objectKey, localPath, minio.GetObjectOptions{}); err != nil {
		// Covers the never-uploaded case: the remote object is absent.
		return UploadedFile{}, fmt.Errorf("uploaded object not available: %w", err)
	}

	return UploadedFile{LocalPath: localPath, Filename: p.filename}, nil
}

// ConsumeUpload forgets the token's local bookkeeping. Idempotent; the
// remote object is left for the bucket's own lifecycle rules.
func (s *ObjectStoreServer) ConsumeUpload(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, token)
	return nil
}

// IsRunning is always true: there is no server process to start.
func (s *ObjectStoreServer) IsRunning() bool { return true }

// EnsureRunning eagerly initializes the client so configuration problems
// surface before any URL is handed out.
func (s *ObjectStoreServer) EnsureRunning() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.ensureClient(ctx)
	return err
}

// Stop removes the local temp directory. Remote objects are untouched.
func (s *ObjectStoreServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempDir != "" {
		if err := os.RemoveAll(s.tempDir); err != nil {
			s.logger.Warn("temp dir cleanup failed", "dir", s.tempDir, "err", err)
		}
		s.tempDir = ""
	}
	return nil
}

func (s *ObjectStoreServer) ensureTempDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tempDir == "" {
		dir, err := os.MkdirTemp("", "filebroker-objects-")
		if err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
		s.tempDir = dir
	}
	return s.tempDir, nil
}
