package fileserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// LocalServer is the local HTTP backend: an embedded server, started lazily
// on first use, that issues and validates single-use time-limited tokens for
// downloads and uploads. It implements FileServer.
type LocalServer struct {
	cfg     Config
	logger  *log.Logger
	fs      afero.Fs
	agent   TunnelAgent
	store   *tokenStore
	metrics *serverMetrics

	// mu guards the runtime fields below; it makes start and stop atomic
	// with respect to concurrent callers. It is never held across request
	// handling.
	mu          sync.Mutex
	running     bool
	port        int
	baseURL     string
	uploadDir   string
	httpServer  *http.Server
	tunnel      *TunnelInfo
	sweepCancel context.CancelFunc
}

var _ FileServer = (*LocalServer)(nil)

// LocalOption customizes a LocalServer at construction.
type LocalOption func(*LocalServer)

// WithFilesystem substitutes the filesystem used for upload storage and
// download reads. Defaults to the OS filesystem.
func WithFilesystem(fs afero.Fs) LocalOption {
	return func(s *LocalServer) { s.fs = fs }
}

// WithTunnelAgent supplies the agent used when cfg.TunnelEnabled is set.
func WithTunnelAgent(agent TunnelAgent) LocalOption {
	return func(s *LocalServer) { s.agent = agent }
}

// WithClock overrides the store's time source. Test hook.
func WithClock(now func() time.Time) LocalOption {
	return func(s *LocalServer) { s.store.now = now }
}

// NewLocalServer builds a stopped server; the listener is bound on first use.
func NewLocalServer(cfg Config, logger *log.Logger, opts ...LocalOption) *LocalServer {
	s := &LocalServer{
		cfg:     cfg,
		logger:  logger,
		fs:      afero.NewOsFs(),
		metrics: newServerMetrics(),
	}
	s.store = newTokenStore(cfg.downloadTTL(), cfg.uploadTTL(), nil)
	for _, opt := range opts {
		opt(s)
	}
	s.store.fs = s.fs
	return s
}

// IsRunning reports whether the listener is up.
func (s *LocalServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// EnsureRunning starts the server if it is not running yet. Idempotent.
// On tunnel failure the listener and upload directory are torn down again,
// so no partial runtime state survives a failed start.
func (s *LocalServer) EnsureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.cfg.TunnelEnabled && s.agent == nil {
		return fmt.Errorf("tunnel requested but no agent configured: %w", ErrConfiguration)
	}

	uploadDir, err := afero.TempDir(s.fs, "", "filebroker-uploads-")
	if err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.cfg.Port))
	if err != nil {
		_ = s.fs.RemoveAll(uploadDir)
		return fmt.Errorf("bind listener: %w", err)
	}

	s.port = ln.Addr().(*net.TCPAddr).Port
	s.uploadDir = uploadDir
	s.baseURL = fmt.Sprintf("http://localhost:%d", s.port)

	h := newHandler(s.store, s.fs, uploadDir, s.logger, s.metrics)
	s.httpServer = &http.Server{
		Handler:           h.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve ended", "err", err)
		}
	}(s.httpServer)

	if s.cfg.TunnelEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		info, terr := resolvePublicTunnel(ctx, s.agent, s.port, s.logger)
		cancel()
		if terr != nil {
			_ = s.httpServer.Close()
			_ = s.fs.RemoveAll(uploadDir)
			s.resetRuntimeLocked()
			return fmt.Errorf("start tunnel: %w", terr)
		}
		s.tunnel = &info
		s.baseURL = info.PublicURL
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	go s.sweepLoop(sweepCtx, s.cfg.sweepInterval())

	s.running = true
	s.logger.Info("file server started", "addr", s.baseURL, "port", s.port)
	return nil
}

// sweepLoop evicts expired tokens on a fixed interval until cancelled.
func (s *LocalServer) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.store.sweepExpired()
			if evicted > 0 {
				s.metrics.sweepEvictions.Add(float64(evicted))
				s.logger.Debug("sweep complete", "evicted", evicted)
			}
		}
	}
}

// Stop shuts the server down and deletes all temporary state. Idempotent.
// It never waits on in-flight requests; those complete or fail on their own.
func (s *LocalServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.sweepCancel()

	if s.tunnel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.agent.Disconnect(ctx, s.tunnel.PublicURL); err != nil {
			s.logger.Warn("tunnel disconnect failed", "err", err)
		}
		cancel()
	}

	if err := s.httpServer.Close(); err != nil {
		s.logger.Warn("listener close failed", "err", err)
	}

	// Cleanup is best-effort: a missing file must not abort the rest.
	for _, f := range s.store.reset() {
		if err := s.fs.Remove(f.localPath); err != nil {
			s.logger.Warn("uploaded file cleanup failed", "path", f.localPath, "err", err)
		}
	}
	if err := s.fs.RemoveAll(s.uploadDir); err != nil {
		s.logger.Warn("upload dir cleanup failed", "dir", s.uploadDir, "err", err)
	}

	s.resetRuntimeLocked()
	s.logger.Info("file server stopped")
	return nil
}

func (s *LocalServer) resetRuntimeLocked() {
	s.running = false
	s.port = 0
	s.baseURL = ""
	s.uploadDir = ""
	s.httpServer = nil
	s.tunnel = nil
	s.sweepCancel = nil
}

// BaseURL returns the public base URL, empty when stopped.
func (s *LocalServer) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// RegisterDownload makes localPath retrievable under filename.
func (s *LocalServer) RegisterDownload(localPath, filename string) (DownloadGrant, error) {
	if err := s.EnsureRunning(); err != nil {
		return DownloadGrant{}, err
	}

	token := s.store.registerDownload(localPath, filename)
	dlURL := fmt.Sprintf("%s/downloads/%s/%s", s.BaseURL(), token, url.PathEscape(filename))

	return DownloadGrant{
		URL:   dlURL,
		Curl:  fmt.Sprintf("curl -o '%s' '%s'", filename, dlURL),
		Token: token,
	}, nil
}

// RegisterUpload creates a single-use upload slot.
func (s *LocalServer) RegisterUpload(filename string, maxBytes int64) (UploadGrant, error) {
	if err := s.EnsureRunning(); err != nil {
		return UploadGrant{}, err
	}

	if maxBytes <= 0 {
		maxBytes = s.cfg.maxUploadBytes()
	}
	token := s.store.registerUpload(filename, maxBytes)
	uploadURL := s.BaseURL() + "/uploads"

	curlName := filename
	if curlName == "" {
		curlName = defaultUploadSlotName
	}

	return UploadGrant{
		UploadURL:   uploadURL,
		UploadToken: token,
		Method:      http.MethodPost,
		ExpiresIn:   int(s.cfg.uploadTTL() / time.Second),
		Curl: fmt.Sprintf("curl -X POST -H '%s: %s' -F 'file=@%s' '%s'",
			uploadTokenHeader, token, curlName, uploadURL),
	}, nil
}

// ResolveUpload exchanges a file token for the uploaded file's local path.
func (s *LocalServer) ResolveUpload(token string) (UploadedFile, error) {
	f, err := s.store.resolveUploadedFile(token)
	if err != nil {
		return UploadedFile{}, err
	}
	return UploadedFile{LocalPath: f.localPath, Filename: f.filename}, nil
}

// ConsumeUpload forgets a file token. Idempotent; the backing file is
// removed with the upload directory at Stop.
func (s *LocalServer) ConsumeUpload(token string) error {
	s.store.consumeUploadedFile(token)
	return nil
}
