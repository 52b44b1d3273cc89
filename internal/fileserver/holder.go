package fileserver

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// New constructs the backend named by cfg.Backend. Callers own the returned
// instance and are responsible for calling Stop.
func New(cfg Config, logger *log.Logger) (FileServer, error) {
	switch cfg.Backend {
	case BackendLocal, "localhost", "":
		return NewLocalServer(cfg, logger), nil
	case BackendObjectStore, "minio":
		return NewObjectStoreServer(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q: %w", cfg.Backend, ErrConfiguration)
	}
}

// Holder is a thread-safe lazily-initialized shared FileServer for callers
// that need one instance per process. Unlike a package-level singleton it
// has explicit teardown and reset.
type Holder struct {
	mu      sync.Mutex
	current FileServer
}

// Get returns the shared instance, constructing it on first call with the
// given configuration. Later calls ignore cfg until Reset or Shutdown.
func (h *Holder) Get(cfg Config, logger *log.Logger) (FileServer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current != nil {
		return h.current, nil
	}
	fs, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	h.current = fs
	return fs, nil
}

// Shutdown stops the held instance, if any, and clears the holder.
func (h *Holder) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		return nil
	}
	err := h.current.Stop()
	h.current = nil
	return err
}

// Reset clears the holder without stopping the instance, letting the next
// Get construct a fresh one. The caller keeps responsibility for stopping
// the old instance.
func (h *Holder) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = nil
}
