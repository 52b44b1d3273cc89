package fileserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// downloadReg is a registered download entry. Never mutated after creation.
type downloadReg struct {
	localPath    string
	filename     string
	registeredAt time.Time
}

// uploadSlot is a pending upload token entry.
type uploadSlot struct {
	filename  string // forced filename, empty = take the uploader's
	maxBytes  int64
	createdAt time.Time
}

// uploadedFile is a completed upload. Not TTL-bound; lives until consumed
// or until the owning server stops.
type uploadedFile struct {
	localPath  string
	filename   string
	uploadedAt time.Time
}

// tokenStore holds all token state for a LocalServer. One mutex guards the
// three maps; operations are O(1) map accesses and never perform I/O while
// holding the lock, except the cheap stat in resolveUploadedFile.
type tokenStore struct {
	mu        sync.Mutex
	downloads map[string]downloadReg
	uploads   map[string]uploadSlot
	files     map[string]uploadedFile

	downloadTTL time.Duration
	uploadTTL   time.Duration
	fs          afero.Fs
	now         func() time.Time
}

func newTokenStore(downloadTTL, uploadTTL time.Duration, fs afero.Fs) *tokenStore {
	return &tokenStore{
		downloads:   make(map[string]downloadReg),
		uploads:     make(map[string]uploadSlot),
		files:       make(map[string]uploadedFile),
		downloadTTL: downloadTTL,
		uploadTTL:   uploadTTL,
		fs:          fs,
		now:         time.Now,
	}
}

// registerDownload stores a registration and returns its token. The file is
// deliberately not checked for existence here; the GET handler does that at
// access time. Expired siblings are pruned opportunistically.
func (s *tokenStore) registerDownload(localPath, filename string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneDownloadsLocked(s.now())

	token := uuid.NewString()
	s.downloads[token] = downloadReg{
		localPath:    localPath,
		filename:     filename,
		registeredAt: s.now(),
	}
	return token
}

// lookupDownload returns the registration for token. A TTL-expired entry is
// evicted here and reported as ErrTokenExpired, so an expired file is never
// served in the window between periodic sweeps.
func (s *tokenStore) lookupDownload(token string) (downloadReg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.downloads[token]
	if !ok {
		return downloadReg{}, ErrTokenNotFound
	}
	if s.now().Sub(d.registeredAt) > s.downloadTTL {
		delete(s.downloads, token)
		return downloadReg{}, ErrTokenExpired
	}
	return d, nil
}

func (s *tokenStore) registerUpload(filename string, maxBytes int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneUploadsLocked(s.now())

	token := uuid.NewString()
	s.uploads[token] = uploadSlot{
		filename:  filename,
		maxBytes:  maxBytes,
		createdAt: s.now(),
	}
	return token
}

// takeUpload validates an upload token without consuming it. Single-use is
// enforced by the handler deleting the token after a successful persist, so
// a failed attempt (oversized body, bad multipart) leaves the slot usable
// within its TTL.
func (s *tokenStore) takeUpload(token string) (uploadSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uploads[token]
	if !ok {
		return uploadSlot{}, ErrTokenNotFound
	}
	if s.now().Sub(u.createdAt) > s.uploadTTL {
		delete(s.uploads, token)
		return uploadSlot{}, ErrTokenExpired
	}
	return u, nil
}

// deleteUpload removes an upload token. This is the only place an upload
// token is ever consumed.
func (s *tokenStore) deleteUpload(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, token)
}

// recordUploadedFile stores a completed upload under the given file token.
// File tokens share the generator with upload tokens but live in their own
// namespace and are not TTL-bound.
func (s *tokenStore) recordUploadedFile(token, localPath, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[token] = uploadedFile{
		localPath:  localPath,
		filename:   filename,
		uploadedAt: s.now(),
	}
}

// resolveUploadedFile returns the record for token. A record whose backing
// file has disappeared is evicted and reported as invalid.
func (s *tokenStore) resolveUploadedFile(token string) (uploadedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[token]
	if !ok {
		return uploadedFile{}, ErrInvalidToken
	}
	if _, err := s.fs.Stat(f.localPath); err != nil {
		delete(s.files, token)
		return uploadedFile{}, fmt.Errorf("uploaded file no longer exists: %w", ErrInvalidToken)
	}
	return f, nil
}

// consumeUploadedFile forgets a file token. Idempotent.
func (s *tokenStore) consumeUploadedFile(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, token)
}

// sweepExpired removes all TTL-expired downloads and upload tokens and
// returns the number of evictions. Completed uploads are not TTL-bound and
// are left alone.
func (s *tokenStore) sweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return s.pruneDownloadsLocked(now) + s.pruneUploadsLocked(now)
}

func (s *tokenStore) pruneDownloadsLocked(now time.Time) int {
	evicted := 0
	for token, d := range s.downloads {
		if now.Sub(d.registeredAt) > s.downloadTTL {
			delete(s.downloads, token)
			evicted++
		}
	}
	return evicted
}

func (s *tokenStore) pruneUploadsLocked(now time.Time) int {
	evicted := 0
	for token, u := range s.uploads {
		if now.Sub(u.createdAt) > s.uploadTTL {
			delete(s.uploads, token)
			evicted++
		}
	}
	return evicted
}

// reset clears all state and returns the uploaded-file records that were
// live, so the caller can delete their backing files.
func (s *tokenStore) reset() []uploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]uploadedFile, 0, len(s.files))
	for _, f := range s.files {
		records = append(records, f)
	}
	s.downloads = make(map[string]downloadReg)
	s.uploads = make(map[string]uploadSlot)
	s.files = make(map[string]uploadedFile)
	return records
}
