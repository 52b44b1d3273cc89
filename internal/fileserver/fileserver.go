package fileserver

// DownloadGrant is the result of registering a file for download.
type DownloadGrant struct {
	// URL is the full download URL handed to the remote party.
	URL string `json:"url"`
	// Curl is a ready-to-paste curl command for the URL.
	Curl string `json:"curl"`
	// Token identifies the registration for later cleanup.
	Token string `json:"token"`
}

// UploadGrant is the result of registering an upload slot.
type UploadGrant struct {
	UploadURL   string `json:"uploadUrl"`
	UploadToken string `json:"uploadToken"`
	// Method is the HTTP method the remote party must use: POST with a
	// multipart body for the local backend, PUT for presigned URLs.
	Method    string `json:"method"`
	ExpiresIn int    `json:"expiresIn"` // seconds
	Curl      string `json:"curl"`
}

// UploadedFile is a completed upload resolved to a local path.
type UploadedFile struct {
	LocalPath string `json:"local_path"`
	Filename  string `json:"filename"`
}

// FileServer is the contract shared by all backends. Callers depend only on
// this interface; backend selection happens at construction time.
type FileServer interface {
	// RegisterDownload makes localPath retrievable under filename and
	// returns the URL to hand out. The file is not checked for existence
	// at registration time.
	RegisterDownload(localPath, filename string) (DownloadGrant, error)

	// RegisterUpload creates a single-use, time-limited upload slot.
	// filename, when non-empty, overrides whatever name the uploader
	// declares. maxBytes <= 0 selects the configured default limit.
	RegisterUpload(filename string, maxBytes int64) (UploadGrant, error)

	// ResolveUpload exchanges a file token from a completed upload for a
	// local path. Fails with ErrInvalidToken when the token is unknown or
	// the uploaded content is no longer available.
	ResolveUpload(token string) (UploadedFile, error)

	// ConsumeUpload forgets a file token and its bookkeeping. Idempotent.
	ConsumeUpload(token string) error

	IsRunning() bool
	EnsureRunning() error
	Stop() error
}
