package fileserver

import "errors"

var (
	// ErrTokenNotFound means the token was never registered or has already
	// been removed from the store.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired means the token existed but its TTL has elapsed.
	// The store evicts the entry as a side effect of reporting this.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken means an uploaded-file token does not resolve to a
	// usable file, either because it is unknown or the backing file is gone.
	ErrInvalidToken = errors.New("invalid upload token")

	// ErrNoFilePart means a multipart body contained no file field.
	ErrNoFilePart = errors.New("no file part found")

	// ErrConfiguration means a required setting (credential, bucket,
	// backend name) is missing or unusable. Startup must not leave partial
	// state behind when returning it.
	ErrConfiguration = errors.New("configuration error")

	// ErrTunnelConflict is returned by a TunnelAgent when the requested
	// endpoint is already online, typically a stale tunnel left behind by
	// a crashed run. The endpoint resolver recovers from it once.
	ErrTunnelConflict = errors.New("tunnel endpoint already online")
)
