// Package fileserver brokers short-lived, token-scoped URLs for uploading
// and downloading files. Two interchangeable backends implement the
// FileServer contract: LocalServer, an embedded lazily-started HTTP server
// that mints and validates single-use tokens itself, and ObjectStoreServer,
// which delegates to an S3-compatible object store via presigned URLs.
package fileserver
