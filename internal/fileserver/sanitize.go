package fileserver

import "regexp"

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename restricts a filename to a safe character set for on-disk
// and object-key use. The original name is preserved as metadata only; this
// value is what prevents path traversal through uploader-controlled names.
func sanitizeFilename(name string) string {
	if name == "" {
		return defaultUploadSlotName
	}
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}
