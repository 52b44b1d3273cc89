package fileserver

import (
	"bytes"
	"regexp"
	"strings"
)

var filenameAttrRe = regexp.MustCompile(`filename="([^"]+)"`)

// decodeMultipart extracts the first file part from a raw multipart/form-data
// body. boundary is the bare boundary string from the Content-Type header,
// without the leading dashes.
//
// This is a best-effort parser for the single-file upload case, not a general
// MIME implementation: no nested multipart, no filename* charset decoding.
// Returns the part's content with the framing CRLF stripped, its declared
// filename, or ErrNoFilePart.
func decodeMultipart(body []byte, boundary string) ([]byte, string, error) {
	delim := []byte("--" + boundary)

	for _, part := range bytes.Split(body, delim) {
		// Skip the preamble, the closing "--" marker, and empty segments.
		if len(part) == 0 || bytes.Equal(part, []byte("--")) || bytes.Equal(part, []byte("--\r\n")) {
			continue
		}

		headerBlock, content, found := bytes.Cut(part, []byte("\r\n\r\n"))
		if !found {
			continue
		}

		headers := string(headerBlock)
		if !strings.Contains(headers, "Content-Disposition") || !strings.Contains(headers, "filename=") {
			continue
		}

		m := filenameAttrRe.FindStringSubmatch(headers)
		if m == nil {
			continue
		}

		// Drop the CRLF that separates content from the next boundary.
		content = bytes.TrimSuffix(content, []byte("\r\n"))
		return content, m[1], nil
	}

	return nil, "", ErrNoFilePart
}
