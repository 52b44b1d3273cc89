package fileserver

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func buildMultipartBody(boundary, filename, content string) []byte {
	var b strings.Builder
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString(`Content-Disposition: form-data; name="file"; filename="` + filename + `"` + "\r\n")
	b.WriteString("Content-Type: application/octet-stream\r\n")
	b.WriteString("\r\n")
	b.WriteString(content)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return []byte(b.String())
}

func TestDecodeMultipart_SingleFile(t *testing.T) {
	body := buildMultipartBody("XBOUND", "report.pdf", "pdf bytes here")

	content, filename, err := decodeMultipart(body, "XBOUND")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename != "report.pdf" {
		t.Errorf("filename = %q, want %q", filename, "report.pdf")
	}
	if string(content) != "pdf bytes here" {
		t.Errorf("content = %q, want %q", content, "pdf bytes here")
	}
}

func TestDecodeMultipart_BinaryContentPreserved(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xff, '\r', '\n', 0x7f}
	body := buildMultipartBody("b1", "blob.bin", string(raw))

	content, _, err := decodeMultipart(body, "b1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(content, raw) {
		t.Errorf("content = %v, want %v", content, raw)
	}
}

func TestDecodeMultipart_SkipsNonFileFields(t *testing.T) {
	var b strings.Builder
	b.WriteString("--sep\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"comment\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("just a text field\r\n")
	b.WriteString("--sep\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n")
	b.WriteString("\r\n")
	b.WriteString("payload\r\n")
	b.WriteString("--sep--\r\n")

	content, filename, err := decodeMultipart([]byte(b.String()), "sep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename != "a.txt" {
		t.Errorf("filename = %q, want a.txt", filename)
	}
	if string(content) != "payload" {
		t.Errorf("content = %q, want payload", content)
	}
}

func TestDecodeMultipart_NoFilePart(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"only closing marker", "--sep--\r\n"},
		{"field without filename", "--sep\r\nContent-Disposition: form-data; name=\"x\"\r\n\r\nv\r\n--sep--\r\n"},
		{"segment without blank line", "--sep\r\nContent-Disposition: form-data; filename=\"f\"\r\n--sep--\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeMultipart([]byte(tt.body), "sep")
			if !errors.Is(err, ErrNoFilePart) {
				t.Fatalf("expected ErrNoFilePart, got %v", err)
			}
		})
	}
}

func TestDecodeMultipart_FirstFileWins(t *testing.T) {
	var b strings.Builder
	for i, name := range []string{"first.txt", "second.txt"} {
		b.WriteString("--sep\r\n")
		b.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"" + name + "\"\r\n")
		b.WriteString("\r\n")
		if i == 0 {
			b.WriteString("one\r\n")
		} else {
			b.WriteString("two\r\n")
		}
	}
	b.WriteString("--sep--\r\n")

	content, filename, err := decodeMultipart([]byte(b.String()), "sep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filename != "first.txt" || string(content) != "one" {
		t.Errorf("got (%q, %q), want (one, first.txt)", content, filename)
	}
}
