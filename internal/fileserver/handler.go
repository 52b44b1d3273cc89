package fileserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// handler serves the local backend's wire protocol. It holds an explicit
// reference to the shared token store and upload directory; it is built once
// per server run and is stateless across requests otherwise.
type handler struct {
	store     *tokenStore
	fs        afero.Fs
	uploadDir string
	logger    *log.Logger
	metrics   *serverMetrics
}

func newHandler(store *tokenStore, fs afero.Fs, uploadDir string, logger *log.Logger, metrics *serverMetrics) *handler {
	return &handler{
		store:     store,
		fs:        fs,
		uploadDir: uploadDir,
		logger:    logger,
		metrics:   metrics,
	}
}

// routes builds the router for one server run.
func (h *handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(h.logger, h.metrics))
	r.Use(corsMiddleware)

	r.Get("/downloads/{token}/{filename}", h.handleDownload)
	r.Post("/uploads", h.handleUpload)
	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", h.metrics.handler())

	// The wire protocol knows only 404 for unknown routes, including
	// method mismatches on known paths.
	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.notFound)

	return r
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not Found"))
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// handleDownload serves GET /downloads/{token}/{filename}.
func (h *handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	requestedName, err := url.PathUnescape(chi.URLParam(r, "filename"))
	if err != nil {
		h.notFound(w, r)
		return
	}

	d, err := h.store.lookupDownload(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Download link expired"))
			return
		}
		h.notFound(w, r)
		return
	}

	// The URL must name exactly the registered filename; anything else is
	// treated as an unknown resource.
	if requestedName != d.filename {
		h.notFound(w, r)
		return
	}

	info, err := h.fs.Stat(d.localPath)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("File not found"))
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(d.localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	f, err := h.fs.Open(d.localPath)
	if err != nil {
		h.internalError(w, r, "open download", err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(d.filename)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		// Headers are gone; all we can do is log.
		h.logger.Error("download copy failed", "rid", requestIDFromContext(r.Context()), "err", err)
		return
	}
	h.metrics.downloadsTotal.Inc()
}

// uploadResponse is the JSON body for a successful POST /uploads.
type uploadResponse struct {
	Success   bool   `json:"success"`
	FileToken string `json:"fileToken"`
	Filename  string `json:"filename"`
	Bytes     int    `json:"bytes"`
}

// handleUpload serves POST /uploads.
//
// Consumption policy: only the explicit token deletion after a successful
// persist consumes an upload token. Every failure path, including 500s,
// leaves the token usable until its TTL so the uploader can retry.
func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(uploadTokenHeader)
	if token == "" {
		h.jsonError(w, http.StatusForbidden, "Missing "+uploadTokenHeader+" header")
		return
	}

	slot, err := h.store.takeUpload(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			h.jsonError(w, http.StatusForbidden, "Upload token expired")
			return
		}
		h.jsonError(w, http.StatusForbidden, "Invalid upload token")
		return
	}

	if r.ContentLength > slot.maxBytes {
		// Not consumed: the uploader may retry with a smaller payload.
		h.jsonError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File too large. Max size: %d bytes", slot.maxBytes))
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		h.jsonError(w, http.StatusBadRequest, "Content-Type must be multipart/form-data")
		return
	}

	// Guard against clients declaring less than they send.
	body, err := io.ReadAll(io.LimitReader(r.Body, slot.maxBytes+1))
	if err != nil {
		h.internalJSONError(w, r, "read body", err)
		return
	}
	if int64(len(body)) > slot.maxBytes {
		h.jsonError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File too large. Max size: %d bytes", slot.maxBytes))
		return
	}

	content, uploaderName, err := decodeMultipart(body, params["boundary"])
	if err != nil {
		h.jsonError(w, http.StatusBadRequest, "No file found in request")
		return
	}

	filename := uploaderName
	if slot.filename != "" {
		filename = slot.filename
	}

	fileToken := uuid.NewString()
	savePath := filepath.Join(h.uploadDir, fileToken+"-"+sanitizeFilename(filename))
	if err := afero.WriteFile(h.fs, savePath, content, 0o600); err != nil {
		h.internalJSONError(w, r, "persist upload", err)
		return
	}

	h.store.recordUploadedFile(fileToken, savePath, filename)
	h.store.deleteUpload(token)

	h.metrics.uploadsTotal.Inc()
	h.metrics.uploadBytes.Add(float64(len(content)))

	h.writeJSON(w, http.StatusOK, uploadResponse{
		Success:   true,
		FileToken: fileToken,
		Filename:  filename,
		Bytes:     len(content),
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) jsonError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs the cause and answers 500 without leaking it.
func (h *handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" failed", "rid", requestIDFromContext(r.Context()), "err", err)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte("Internal Server Error"))
}

func (h *handler) internalJSONError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" failed", "rid", requestIDFromContext(r.Context()), "err", err)
	h.jsonError(w, http.StatusInternalServerError, "Upload failed")
}
