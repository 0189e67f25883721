package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/mediagrab/mediagrab/internal/admission"
	"github.com/mediagrab/mediagrab/internal/extract"
	"github.com/mediagrab/mediagrab/internal/logctx"
	"github.com/mediagrab/mediagrab/internal/store"
	"github.com/mediagrab/mediagrab/internal/telemetry"
)

// DownloadRequest is the POST /api/download body.
type DownloadRequest struct {
	URL string `json:"url"`
}

// DownloadResponse is returned after a completed download.
type DownloadResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	Filename         string `json:"filename"`
	DownloadURL      string `json:"download_url"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// ErrorResponse carries the sanitized failure detail.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// DownloadHandler owns the public API surface: submit a URL, fetch the
// result once, health.
type DownloadHandler struct {
	admission *admission.Controller
	runner    extract.Runner
	registry  *store.Registry
	telemetry *telemetry.Telemetry

	ttl             time.Duration
	quotaRetryAfter time.Duration
}

// NewDownloadHandler creates a new download handler. quotaRetryAfter is the
// hint clients get when the store is full; the reap interval is a sensible
// value since that is when capacity is next reclaimed.
func NewDownloadHandler(
	adm *admission.Controller,
	runner extract.Runner,
	registry *store.Registry,
	tel *telemetry.Telemetry,
	ttl time.Duration,
	quotaRetryAfter time.Duration,
) *DownloadHandler {
	return &DownloadHandler{
		admission:       adm,
		runner:          runner,
		registry:        registry,
		telemetry:       tel,
		ttl:             ttl,
		quotaRetryAfter: quotaRetryAfter,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/download", h.HandleDownload)
	r.Get("/downloads/{filename}", h.HandleServeFile)
	r.Get("/healthz", h.HandleHealthz)

	return r
}

// HandleDownload admits the request, runs the download job synchronously,
// registers the artifact, and returns the one-time retrieval URL.
func (h *DownloadHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// A body that does not parse is a validation failure, same as an
		// unusable URL.
		writeError(w, http.StatusUnprocessableEntity, "Request body must be JSON with a url field.")

		return
	}

	service, err := extract.ClassifyURL(req.URL)
	if err != nil {
		h.writeMappedError(ctx, w, err)

		return
	}

	reservation, err := h.admission.Admit(ctx, clientIP(r))
	if err != nil {
		h.writeMappedError(ctx, w, err)

		return
	}
	defer reservation.Release()

	result, err := h.runner.Run(ctx, extract.Job{URL: req.URL, Service: service})
	if err != nil {
		h.writeMappedError(ctx, w, err)

		return
	}

	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("failed to clean job staging", "err", err)
		}
	}()

	entry, err := reservation.Commit(result.Path, result.Ext, result.Size)
	if err != nil {
		logger.Error("failed to register downloaded file", "err", err)
		writeError(w, http.StatusInternalServerError, "Download completed but the file could not be stored.")

		return
	}

	logger.Info("download registered",
		"filename", entry.Name,
		"service", string(service),
		"size", humanize.IBytes(uint64(entry.Size)),
		"expires_at", entry.ExpiresAt.Format(time.RFC3339),
	)

	writeJSON(ctx, w, http.StatusOK, DownloadResponse{
		Status:           "success",
		Message:          fmt.Sprintf("Download completed via %s.", service.DisplayName()),
		Filename:         entry.Name,
		DownloadURL:      "/downloads/" + entry.Name,
		ExpiresInSeconds: int(h.ttl.Seconds()),
	})
}

// HandleServeFile streams a stored file exactly once and deletes it. The
// filename guard runs before any lookup even though served names are
// server-generated.
func (h *DownloadHandler) HandleServeFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	filename := chi.URLParam(r, "filename")

	if err := store.ValidateName(filename); err != nil {
		h.telemetry.RecordServe("invalid_name")
		h.writeMappedError(ctx, w, err)

		return
	}

	entry, err := h.registry.TakeForServe(filename)
	if err != nil {
		var expired *store.ExpiredError
		if errors.As(err, &expired) {
			if rmErr := os.Remove(expired.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Error("failed to delete expired file", "filename", expired.Name, "err", rmErr)
			}

			h.telemetry.RecordServe("expired")
		} else {
			h.telemetry.RecordServe("not_found")
		}

		// Expired, already served, and never existed are indistinguishable
		// to the client.
		writeError(w, http.StatusNotFound, "File not found or has already been deleted.")

		return
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		logger.Error("registered file missing from disk", "filename", entry.Name, "err", err)
		h.telemetry.RecordServe("not_found")
		writeError(w, http.StatusNotFound, "File not found or has already been deleted.")

		return
	}

	// The entry is already out of the registry; whatever happens to the
	// stream, the file goes away.
	defer func() {
		f.Close()

		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete served file", "filename", entry.Name, "err", err)
		}
	}()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.Warn("file stream interrupted", "filename", entry.Name, "err", err)
		h.telemetry.RecordServe("interrupted")

		return
	}

	h.telemetry.RecordServe("served")
	logger.Info("file served and deleted", "filename", entry.Name)
}

// HandleHealthz reports liveness.
func (h *DownloadHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP derives the rate-limit key from the peer address. Proxy headers
// are deliberately not trusted.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Encoding a flat struct cannot fail; ignore the writer error, the
	// connection owns it.
	_ = json.NewEncoder(w).Encode(ErrorResponse{Detail: detail})
}
