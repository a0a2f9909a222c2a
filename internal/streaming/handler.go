package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"musicy-stream/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// retryAfter is advertised when every provider is temporarily failing.
const retryAfter = 30 * time.Second

// maxPreloadBody caps the POST /preload request body.
const maxPreloadBody = 4 << 10

// Handler exposes streaming HTTP endpoints using go-chi.
type Handler struct {
	svc       *Service
	preloader *Preloader
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewHandler returns a Handler. Metrics may be nil to disable metric recording
// (e.g. in tests).
func NewHandler(svc *Service, preloader *Preloader, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, preloader: preloader, log: log, metrics: m, now: time.Now}
}

// Register mounts the streaming routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/stream/{contentId}", h.Stream)
	r.Head("/stream/{contentId}", h.Stream)
	r.Get("/resolve/{contentId}", h.Resolve)
	r.Delete("/cache/{contentId}", h.InvalidateCache)
	r.Post("/preload", h.Preload)
	r.Get("/healthz", h.Healthz)
}

// Stream handles GET|HEAD /stream/{contentId}, relaying the upstream bytes for
// the requested Range.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id, err := ParseContentID(chi.URLParam(r, "contentId"))
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}

	st, err := h.svc.Open(r.Context(), id, r.Method, r.Header.Get("Range"))
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	defer st.Close()

	copyRelayHeaders(w.Header(), st.Header, st.Resolved.MimeType)
	w.WriteHeader(st.Status)
	if r.Method == http.MethodHead {
		return
	}

	n, err := relayBody(w, st.Body)
	h.metrics.AddStreamedBytes(n)
	if err != nil {
		// Headers are gone; the client sees a truncated body and re-requests.
		h.log.Debug("stream truncated",
			slog.String("content_id", string(id)),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()))
	}
}

type preloadRequest struct {
	ContentID string `json:"contentId"`
	VideoID   string `json:"videoId"`
}

// Preload handles POST /preload.
// Body: { "contentId": "abc123" }. With ?async=true the job is queued and the
// handler answers 202 without waiting.
func (h *Handler) Preload(w http.ResponseWriter, r *http.Request) {
	var body preloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPreloadBody)).Decode(&body); err != nil {
		h.log.Debug("invalid preload body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	raw := body.ContentID
	if raw == "" {
		raw = body.VideoID
	}
	id, err := ParseContentID(raw)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		cached, err := h.preloader.Enqueue(id)
		if err != nil {
			h.writeError(w, r, id, err)
			return
		}
		if cached {
			writeJSON(w, http.StatusOK, map[string]bool{"cached": true})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
		return
	}

	res, err := h.preloader.Preload(r.Context(), id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	if res.Cached {
		writeJSON(w, http.StatusOK, map[string]bool{"cached": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": res.Success})
}

// Resolve handles GET /resolve/{contentId}, returning the resolved URL without
// proxying bytes.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := ParseContentID(chi.URLParam(r, "contentId"))
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}

	rs, cached, err := h.svc.Resolve(r.Context(), id)
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds(rs.ExpiresAt, h.now())))
	writeJSON(w, http.StatusOK, struct {
		ResolvedStream
		Cached bool `json:"cached"`
	}{rs, cached})
}

// InvalidateCache handles DELETE /cache/{contentId}.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	id, err := ParseContentID(chi.URLParam(r, "contentId"))
	if err != nil {
		h.writeError(w, r, id, err)
		return
	}
	if h.svc.Invalidate(id) {
		h.log.Info("cache entry invalidated", slog.String("content_id", string(id)))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps resolution and upstream errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, id ContentID, err error) {
	var (
		exhausted *ExhaustedError
		upstream  *UpstreamError
	)
	switch {
	case errors.Is(err, ErrInvalidContentID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})

	case errors.As(err, &exhausted):
		if exhausted.NotFound() {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "content not found"})
			return
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})

	case errors.As(err, &upstream):
		if upstream.Status == http.StatusRequestedRangeNotSatisfiable {
			if upstream.ContentRange != "" {
				w.Header().Set("Content-Range", upstream.ContentRange)
			}
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		h.log.Warn("upstream error",
			slog.String("content_id", string(id)),
			slog.Int("upstream_status", upstream.Status))
		w.Header().Set("X-Upstream-Status", strconv.Itoa(upstream.Status))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":          "upstream error",
			"upstreamStatus": upstream.Status,
		})

	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrPreloaderStopped):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})

	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nobody is left to answer.
		h.log.Debug("client disconnected", slog.String("content_id", string(id)))

	case errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})

	default:
		h.log.Error("stream request failed",
			slog.String("content_id", string(id)),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
