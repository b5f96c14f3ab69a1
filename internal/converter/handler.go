package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"

	"audio-converter/internal/admission"
	"audio-converter/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 64 << 10

// convertBody is the POST /api/convert payload.
type convertBody struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// Handler exposes the conversion endpoints.
type Handler struct {
	pipeline        *Pipeline
	limiter         *admission.Limiter
	files           *FileStore
	identityHeaders []string
	log             *slog.Logger
	metrics         *metrics.Metrics
}

// NewHandler returns a Handler. limiter, files and m may be nil: a nil
// limiter admits everything, a nil file store disables downloads.
func NewHandler(p *Pipeline, limiter *admission.Limiter, files *FileStore, identityHeaders []string, log *slog.Logger, m *metrics.Metrics) *Handler {
	if len(identityHeaders) == 0 {
		identityHeaders = admission.DefaultIdentityHeaders
	}
	return &Handler{
		pipeline:        p,
		limiter:         limiter,
		files:           files,
		identityHeaders: identityHeaders,
		log:             log,
		metrics:         m,
	}
}

// Convert handles POST /api/convert.
// Body: { "url": "https://www.youtube.com/watch?v=...", "format": "mp3" }.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
		return
	}

	client := admission.ClientIdentity(r, h.identityHeaders)
	if !h.admit(w, r, client) {
		return
	}

	var body convertBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid convert body", slog.String("client", client), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	format, ok := ParseFormat(body.Format)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unsupported format", fmt.Sprintf("%q is not one of mp3, passthrough", body.Format))
		return
	}

	req := ConversionRequest{
		SourceURL:      strings.TrimSpace(body.URL),
		Format:         format,
		ClientIdentity: client,
	}

	err := h.pipeline.Deliver(r.Context(), w, req)
	if err == nil {
		return
	}

	if errors.Is(err, ErrResponseStarted) {
		h.log.Error("delivery failed after response started, aborting connection",
			slog.String("url", req.SourceURL),
			slog.String("client", client),
			slog.String("state", StateFailed.String()),
			slog.String("error", err.Error()))
		panic(http.ErrAbortHandler)
	}

	var perr *Error
	if !errors.As(err, &perr) {
		perr = newError(KindStreaming, StateFailed, "Conversion failed", err)
	}

	level := slog.LevelInfo
	if perr.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.log.Log(r.Context(), level, "delivery failed",
		slog.String("url", req.SourceURL),
		slog.String("client", client),
		slog.String("stage", perr.Stage.String()),
		slog.String("kind", perr.Kind.String()),
		slog.String("error", err.Error()))
	writeError(w, perr.Status(), perr.Message, perr.Details())
}

// admit applies the per-client limit and writes the 429 when it rejects.
// Store failures admit the request.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, client string) bool {
	if h.limiter == nil {
		return true
	}

	d, err := h.limiter.Admit(r.Context(), client)
	if err != nil {
		h.log.Warn("admission store unavailable, admitting request",
			slog.String("client", client), slog.String("error", err.Error()))
		return true
	}
	if d.Allowed {
		return true
	}

	h.metrics.IncRateLimited()
	h.log.Info("request rate limited", slog.String("client", client), slog.Int("count", d.Count))
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later",
		fmt.Sprintf("limit is %d requests per %s", d.Limit, h.limiter.Window()))
	return false
}

// Download handles GET /api/downloads/{id}.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.files == nil {
		writeError(w, http.StatusNotFound, "File not found or expired", "")
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "File not found or expired", "")
		return
	}

	e, ok := h.files.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "File not found or expired", "")
		return
	}

	f, err := os.Open(e.Path)
	if err != nil {
		h.log.Warn("open stored file failed", slog.String("file_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusNotFound, "File not found or expired", "")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		h.log.Error("stat stored file failed", slog.String("file_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Download failed", "")
		return
	}

	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set("Content-Disposition", ContentDisposition(e.Filename))
	http.ServeContent(w, r, e.Filename, fi.ModTime(), f)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"transcoder": h.pipeline.TranscodeAvailable(),
		"delivery":   h.pipeline.DeliveryMode(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
