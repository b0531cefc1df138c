// Package rest is the HTTP front end of the store.
package rest

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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxbase/boxbase/internal/events"
	"github.com/boxbase/boxbase/internal/metrics"
	"github.com/boxbase/boxbase/internal/query"
	"github.com/boxbase/boxbase/internal/server"
	"github.com/boxbase/boxbase/internal/writer"
	"github.com/boxbase/boxbase/pkg/model"
)

// Writer applies write transactions.
type Writer interface {
	Submit(ctx context.Context, tx *writer.Transaction) (*writer.Result, error)
}

// Reader answers reads against the last committed state.
type Reader interface {
	Query(ctx context.Context, base string, reqs map[string]query.Request) (map[string]*query.Result, error)
	Count(ctx context.Context, base string, reqs map[string][]query.Template) (map[string]int, error)
	Get(ctx context.Context, base string, ids []string) ([]model.Document, error)
}

// ChangeFeed streams committed transactions per base.
type ChangeFeed interface {
	Subscribe(base string) (<-chan events.ChangeEvent, func())
}

const (
	DefaultMaxBodySize    = 1 << 20
	LargeMaxBodySize      = 10 << 20
	DefaultRequestTimeout = 30 * time.Second
)

// Error codes
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeOutcomeUnknown = "OUTCOME_UNKNOWN"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeTooLarge       = "REQUEST_TOO_LARGE"
)

// statusClientClosed is logged when the client went away first.
const statusClientClosed = 499

type Handler struct {
	writer Writer
	reader Reader
	feed   ChangeFeed
	logger *slog.Logger
}

// NewHandler creates a Handler. feed may be nil, which disables _changes.
func NewHandler(w Writer, r Reader, feed ChangeFeed, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		writer: w,
		reader: r,
		feed:   feed,
		logger: logger.With("component", "rest"),
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.instrument("health", h.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /{base}", h.instrument("write", withTimeout(maxBodySize(h.handleWrite, LargeMaxBodySize), DefaultRequestTimeout)))
	mux.HandleFunc("POST /{base}/_get", h.instrument("get", withTimeout(maxBodySize(h.handleGet, DefaultMaxBodySize), DefaultRequestTimeout)))
	mux.HandleFunc("GET /{base}/_get", h.instrument("get", withTimeout(h.handleGetParams, DefaultRequestTimeout)))
	mux.HandleFunc("POST /{base}/_query", h.instrument("query", withTimeout(maxBodySize(h.handleQuery, DefaultMaxBodySize), DefaultRequestTimeout)))
	mux.HandleFunc("POST /{base}/_count", h.instrument("count", withTimeout(maxBodySize(h.handleCount, DefaultMaxBodySize), DefaultRequestTimeout)))
	if h.feed != nil {
		mux.HandleFunc("GET /{base}/_changes", h.handleChanges)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// baseOrError returns the base named in the path, writing a 400 when it
// is not a valid base name.
func (h *Handler) baseOrError(w http.ResponseWriter, r *http.Request) (string, bool) {
	base := r.PathValue("base")
	if !model.CheckBase(base) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("invalid base name %q", base))
		return "", false
	}
	return base, true
}

// decodeBody decodes a JSON body keeping numbers as json.Number.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// writeBodyError answers a body that could not be decoded.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "Request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body: "+err.Error())
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	server.WriteError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// writeServiceError maps a read or write failure to a response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *model.StorageError
	switch {
	case model.IsCanceled(err):
		w.WriteHeader(statusClientClosed)
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, model.ErrCoordinatorClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Base is restarting, retry later")
	case errors.As(err, &storageErr) && storageErr.Unknown:
		h.logger.Error("Transaction outcome unknown", "error", err, "request_id", server.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, ErrCodeOutcomeUnknown, err.Error())
	default:
		h.logger.Error("Request failed", "error", err, "request_id", server.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// instrument counts requests per route and status.
func (h *Handler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		metrics.Requests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
