// Package server implements the kvblob HTTP handlers and middleware.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kilupskalvis/kvblob/internal/bucket"
	"github.com/kilupskalvis/kvblob/internal/logger"
	"github.com/kilupskalvis/kvblob/internal/metastore"
	"github.com/kilupskalvis/kvblob/internal/metrics"
	"github.com/kilupskalvis/kvblob/internal/objectstore"
	"github.com/kilupskalvis/kvblob/internal/storeerr"
)

// Request and response headers.
const (
	HeaderHash      = "X-Hash"
	TagHeaderPrefix = "x-kv-"

	cacheControlImmutable = "public, max-age=31536000, immutable"
	readinessKey          = ".readyz"
)

// Config holds configurable limits for the server.
type Config struct {
	MaxObjectSize     int64   // bytes
	RequestsPerSecond float64 // per client IP; <= 0 disables limiting
	Burst             int
	AdminToken        string // enables /admin/ when set
	Webhooks          *WebhookNotifier
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxObjectSize:     512 * 1024 * 1024,
		RequestsPerSecond: 50,
		Burst:             100,
	}
}

// Deps are the stores the handlers operate on.
type Deps struct {
	Meta    metastore.Store
	Buckets *bucket.Registry
	Objects *objectstore.Store
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler creates the HTTP handler with all routes and middleware. The
// returned cleanup function stops background goroutines and should be
// called on shutdown.
func Handler(deps Deps, cfg *Config) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &handlers{deps: deps, cfg: cfg}
	rl := newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)

	// route wraps a data handler with rate limiting and per-operation metrics.
	route := func(op string, fn http.HandlerFunc) http.Handler {
		return applyMiddleware(fn, rl.middleware, func(next http.Handler) http.Handler {
			return instrument(op, deps.Metrics, next)
		})
	}
	// JSON-only responses may be compressed. Object bodies are not, so
	// Range and Content-Length stay exact.
	jsonRoute := func(op string, fn http.HandlerFunc) http.Handler {
		return gzhttp.GzipHandler(route(op, fn))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.handleReadyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.Handle("POST /admin/reconcile", jsonRoute("reconcile", h.handleReconcile))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Buckets
	mux.Handle("POST /bucket/{bucket}", jsonRoute("create_bucket", h.handleCreateBucket))
	mux.Handle("GET /bucket/{bucket}", jsonRoute("get_bucket", h.handleGetBucket))

	// Objects
	mux.Handle("PUT /bucket/{bucket}/{key}", jsonRoute("put_object", h.handlePutObject))
	mux.Handle("GET /bucket/{bucket}/{key}", route("get_object", h.handleGetObject))
	mux.Handle("DELETE /bucket/{bucket}/{key}", route("delete_object", h.handleDeleteObject))

	handler := applyMiddleware(mux,
		requestIDMiddleware(deps.Logger),
		loggingMiddleware,
		recoveryMiddleware,
	)

	cleanup := func() {
		rl.Stop()
		cfg.Webhooks.Close()
	}
	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	deps Deps
	cfg  *Config
}

// --- Bucket Handlers ---

func (h *handlers) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("bucket")

	b, err := h.deps.Buckets.Create(r.Context(), name, TagsFromHeader(r.Header))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cfg.Webhooks.Notify(EventBucketCreated, b.Name, "", "")
	writeJSON(w, http.StatusCreated, b)
}

func (h *handlers) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Buckets.Get(r.Context(), r.PathValue("bucket"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- Object Handlers ---

func (h *handlers) handlePutObject(w http.ResponseWriter, r *http.Request) {
	bucketName := r.PathValue("bucket")
	key := r.PathValue("key")

	if r.ContentLength > h.cfg.MaxObjectSize {
		writeTooLarge(w, h.cfg.MaxObjectSize)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxObjectSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w, h.cfg.MaxObjectSize)
			return
		}
		writeError(w, r, storeerr.New(storeerr.KindValidation, "put object", "failed to read request body", err))
		return
	}

	obj, record, err := h.deps.Objects.Put(r.Context(), objectstore.PutInput{
		Bucket:      bucketName,
		Key:         key,
		Body:        body,
		Hash:        r.Header.Get(HeaderHash),
		ContentType: r.Header.Get("Content-Type"),
		Tags:        TagsFromHeader(r.Header),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cfg.Webhooks.Notify(EventObjectPut, bucketName, key, obj.Hash)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", obj.ETag())
	w.WriteHeader(http.StatusOK)
	w.Write(record)
}

// handleGetObject also serves HEAD. http.ServeContent answers conditional
// and range requests against the ETag set here.
func (h *handlers) handleGetObject(w http.ResponseWriter, r *http.Request) {
	obj, body, _, err := h.deps.Objects.Get(r.Context(), r.PathValue("bucket"), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", obj.ContentType)
	hdr.Set("ETag", obj.ETag())
	hdr.Set(HeaderHash, obj.Hash)
	hdr.Set("Cache-Control", cacheControlImmutable)

	http.ServeContent(w, r, "", obj.CreatedAt, body)
}

func (h *handlers) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	bucketName := r.PathValue("bucket")
	key := r.PathValue("key")

	if err := h.deps.Objects.Delete(r.Context(), bucketName, key); err != nil {
		writeError(w, r, err)
		return
	}

	h.cfg.Webhooks.Notify(EventObjectDeleted, bucketName, key, "")
	w.WriteHeader(http.StatusNoContent)
}

// --- Admin Handlers ---

func (h *handlers) handleReconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "dry_run must be a boolean"})
			return
		}
		dryRun = parsed
	}

	result, err := h.deps.Objects.Reconcile(r.Context(), dryRun)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Health ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.deps.Meta.Get(r.Context(), readinessKey); err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("readiness probe failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready: metadata store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Helpers ---

// TagsFromHeader collects the values of every x-kv-* header. Header names
// are visited in sorted order; values of one header keep arrival order and
// duplicates are kept.
func TagsFromHeader(h http.Header) []string {
	var names []string
	for name := range h {
		if strings.HasPrefix(strings.ToLower(name), TagHeaderPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tags := []string{}
	for _, name := range names {
		tags = append(tags, h[name]...)
	}
	return tags
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a storage error to its status and error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := storeerr.KindOf(err)
	status := kind.HTTPStatus()

	if status >= http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("kind", kind.Code()).Msg("request failed")
	} else {
		logger.Ctx(r.Context()).Debug().Err(err).Str("kind", kind.Code()).Msg("request rejected")
	}

	writeJSON(w, status, errorBody{Error: kind.Code(), Message: storeerr.MessageOf(err)})
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
		Error:   storeerr.KindValidation.Code(),
		Message: "object exceeds maximum size of " + humanize.IBytes(uint64(limit)),
	})
}
