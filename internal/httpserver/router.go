package httpserver

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagcache-service/api/dto"
	"tagcache-service/internal/cache"
	"tagcache-service/internal/keys"
)

const (
	maxBodySize           = 5 << 20 // запросы больше 5 МБ отклоняются
	gzipThreshold         = 500     // ответы короче не сжимаются
	contentTypeJSON       = "application/json"
	headerContentEncoding = "Content-Encoding"
	headerAcceptEncoding  = "Accept-Encoding"
	headerVary            = "Vary"
	encodingGzip          = "gzip"
)

// NewRouter возвращает http.Handler административного API поверх
// кэш-сервиса.
func NewRouter(svc *cache.Service, mapper *dto.Mapper) http.Handler {
	h := &handler{svc: svc, mapper: mapper}

	r := chi.NewRouter()
	r.Use(limitBody(maxBodySize))
	r.Use(decompressGzip)
	r.Use(compressGzip(gzipThreshold))
	r.Use(MetricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/cache/{kind}/{id}", h.get)
		r.Put("/cache/{kind}/{id}", h.put)
		r.Delete("/cache/{kind}/{id}", h.delete)
		r.Delete("/cache/{kind}", h.deleteKind)
		r.Post("/invalidate/tag/{tag}", h.invalidateTag)
		r.Post("/maintenance/cleanup", h.cleanup)
		r.Post("/maintenance/warmup", h.warmup)
		r.Get("/stats", h.stats)
	})

	return r
}

// NewMetricRouter serves the Prometheus endpoint and the liveness
// probe on their own port.
func NewMetricRouter() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentTypeJSON)
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	})
	return r
}

type handler struct {
	svc    *cache.Service
	mapper *dto.Mapper
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathParams(w, r)
	if !ok {
		return
	}
	key, err := h.mapper.EntryKey(kind, id, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	val, found := h.svc.Get(r.Context(), key)
	status := http.StatusOK
	if !found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, dto.Entry(kind, id, val, found))
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if !strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeJSON) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}
	kind, id, ok := pathParams(w, r)
	if !ok {
		return
	}

	var req dto.EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "v is required")
		return
	}

	key, err := h.mapper.EntryKey(kind, id, req.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ttl, err := h.mapper.TTL(kind, req.TTL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.svc.Set(r.Context(), key, req.Value, ttl) {
		writeError(w, http.StatusServiceUnavailable, "write did not land")
		return
	}
	writeJSON(w, http.StatusOK, dto.Stored(key, ttl))
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathParams(w, r)
	if !ok {
		return
	}
	key, err := h.mapper.EntryKey(kind, id, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var removed int64
	if h.svc.Delete(r.Context(), key) {
		removed = 1
	}
	writeJSON(w, http.StatusOK, &dto.InvalidateResponse{Removed: removed})
}

func (h *handler) deleteKind(w http.ResponseWriter, r *http.Request) {
	kind, err := url.PathUnescape(chi.URLParam(r, "kind"))
	if err != nil || kind == "" || strings.Contains(kind, keys.Separator) {
		writeError(w, http.StatusBadRequest, "bad kind")
		return
	}

	removed := h.svc.DeleteMany(r.Context(), kind+keys.Separator+"*")
	writeJSON(w, http.StatusOK, &dto.InvalidateResponse{Removed: removed})
}

func (h *handler) invalidateTag(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad tag")
		return
	}
	tag, err := h.mapper.Tag(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed := h.svc.InvalidateByTag(r.Context(), tag)
	writeJSON(w, http.StatusOK, &dto.InvalidateResponse{Removed: removed})
}

func (h *handler) cleanup(w http.ResponseWriter, r *http.Request) {
	pruned := h.svc.Cleanup(r.Context())
	writeJSON(w, http.StatusOK, &dto.CleanupResponse{PrunedTagSets: pruned})
}

func (h *handler) warmup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if !strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeJSON) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}

	var req dto.WarmupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "empty entries")
		return
	}

	entries, err := h.mapper.WarmupEntries(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := h.svc.Warmup(r.Context(), entries)
	writeJSON(w, http.StatusOK, &dto.WarmupResponse{
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Stats(r.Context())
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, dto.Stats(st))
}

func pathParams(w http.ResponseWriter, r *http.Request) (kind, id string, ok bool) {
	kind, err1 := url.PathUnescape(chi.URLParam(r, "kind"))
	id, err2 := url.PathUnescape(chi.URLParam(r, "id"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "malformed path")
		return "", "", false
	}
	return kind, id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw(alert.Prefix("encode error"), "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &dto.ErrorResponse{Error: msg})
}

// ---- middleware ----

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func decompressGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerContentEncoding) == encodingGzip {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer gz.Close()
			r.Body = struct{ io.ReadCloser }{gz}
		}
		next.ServeHTTP(w, r)
	})
}

type bufferResponseWriter struct {
	http.ResponseWriter
	code int
	buf  strings.Builder
	once sync.Once
}

func (b *bufferResponseWriter) WriteHeader(statusCode int) {
	b.once.Do(func() { b.code = statusCode })
}

func (b *bufferResponseWriter) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

func compressGzip(threshold int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get(headerAcceptEncoding), encodingGzip) {
				next.ServeHTTP(w, r)
				return
			}
			brw := &bufferResponseWriter{ResponseWriter: w}
			next.ServeHTTP(brw, r)

			if brw.code == 0 {
				brw.code = http.StatusOK
			}

			data := brw.buf.String()
			if len(data) < threshold {
				w.WriteHeader(brw.code)
				io.WriteString(w, data)
				return
			}

			w.Header().Set(headerContentEncoding, encodingGzip)
			w.Header().Set(headerVary, headerAcceptEncoding)
			w.WriteHeader(brw.code)
			gz := gzip.NewWriter(w)
			if _, err := gz.Write([]byte(data)); err != nil {
				zap.S().Errorw(alert.Prefix("gzip write error"), "error", err)
			}
			gz.Close()
		})
	}
}
