package httpserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tagcache-service/api/dto"
	"tagcache-service/internal/cache"
	"tagcache-service/internal/config"
	"tagcache-service/internal/keys"
	"tagcache-service/internal/store"
)

func setupRouter(t *testing.T) (http.Handler, *miniredis.Miniredis, func()) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	port, _ := strconv.Atoi(srv.Port())
	st := store.NewClient(context.Background(), config.Store{
		Host:         srv.Host(),
		Port:         port,
		PoolSize:     5,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		OfflineQueue: true,
	})
	policy := keys.NewPolicy("app", nil, map[string]keys.Rule{
		"user": {Tier: keys.TierLong, Tags: []keys.Tag{"account"}},
	})
	svc := cache.NewService(st, policy, cache.Options{})
	router := NewRouter(svc, dto.NewMapper(policy))
	return router, srv, func() {
		_ = svc.Close()
		srv.Close()
	}
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestEntryLifecycle(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	rr := doJSON(router, http.MethodPut, "/api/cache/user/42",
		`{"v":{"name":"Alice"},"ttl":"1m"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put code=%d body=%s", rr.Code, rr.Body.String())
	}
	var stored dto.StoredResponse
	if err := json.NewDecoder(rr.Body).Decode(&stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.Key != "user:id:42" || stored.TTL != "1m0s" {
		t.Fatalf("unexpected stored: %+v", stored)
	}

	rr = doJSON(router, http.MethodGet, "/api/cache/user/42", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get code=%d", rr.Code)
	}
	var hit dto.EntryResponse
	if err := json.NewDecoder(rr.Body).Decode(&hit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hit.Found || string(hit.Value) != `{"name":"Alice"}` {
		t.Fatalf("unexpected hit: %+v", hit)
	}

	rr = doJSON(router, http.MethodDelete, "/api/cache/user/42", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete code=%d", rr.Code)
	}
	var inv dto.InvalidateResponse
	if err := json.NewDecoder(rr.Body).Decode(&inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Removed != 1 {
		t.Fatalf("removed=%d", inv.Removed)
	}

	rr = doJSON(router, http.MethodGet, "/api/cache/user/42", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("miss code=%d", rr.Code)
	}
	var miss dto.EntryResponse
	if err := json.NewDecoder(rr.Body).Decode(&miss); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if miss.Found {
		t.Fatalf("expected miss")
	}
}

func TestPutValidation(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPut, "/api/cache/user/42",
		strings.NewReader(`{"v":1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("no content type: code=%d", rr.Code)
	}

	if rr := doJSON(router, http.MethodPut, "/api/cache/user/42", `{broken`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json: code=%d", rr.Code)
	}
	if rr := doJSON(router, http.MethodPut, "/api/cache/user/42", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing value: code=%d", rr.Code)
	}
	if rr := doJSON(router, http.MethodPut, "/api/cache/user/42", `{"v":1,"ttl":"soon"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad ttl: code=%d", rr.Code)
	}
}

func TestInvalidateTagEndpoint(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	doJSON(router, http.MethodPut, "/api/cache/user/1", `{"v":1}`)
	doJSON(router, http.MethodPut, "/api/cache/user/2", `{"v":2}`)

	rr := doJSON(router, http.MethodPost, "/api/invalidate/tag/account", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	var inv dto.InvalidateResponse
	if err := json.NewDecoder(rr.Body).Decode(&inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Removed != 2 {
		t.Fatalf("removed=%d", inv.Removed)
	}

	if rr := doJSON(router, http.MethodGet, "/api/cache/user/1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("entry survived invalidation: code=%d", rr.Code)
	}
}

func TestDeleteKindEndpoint(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	doJSON(router, http.MethodPut, "/api/cache/user/1", `{"v":1}`)
	doJSON(router, http.MethodPut, "/api/cache/user/2", `{"v":2}`)
	doJSON(router, http.MethodPut, "/api/cache/order/9", `{"v":9}`)

	rr := doJSON(router, http.MethodDelete, "/api/cache/user", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	var inv dto.InvalidateResponse
	if err := json.NewDecoder(rr.Body).Decode(&inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Removed != 2 {
		t.Fatalf("removed=%d", inv.Removed)
	}

	if rr := doJSON(router, http.MethodGet, "/api/cache/order/9", ""); rr.Code != http.StatusOK {
		t.Fatalf("unrelated kind removed: code=%d", rr.Code)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	router, srv, cleanup := setupRouter(t)
	defer cleanup()

	doJSON(router, http.MethodPut, "/api/cache/user/1", `{"v":1}`)
	// the value vanishes behind the index's back
	srv.Del("app:user:id:1")

	rr := doJSON(router, http.MethodPost, "/api/maintenance/cleanup", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	var resp dto.CleanupResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PrunedTagSets != 2 {
		t.Fatalf("pruned=%d", resp.PrunedTagSets)
	}
}

func TestWarmupEndpoint(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	rr := doJSON(router, http.MethodPost, "/api/maintenance/warmup",
		`{"entries":[{"kind":"user","id":"1","v":{"id":1}},{"kind":"user","id":"2","v":{"id":2},"ttl":"10m"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp dto.WarmupResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Succeeded != 2 || resp.Failed != 0 {
		t.Fatalf("unexpected report: %+v", resp)
	}

	if rr := doJSON(router, http.MethodGet, "/api/cache/user/1", ""); rr.Code != http.StatusOK {
		t.Fatalf("warmed entry missing: code=%d", rr.Code)
	}

	if rr := doJSON(router, http.MethodPost, "/api/maintenance/warmup", `{"entries":[]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty entries: code=%d", rr.Code)
	}
	rr = doJSON(router, http.MethodPost, "/api/maintenance/warmup",
		`{"entries":[{"kind":"user","id":"1","v":1,"ttl":"nope"}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad ttl: code=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "entries[0]") {
		t.Fatalf("error not indexed: %s", rr.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, srv, cleanup := setupRouter(t)
	defer cleanup()

	doJSON(router, http.MethodPut, "/api/cache/user/1", `{"v":1}`)

	rr := doJSON(router, http.MethodGet, "/api/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	var resp dto.StatsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Keys < 1 {
		t.Fatalf("keys=%d", resp.Keys)
	}

	srv.SetError("FORCED")
	if rr := doJSON(router, http.MethodGet, "/api/stats", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("store down: code=%d", rr.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	big := bytes.Repeat([]byte("a"), maxBodySize+1)
	req := httptest.NewRequest(http.MethodPut, "/api/cache/user/42", bytes.NewReader(big))
	req.Header.Set("Content-Type", contentTypeJSON)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("code=%d", rr.Code)
	}
}

func TestGzipDecompress(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	io.WriteString(gz, `{"v":{"name":"Alice"}}`)
	gz.Close()

	req := httptest.NewRequest(http.MethodPut, "/api/cache/user/42", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", contentTypeJSON)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestGzipCompressLargeResponse(t *testing.T) {
	router, _, cleanup := setupRouter(t)
	defer cleanup()

	value := `{"blob":"` + strings.Repeat("x", 2*gzipThreshold) + `"}`
	doJSON(router, http.MethodPut, "/api/cache/user/42", `{"v":`+value+`}`)

	req := httptest.NewRequest(http.MethodGet, "/api/cache/user/42", nil)
	req.Header.Set("Accept-Encoding", encodingGzip)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	if rr.Header().Get(headerContentEncoding) != encodingGzip {
		t.Fatalf("expected gzipped response")
	}

	gz, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"f":true`) {
		t.Fatalf("unexpected body: %s", data)
	}
}

func TestMetricsHealth(t *testing.T) {
	router := NewMetricRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d", rr.Code)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"status":"UP"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics code=%d", rr.Code)
	}
}
