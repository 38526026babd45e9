package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pastry/cfg"
	"pastry/pkg/domain"
	"pastry/svc/cache"
	"pastry/svc/db"
	"pastry/svc/highlight"
	"pastry/svc/lim"
	"pastry/svc/svc"
)

func apiCfg() *cfg.Cfg {
	return &cfg.Cfg{
		Port:              "8080",
		Environment:       "development",
		MaxPasteSize:      64 * 1024,
		DefaultExpiry:     0,
		MinExpiry:         time.Minute,
		MaxExpiry:         365 * 24 * time.Hour,
		ExpiryPresets:     []time.Duration{time.Hour, 24 * time.Hour},
		LongIDAllowed:     true,
		PublicListEnabled: true,
		MaxListPageSize:   50,
		LRUCacheSize:      100,
		DefaultLanguage:   "none",
		RateLimit:         cfg.RateLimitCfg{RPM: 6000, Burst: 1000},
		ContextTimeout:    5 * time.Second,
	}
}

func newTestAPI(t *testing.T, c *cfg.Cfg) *Server {
	t.Helper()
	sqlDB, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lru, err := cache.NewLRU(c.LRUCacheSize)
	if err != nil {
		t.Fatalf("NewLRU failed: %v", err)
	}
	resolver, err := highlight.NewResolver(c.SupportedLanguages, c.DefaultLanguage)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	pasteSvc := svc.NewPaste(sqlDB, lru, nil, resolver, c)
	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.TrustedProxies)
	t.Cleanup(limiter.Stop)
	return NewServer(c, pasteSvc, limiter, sqlDB, nil)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeErrCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["code"]
}

func TestCreateThenGet(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "package main"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created CreateResp
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if len(created.ID) != 8 {
		t.Errorf("id = %q, want 8 chars", created.ID)
	}
	if created.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want absent with zero default", created.ExpiresAt)
	}
	if created.Language != "none" {
		t.Errorf("language = %q, want none", created.Language)
	}

	w = doJSON(t, srv, http.MethodGet, "/pastes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var paste domain.Paste
	if err := json.NewDecoder(w.Body).Decode(&paste); err != nil {
		t.Fatalf("decode paste: %v", err)
	}
	if paste.Content != "package main" {
		t.Errorf("content = %q", paste.Content)
	}
}

func TestCreateContentTypeRequired(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(`{"content":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", w.Code)
	}
}

func TestCreateRejectsUnknownFields(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(`{"content":"x","author":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeErrCode(t, w); code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", code)
	}
}

func TestCreateEmptyContent(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeErrCode(t, w); code != "CONTENT_REQUIRED" {
		t.Errorf("code = %q, want CONTENT_REQUIRED", code)
	}
}

func TestCreateWithTitle(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", Title: "  my snippet  ", Visibility: "public"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created CreateResp
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Title != "my snippet" {
		t.Errorf("title = %q, want trimmed echo", created.Title)
	}

	w = doJSON(t, srv, http.MethodGet, "/pastes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var paste domain.Paste
	if err := json.NewDecoder(w.Body).Decode(&paste); err != nil {
		t.Fatalf("decode paste: %v", err)
	}
	if paste.Title != "my snippet" {
		t.Errorf("stored title = %q", paste.Title)
	}

	w = doJSON(t, srv, http.MethodGet, "/pastes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list ListResp
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Pastes) != 1 || list.Pastes[0].Title != "my snippet" {
		t.Errorf("list = %+v, want summary carrying the title", list.Pastes)
	}
}

func TestCreateTitleTooLong(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", Title: strings.Repeat("t", 33)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeErrCode(t, w); code != "TITLE_TOO_LONG" {
		t.Errorf("code = %q, want TITLE_TOO_LONG", code)
	}
}

func TestCreateTooLarge(t *testing.T) {
	c := apiCfg()
	c.MaxPasteSize = 32
	srv := newTestAPI(t, c)
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: strings.Repeat("x", 64)})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeErrCode(t, w); code != "PASTE_TOO_LARGE" {
		t.Errorf("code = %q, want PASTE_TOO_LARGE", code)
	}
}

func TestCreateInvalidLanguage(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	lang := "klingon"
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", Language: &lang})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeErrCode(t, w); code != "INVALID_LANGUAGE" {
		t.Errorf("code = %q, want INVALID_LANGUAGE", code)
	}
}

func TestCreateExplicitNone(t *testing.T) {
	c := apiCfg()
	c.DefaultLanguage = "go"
	srv := newTestAPI(t, c)
	lang := "none"
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", Language: &lang})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created CreateResp
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Language != "none" {
		t.Errorf("language = %q, explicit none absorbed by default", created.Language)
	}
}

func TestCreateExpiry(t *testing.T) {
	srv := newTestAPI(t, apiCfg())

	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", ExpiresIn: "1h"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created CreateResp
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ExpiresAt == nil {
		t.Error("expires_at absent for explicit duration")
	}

	w = doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", ExpiresIn: "never"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}
	created = CreateResp{}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ExpiresAt != nil {
		t.Errorf("expires_at = %v for explicit never", created.ExpiresAt)
	}

	for _, bad := range []string{"soon", "-5m", "0s"} {
		w = doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", ExpiresIn: bad})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expires_in %q status = %d, want 400", bad, w.Code)
			continue
		}
		if code := decodeErrCode(t, w); code != "INVALID_DURATION" {
			t.Errorf("expires_in %q code = %q, want INVALID_DURATION", bad, code)
		}
	}

	// Below the deployment minimum.
	w = doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", ExpiresIn: "5s"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("below-min status = %d, want 400", w.Code)
	}
}

func TestCreateLongIDDisabled(t *testing.T) {
	c := apiCfg()
	c.LongIDAllowed = false
	srv := newTestAPI(t, c)
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "x", LongID: true})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if code := decodeErrCode(t, w); code != "FEATURE_DISABLED" {
		t.Errorf("code = %q, want FEATURE_DISABLED", code)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodGet, "/pastes/nothere1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := decodeErrCode(t, w); code != "PASTE_NOT_FOUND" {
		t.Errorf("code = %q, want PASTE_NOT_FOUND", code)
	}
}

func TestDeletePaste(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "doomed"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}
	var created CreateResp
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	w = doJSON(t, srv, http.MethodDelete, "/pastes/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/pastes/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
	// Idempotent.
	w = doJSON(t, srv, http.MethodDelete, "/pastes/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("repeat delete status = %d, want 204", w.Code)
	}
}

func TestListPastes(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	for i := 0; i < 3; i++ {
		w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "public", Visibility: "public"})
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d", w.Code)
		}
	}
	w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "hidden"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/pastes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list ListResp
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Pastes) != 3 {
		t.Errorf("listed %d pastes, want 3 public", len(list.Pastes))
	}
	if list.NextCursor != "" {
		t.Errorf("next_cursor = %q, want empty", list.NextCursor)
	}
	for _, sum := range list.Pastes {
		if sum.Snippet != "public" {
			t.Errorf("snippet = %q", sum.Snippet)
		}
	}
}

func TestListPastesPaginates(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	for i := 0; i < 5; i++ {
		w := doJSON(t, srv, http.MethodPost, "/pastes", CreateReq{Content: "public", Visibility: "public"})
		if w.Code != http.StatusCreated {
			t.Fatalf("create status = %d", w.Code)
		}
	}
	w := doJSON(t, srv, http.MethodGet, "/pastes?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var first ListResp
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(first.Pastes) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %d pastes, cursor %q", len(first.Pastes), first.NextCursor)
	}
	w = doJSON(t, srv, http.MethodGet, "/pastes?limit=2&cursor="+first.NextCursor, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second page status = %d", w.Code)
	}
	var second ListResp
	if err := json.NewDecoder(w.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, a := range first.Pastes {
		for _, b := range second.Pastes {
			if a.ID == b.ID {
				t.Fatalf("id %s repeated across pages", a.ID)
			}
		}
	}
}

func TestListPastesDisabled(t *testing.T) {
	c := apiCfg()
	c.PublicListEnabled = false
	srv := newTestAPI(t, c)
	w := doJSON(t, srv, http.MethodGet, "/pastes", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if code := decodeErrCode(t, w); code != "FEATURE_DISABLED" {
		t.Errorf("code = %q, want FEATURE_DISABLED", code)
	}
}

func TestListPastesBadCursor(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodGet, "/pastes?cursor=%21%21%21", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetLanguages(t *testing.T) {
	c := apiCfg()
	c.SupportedLanguages = []string{"go", "python"}
	srv := newTestAPI(t, c)
	w := doJSON(t, srv, http.MethodGet, "/config/languages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var langs []string
	if err := json.NewDecoder(w.Body).Decode(&langs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"go", "none", "python"}
	if len(langs) != len(want) {
		t.Fatalf("languages = %v, want %v", langs, want)
	}
	for i := range want {
		if langs[i] != want[i] {
			t.Fatalf("languages = %v, want %v", langs, want)
		}
	}
}

func TestGetPresets(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodGet, "/config/presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var presets []string
	if err := json.NewDecoder(w.Body).Decode(&presets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(presets) != 2 || presets[0] != "1h0m0s" {
		t.Errorf("presets = %v", presets)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/ready", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestAPI(t, apiCfg())
	w := doJSON(t, srv, http.MethodGet, "/pastes/nothere1", nil)
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("X-Request-ID"); got == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestSanitizeContent(t *testing.T) {
	in := "line1\nline2\ttab\x00\x01\x7f"
	got := sanitizeContent(in)
	if got != "line1\nline2\ttab" {
		t.Errorf("sanitizeContent = %q", got)
	}
}
