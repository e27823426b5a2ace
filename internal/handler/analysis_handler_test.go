package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clarus/internal/middleware"
	"github.com/hitoshi/clarus/internal/model"
)

// --- モック定義 ---

// mockAnalysisService はAnalysisServiceInterfaceのモック実装。
type mockAnalysisService struct {
	analyzeFn           func(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error)
	currentFn           func(ctx context.Context, scope string) *model.Analysis
	closeFn             func(ctx context.Context, scope string)
	selectFn            func(ctx context.Context, scope, id string) (*model.Analysis, error)
	listHistoryFn       func(ctx context.Context, scope, query string) []model.Analysis
	deleteFromHistoryFn func(ctx context.Context, scope, id string)
	listSavedFn         func(ctx context.Context, scope, query string) []model.Analysis
	saveFn              func(ctx context.Context, scope, id string) (*model.Analysis, error)
	deleteFn            func(ctx context.Context, scope, id string)
	exportFn            func(ctx context.Context, scope, format string) ([]byte, string, error)
}

func (m *mockAnalysisService) Analyze(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, scope, content, contentType)
	}
	return nil, nil
}

func (m *mockAnalysisService) Current(ctx context.Context, scope string) *model.Analysis {
	if m.currentFn != nil {
		return m.currentFn(ctx, scope)
	}
	return nil
}

func (m *mockAnalysisService) Close(ctx context.Context, scope string) {
	if m.closeFn != nil {
		m.closeFn(ctx, scope)
	}
}

func (m *mockAnalysisService) Select(ctx context.Context, scope, id string) (*model.Analysis, error) {
	if m.selectFn != nil {
		return m.selectFn(ctx, scope, id)
	}
	return nil, nil
}

func (m *mockAnalysisService) ListHistory(ctx context.Context, scope, query string) []model.Analysis {
	if m.listHistoryFn != nil {
		return m.listHistoryFn(ctx, scope, query)
	}
	return nil
}

func (m *mockAnalysisService) DeleteFromHistory(ctx context.Context, scope, id string) {
	if m.deleteFromHistoryFn != nil {
		m.deleteFromHistoryFn(ctx, scope, id)
	}
}

func (m *mockAnalysisService) ListSaved(ctx context.Context, scope, query string) []model.Analysis {
	if m.listSavedFn != nil {
		return m.listSavedFn(ctx, scope, query)
	}
	return nil
}

func (m *mockAnalysisService) Save(ctx context.Context, scope, id string) (*model.Analysis, error) {
	if m.saveFn != nil {
		return m.saveFn(ctx, scope, id)
	}
	return nil, nil
}

func (m *mockAnalysisService) Delete(ctx context.Context, scope, id string) {
	if m.deleteFn != nil {
		m.deleteFn(ctx, scope, id)
	}
}

func (m *mockAnalysisService) Export(ctx context.Context, scope, format string) ([]byte, string, error) {
	if m.exportFn != nil {
		return m.exportFn(ctx, scope, format)
	}
	return []byte("[]"), "application/json", nil
}

// --- テストヘルパー ---

// withScope はテスト用にリクエストコンテキストにスコープを注入するヘルパー。
func withScope(r *http.Request, scope string) *http.Request {
	return r.WithContext(middleware.ContextWithScope(r.Context(), scope))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func sampleAnalysis(id string) *model.Analysis {
	return &model.Analysis{
		ID:              id,
		OriginalText:    "Coffee reduces the risk of heart disease.",
		OverallAccuracy: "Partially Accurate",
		Timestamp:       "3/1/2024, 9:30:00 AM",
		Summary:         "Moderate evidence.",
		Accuracy:        model.AccuracyPartiallyAccurate,
		Confidence:      65,
		Sources:         []model.Source{},
	}
}

// --- POST /api/analyses テスト ---

func TestAnalysisHandler_Analyze_Success(t *testing.T) {
	svc := &mockAnalysisService{
		analyzeFn: func(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
			if scope != "user-1" {
				t.Errorf("scope = %q, want %q", scope, "user-1")
			}
			if content != "Coffee reduces the risk of heart disease." {
				t.Errorf("content = %q", content)
			}
			if contentType != model.ContentTypeText {
				t.Errorf("contentType = %q, want %q", contentType, model.ContentTypeText)
			}
			return sampleAnalysis("1709285400000"), nil
		},
	}
	h := NewAnalysisHandler(svc)

	body := `{"content": "Coffee reduces the risk of heart disease.", "type": "Text"}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewBufferString(body))
	req = withScope(req, "user-1")
	w := httptest.NewRecorder()

	h.Analyze(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var got model.Analysis
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "1709285400000" {
		t.Errorf("id = %q, want %q", got.ID, "1709285400000")
	}
	if got.OverallAccuracy != "Partially Accurate" {
		t.Errorf("overallAccuracy = %q, want %q", got.OverallAccuracy, "Partially Accurate")
	}
}

func TestAnalysisHandler_Analyze_DefaultsToURL(t *testing.T) {
	var gotType model.ContentType
	svc := &mockAnalysisService{
		analyzeFn: func(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
			gotType = contentType
			return sampleAnalysis("1"), nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewBufferString(`{"content": "https://example.com"}`))
	w := httptest.NewRecorder()
	h.Analyze(w, req)

	if gotType != model.ContentTypeURL {
		t.Errorf("contentType = %q, want %q", gotType, model.ContentTypeURL)
	}
}

func TestAnalysisHandler_Analyze_InvalidJSON(t *testing.T) {
	called := false
	svc := &mockAnalysisService{
		analyzeFn: func(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewBufferString(`{invalid`))
	w := httptest.NewRecorder()
	h.Analyze(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("service should not be called for an invalid body")
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidRequestPayload {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeInvalidRequestPayload)
	}
}

func TestAnalysisHandler_Analyze_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"入力なし", model.NewInputRequiredError(), http.StatusBadRequest, model.ErrCodeInputRequired},
		{"無効なURL", model.NewInvalidURLError("missing host"), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"未対応の種別", model.NewInvalidContentTypeError("audio"), http.StatusBadRequest, model.ErrCodeInvalidContentType},
		{"SSRFブロック", model.NewSSRFBlockedError(), http.StatusForbidden, model.ErrCodeSSRFBlocked},
		{"抽出失敗", model.NewExtractionFailedError(model.ExtractionRemediation), http.StatusUnprocessableEntity, model.ErrCodeExtractionFailed},
		{"リモート失敗", model.NewRemoteServiceError(503, "unavailable"), http.StatusBadGateway, model.ErrCodeRemoteService},
		{"ラップされたAPIError", fmt.Errorf("analyze: %w", model.NewRemoteServiceError(0, "")), http.StatusBadGateway, model.ErrCodeRemoteService},
		{"内部エラー", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAnalysisService{
				analyzeFn: func(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
					return nil, tt.err
				},
			}
			h := NewAnalysisHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewBufferString(`{"content": "x", "type": "url"}`))
			w := httptest.NewRecorder()
			h.Analyze(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestAnalysisHandler_Analyze_RemoteErrorIncludesUpstreamStatus(t *testing.T) {
	svc := &mockAnalysisService{
		analyzeFn: func(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
			return nil, model.NewRemoteServiceError(429, "rate limited")
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewBufferString(`{"content": "x", "type": "text"}`))
	w := httptest.NewRecorder()
	h.Analyze(w, req)

	body := parseAPIErrorResponse(t, w)
	if body["upstream_status"] != float64(429) {
		t.Errorf("upstream_status = %v, want 429", body["upstream_status"])
	}
}

// --- current のテスト ---

func TestAnalysisHandler_Current_NoContent(t *testing.T) {
	h := NewAnalysisHandler(&mockAnalysisService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/current", nil)
	w := httptest.NewRecorder()
	h.Current(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body should be empty, got %q", w.Body.String())
	}
}

func TestAnalysisHandler_Current_ReturnsAnalysis(t *testing.T) {
	svc := &mockAnalysisService{
		currentFn: func(ctx context.Context, scope string) *model.Analysis {
			if scope != model.GuestScope {
				t.Errorf("scope = %q, want %q", scope, model.GuestScope)
			}
			return sampleAnalysis("42")
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/current", nil)
	w := httptest.NewRecorder()
	h.Current(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got model.Analysis
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != "42" {
		t.Errorf("id = %q, want %q", got.ID, "42")
	}
}

func TestAnalysisHandler_Close(t *testing.T) {
	closed := ""
	svc := &mockAnalysisService{
		closeFn: func(ctx context.Context, scope string) { closed = scope },
	}
	h := NewAnalysisHandler(svc)

	req := withScope(httptest.NewRequest(http.MethodDelete, "/api/analyses/current", nil), "user-1")
	w := httptest.NewRecorder()
	h.Close(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if closed != "user-1" {
		t.Errorf("closed scope = %q, want %q", closed, "user-1")
	}
}

// --- select / save / delete のテスト ---

func TestAnalysisHandler_Select_NotFound(t *testing.T) {
	svc := &mockAnalysisService{
		selectFn: func(ctx context.Context, scope, id string) (*model.Analysis, error) {
			return nil, model.NewAnalysisNotFoundError(id)
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses/missing/select", nil)
	req = withChiURLParam(req, "id", "missing")
	w := httptest.NewRecorder()
	h.Select(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeAnalysisNotFound {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeAnalysisNotFound)
	}
	if body["category"] != "library" {
		t.Errorf("category = %v, want %q", body["category"], "library")
	}
}

func TestAnalysisHandler_Save_Success(t *testing.T) {
	svc := &mockAnalysisService{
		saveFn: func(ctx context.Context, scope, id string) (*model.Analysis, error) {
			if id != "1709285400000" {
				t.Errorf("id = %q, want %q", id, "1709285400000")
			}
			return sampleAnalysis(id), nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses/saved/1709285400000", nil)
	req = withChiURLParam(req, "id", "1709285400000")
	w := httptest.NewRecorder()
	h.Save(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAnalysisHandler_DeleteIsIdempotent(t *testing.T) {
	var deleted []string
	svc := &mockAnalysisService{
		deleteFn:            func(ctx context.Context, scope, id string) { deleted = append(deleted, "saved:"+id) },
		deleteFromHistoryFn: func(ctx context.Context, scope, id string) { deleted = append(deleted, "history:"+id) },
	}
	h := NewAnalysisHandler(svc)

	for _, call := range []struct {
		fn   http.HandlerFunc
		path string
	}{
		{h.Delete, "/api/analyses/saved/unknown"},
		{h.DeleteFromHistory, "/api/analyses/history/unknown"},
	} {
		req := withChiURLParam(httptest.NewRequest(http.MethodDelete, call.path, nil), "id", "unknown")
		w := httptest.NewRecorder()
		call.fn(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want %d", call.path, w.Code, http.StatusNoContent)
		}
	}

	if len(deleted) != 2 || deleted[0] != "saved:unknown" || deleted[1] != "history:unknown" {
		t.Errorf("deleted = %v", deleted)
	}
}

// --- 一覧のテスト ---

func TestAnalysisHandler_ListHistory_PassesQuery(t *testing.T) {
	svc := &mockAnalysisService{
		listHistoryFn: func(ctx context.Context, scope, query string) []model.Analysis {
			if query != "coffee" {
				t.Errorf("query = %q, want %q", query, "coffee")
			}
			return []model.Analysis{*sampleAnalysis("2"), *sampleAnalysis("1")}
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/history?q=coffee", nil)
	w := httptest.NewRecorder()
	h.ListHistory(w, req)

	var got []model.Analysis
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 || got[0].ID != "2" {
		t.Errorf("got %+v", got)
	}
}

func TestAnalysisHandler_ListSaved_EmptyIsArray(t *testing.T) {
	h := NewAnalysisHandler(&mockAnalysisService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/saved", nil)
	w := httptest.NewRecorder()
	h.ListSaved(w, req)

	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("body = %q, want %q", got, "[]")
	}
}

// --- export のテスト ---

func TestAnalysisHandler_Export_YAML(t *testing.T) {
	svc := &mockAnalysisService{
		exportFn: func(ctx context.Context, scope, format string) ([]byte, string, error) {
			if format != "yaml" {
				t.Errorf("format = %q, want %q", format, "yaml")
			}
			return []byte("analyses: []\n"), "application/yaml", nil
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/saved/export?format=yaml", nil)
	w := httptest.NewRecorder()
	h.Export(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/yaml")
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="clarus-library.yaml"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Body.String() != "analyses: []\n" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestAnalysisHandler_Export_UnsupportedFormat(t *testing.T) {
	svc := &mockAnalysisService{
		exportFn: func(ctx context.Context, scope, format string) ([]byte, string, error) {
			return nil, "", model.NewUnsupportedFormatError(format)
		},
	}
	h := NewAnalysisHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/saved/export?format=csv", nil)
	w := httptest.NewRecorder()
	h.Export(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
