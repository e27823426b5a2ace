package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clarus/internal/middleware"
	"github.com/hitoshi/clarus/internal/model"
)

// AnalysisServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalysisServiceInterface interface {
	// Analyze は投稿されたコンテンツを分析し、履歴に追加して表示中にする。
	Analyze(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error)
	Current(ctx context.Context, scope string) *model.Analysis
	Close(ctx context.Context, scope string)
	Select(ctx context.Context, scope, id string) (*model.Analysis, error)
	ListHistory(ctx context.Context, scope, query string) []model.Analysis
	DeleteFromHistory(ctx context.Context, scope, id string)
	ListSaved(ctx context.Context, scope, query string) []model.Analysis
	Save(ctx context.Context, scope, id string) (*model.Analysis, error)
	Delete(ctx context.Context, scope, id string)
	// Export は保存済みライブラリを書き出し、内容とContent-Typeを返す。
	Export(ctx context.Context, scope, format string) ([]byte, string, error)
}

// AnalysisHandler はファクトチェック分析のHTTPハンドラー。
type AnalysisHandler struct {
	service AnalysisServiceInterface
}

// NewAnalysisHandler はAnalysisHandlerを生成する。
func NewAnalysisHandler(service AnalysisServiceInterface) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// analyzeRequest は分析リクエストのボディ。
// type が空の場合は url とする。
type analyzeRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Analyze は分析を実行する。
// POST /api/analyses
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	contentType := model.ContentType(strings.ToLower(strings.TrimSpace(req.Type)))
	if contentType == "" {
		contentType = model.ContentTypeURL
	}

	scope := middleware.ScopeFromContext(r.Context())
	a, err := h.service.Analyze(r.Context(), scope, req.Content, contentType)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// Current は表示中の分析を返す。表示中の分析がなければ204を返す。
// GET /api/analyses/current
func (h *AnalysisHandler) Current(w http.ResponseWriter, r *http.Request) {
	a := h.service.Current(r.Context(), middleware.ScopeFromContext(r.Context()))
	if a == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Close は表示中の分析を閉じる。
// DELETE /api/analyses/current
func (h *AnalysisHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.service.Close(r.Context(), middleware.ScopeFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// Select は履歴または保存済みの分析を表示中にする。
// POST /api/analyses/{id}/select
func (h *AnalysisHandler) Select(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Select(r.Context(), middleware.ScopeFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListHistory は履歴を返す。?q= で絞り込む。
// GET /api/analyses/history
func (h *AnalysisHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	list := h.service.ListHistory(r.Context(), middleware.ScopeFromContext(r.Context()), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, nonNil(list))
}

// DeleteFromHistory は履歴から分析を削除する。存在しないIDでも204を返す。
// DELETE /api/analyses/history/{id}
func (h *AnalysisHandler) DeleteFromHistory(w http.ResponseWriter, r *http.Request) {
	h.service.DeleteFromHistory(r.Context(), middleware.ScopeFromContext(r.Context()), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ListSaved は保存済みライブラリを返す。
// GET /api/analyses/saved
func (h *AnalysisHandler) ListSaved(w http.ResponseWriter, r *http.Request) {
	list := h.service.ListSaved(r.Context(), middleware.ScopeFromContext(r.Context()), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, nonNil(list))
}

// Save は分析をライブラリに保存する。
// POST /api/analyses/saved/{id}
func (h *AnalysisHandler) Save(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Save(r.Context(), middleware.ScopeFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Delete はライブラリから分析を削除する。
// DELETE /api/analyses/saved/{id}
func (h *AnalysisHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.service.Delete(r.Context(), middleware.ScopeFromContext(r.Context()), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// Export は保存済みライブラリを添付ファイルとして返す。
// GET /api/analyses/saved/export?format=json|yaml
func (h *AnalysisHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	body, contentType, err := h.service.Export(r.Context(), middleware.ScopeFromContext(r.Context()), format)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	ext := "json"
	if contentType == "application/yaml" {
		ext = "yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="clarus-library.%s"`, ext))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func nonNil(list []model.Analysis) []model.Analysis {
	if list == nil {
		return []model.Analysis{}
	}
	return list
}
