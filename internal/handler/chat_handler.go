package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clarus/internal/middleware"
	"github.com/hitoshi/clarus/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	NewSession(ctx context.Context, scope string) model.ChatSession
	Sessions(ctx context.Context, scope string) []model.ChatSession
	Active(ctx context.Context, scope string) model.ChatSession
	SetActive(ctx context.Context, scope, id string) (model.ChatSession, error)
	// Send はユーザーの発言を追加し、リモート推論サービスの応答を追加したセッションを返す。
	Send(ctx context.Context, scope, sessionID, content string) (model.ChatSession, error)
	DeleteSession(ctx context.Context, scope, id string)
}

// ChatHandler はチャットセッションのHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// ListSessions はスコープのチャットセッション一覧を返す。
// GET /api/chat/sessions
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.service.Sessions(r.Context(), middleware.ScopeFromContext(r.Context()))
	if sessions == nil {
		sessions = []model.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreateSession は新しいセッションを作成してアクティブにする。
// POST /api/chat/sessions
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	session := h.service.NewSession(r.Context(), middleware.ScopeFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, session)
}

// ActiveSession はアクティブなセッションを返す。
// GET /api/chat/sessions/active
func (h *ChatHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Active(r.Context(), middleware.ScopeFromContext(r.Context())))
}

// SetActive はセッションをアクティブにする。
// PUT /api/chat/sessions/{id}/active
func (h *ChatHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.SetActive(r.Context(), middleware.ScopeFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SendMessage はメッセージを送信する。
// リモート呼び出しに失敗した場合、謝罪の応答はセッションに残りエラーレスポンスを返す。
// POST /api/chat/sessions/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	scope := middleware.ScopeFromContext(r.Context())
	session, err := h.service.Send(r.Context(), scope, chi.URLParam(r, "id"), req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// DeleteSession はセッションを削除する。
// DELETE /api/chat/sessions/{id}
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.service.DeleteSession(r.Context(), middleware.ScopeFromContext(r.Context()), chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
