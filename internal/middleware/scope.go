// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/clarus/internal/model"
)

// ScopeHeader は上流の認証プロキシがスコープキーを渡すヘッダー。
const ScopeHeader = "X-Clarus-Scope"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// scopeContextKey はリクエストコンテキストにスコープキーを格納するためのキー。
var scopeContextKey = contextKey("scope")

// ScopeActivator は端末共有時に他スコープの揮発データを破棄する。
// store.SessionCache の部分集合として定義する。
type ScopeActivator interface {
	Activate(ctx context.Context, scope string)
}

// NewScopeMiddleware はヘッダーからスコープキーを読み取り、コンテキストに注入するミドルウェアを返す。
// ヘッダーがない、または空白のみの場合はゲストスコープとする。
// 不正な形式のキーには400を返す。
// activator が nil でなければ、リクエストごとに現在のスコープ以外の表示中データを破棄する。
func NewScopeMiddleware(activator ScopeActivator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := strings.TrimSpace(r.Header.Get(ScopeHeader))
			if scope == "" {
				scope = model.GuestScope
			}
			if !model.ValidScope(scope) {
				WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidScopeError())
				return
			}

			if slot, ok := r.Context().Value(scopeSlotKey).(*string); ok {
				*slot = scope
			}
			if activator != nil {
				activator.Activate(r.Context(), scope)
			}

			next.ServeHTTP(w, r.WithContext(ContextWithScope(r.Context(), scope)))
		})
	}
}

// ScopeFromContext はリクエストコンテキストからスコープキーを取得する。
// スコープミドルウェアを通過していない場合はゲストスコープを返す。
func ScopeFromContext(ctx context.Context) string {
	scope, ok := ctx.Value(scopeContextKey).(string)
	if !ok || scope == "" {
		return model.GuestScope
	}
	return scope
}

// ContextWithScope はコンテキストにスコープキーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeContextKey, scope)
}
