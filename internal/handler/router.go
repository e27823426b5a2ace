package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/clarus/internal/middleware"
)

// HealthChecker は永続化層の疎通確認を行う。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	ScopeActivator    middleware.ScopeActivator // 端末共有モード以外では nil

	// 運用
	HealthChecker  HealthChecker // nil の場合は疎通確認を省略する
	MetricsHandler http.Handler  // nil の場合は /metrics を公開しない

	AnalysisService AnalysisServiceInterface
	ChatService     ChatServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Scope → RateLimit(General)
//
// /health と /metrics はスコープとレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	analysisHandler := NewAnalysisHandler(deps.AnalysisService)
	chatHandler := NewChatHandler(deps.ChatService)

	// ミドルウェアスタック: Scope → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewScopeMiddleware(deps.ScopeActivator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/analyses", func(r chi.Router) {
			// POST /api/analyses - 分析実行（分析専用レート制限を追加）
			r.With(deps.RateLimiter.AnalyzeMiddleware()).Post("/", analysisHandler.Analyze)

			r.Get("/current", analysisHandler.Current)
			r.Delete("/current", analysisHandler.Close)

			r.Get("/history", analysisHandler.ListHistory)
			r.Delete("/history/{id}", analysisHandler.DeleteFromHistory)

			r.Route("/saved", func(r chi.Router) {
				r.Get("/", analysisHandler.ListSaved)
				r.Get("/export", analysisHandler.Export)
				r.Post("/{id}", analysisHandler.Save)
				r.Delete("/{id}", analysisHandler.Delete)
			})

			r.Post("/{id}/select", analysisHandler.Select)
		})

		r.Route("/api/chat/sessions", func(r chi.Router) {
			r.Get("/", chatHandler.ListSessions)
			r.Post("/", chatHandler.CreateSession)
			r.Get("/active", chatHandler.ActiveSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", chatHandler.DeleteSession)
				r.Put("/active", chatHandler.SetActive)
				r.Post("/messages", chatHandler.SendMessage)
			})
		})
	})

	return r
}

// healthHandler は疎通確認の結果を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
