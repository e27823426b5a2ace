package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/clarus/internal/middleware"
	"github.com/hitoshi/clarus/internal/model"
)

type stubHealthChecker struct{ err error }

func (s stubHealthChecker) PingContext(context.Context) error { return s.err }

type recordingActivator struct{ scopes []string }

func (a *recordingActivator) Activate(_ context.Context, scope string) {
	a.scopes = append(a.scopes, scope)
}

func newRouterTestDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	return &RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		AnalysisService:   &mockAnalysisService{},
		ChatService:       &mockChatService{},
	}
}

func serve(router http.Handler, method, path string, body []byte, scope string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if scope != "" {
		req.Header.Set(middleware.ScopeHeader, scope)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_Health(t *testing.T) {
	deps := newRouterTestDeps(t)
	router := NewRouter(deps)

	w := serve(router, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	deps.HealthChecker = stubHealthChecker{err: errors.New("db down")}
	router = NewRouter(deps)
	if w := serve(router, http.MethodGet, "/health", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_MetricsIsOptional(t *testing.T) {
	deps := newRouterTestDeps(t)
	if w := serve(NewRouter(deps), http.MethodGet, "/metrics", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("without handler: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "clarus_analyses_created_total 1\n")
	})
	w := serve(NewRouter(deps), http.MethodGet, "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("with handler: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_RoutesReachHandlers(t *testing.T) {
	deps := newRouterTestDeps(t)
	var calls []string
	deps.AnalysisService = &mockAnalysisService{
		currentFn:           func(context.Context, string) *model.Analysis { calls = append(calls, "current"); return nil },
		closeFn:             func(context.Context, string) { calls = append(calls, "close") },
		listHistoryFn:       func(context.Context, string, string) []model.Analysis { calls = append(calls, "history"); return nil },
		deleteFromHistoryFn: func(_ context.Context, _, id string) { calls = append(calls, "history-delete:"+id) },
		listSavedFn:         func(context.Context, string, string) []model.Analysis { calls = append(calls, "saved"); return nil },
		saveFn: func(_ context.Context, _, id string) (*model.Analysis, error) {
			calls = append(calls, "save:"+id)
			return sampleAnalysis(id), nil
		},
		deleteFn: func(_ context.Context, _, id string) { calls = append(calls, "saved-delete:"+id) },
		selectFn: func(_ context.Context, _, id string) (*model.Analysis, error) {
			calls = append(calls, "select:"+id)
			return sampleAnalysis(id), nil
		},
		exportFn: func(context.Context, string, string) ([]byte, string, error) {
			calls = append(calls, "export")
			return []byte("[]"), "application/json", nil
		},
	}
	deps.ChatService = &mockChatService{
		sessionsFn:   func(context.Context, string) []model.ChatSession { calls = append(calls, "sessions"); return nil },
		newSessionFn: func(context.Context, string) model.ChatSession { calls = append(calls, "new-session"); return greetingSession("s1") },
		activeFn:     func(context.Context, string) model.ChatSession { calls = append(calls, "active"); return greetingSession("s1") },
		setActiveFn: func(_ context.Context, _, id string) (model.ChatSession, error) {
			calls = append(calls, "set-active:"+id)
			return greetingSession(id), nil
		},
		sendFn: func(_ context.Context, _, id, _ string) (model.ChatSession, error) {
			calls = append(calls, "send:"+id)
			return greetingSession(id), nil
		},
		deleteSessionFn: func(_ context.Context, _, id string) { calls = append(calls, "delete-session:"+id) },
	}
	router := NewRouter(deps)

	tests := []struct {
		method     string
		path       string
		body       []byte
		wantStatus int
		wantCall   string
	}{
		{http.MethodGet, "/api/analyses/current", nil, http.StatusNoContent, "current"},
		{http.MethodDelete, "/api/analyses/current", nil, http.StatusNoContent, "close"},
		{http.MethodGet, "/api/analyses/history?q=x", nil, http.StatusOK, "history"},
		{http.MethodDelete, "/api/analyses/history/7", nil, http.StatusNoContent, "history-delete:7"},
		{http.MethodGet, "/api/analyses/saved", nil, http.StatusOK, "saved"},
		{http.MethodGet, "/api/analyses/saved/export?format=json", nil, http.StatusOK, "export"},
		{http.MethodPost, "/api/analyses/saved/7", nil, http.StatusOK, "save:7"},
		{http.MethodDelete, "/api/analyses/saved/7", nil, http.StatusNoContent, "saved-delete:7"},
		{http.MethodPost, "/api/analyses/7/select", nil, http.StatusOK, "select:7"},
		{http.MethodGet, "/api/chat/sessions", nil, http.StatusOK, "sessions"},
		{http.MethodPost, "/api/chat/sessions", nil, http.StatusCreated, "new-session"},
		{http.MethodGet, "/api/chat/sessions/active", nil, http.StatusOK, "active"},
		{http.MethodPut, "/api/chat/sessions/s2/active", nil, http.StatusOK, "set-active:s2"},
		{http.MethodPost, "/api/chat/sessions/s2/messages", []byte(`{"content":"hi"}`), http.StatusOK, "send:s2"},
		{http.MethodDelete, "/api/chat/sessions/s2", nil, http.StatusNoContent, "delete-session:s2"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			calls = nil
			w := serve(router, tt.method, tt.path, tt.body, "user-1")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if len(calls) != 1 || calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", calls, tt.wantCall)
			}
		})
	}
}

func TestNewRouter_ScopeHeaderReachesService(t *testing.T) {
	deps := newRouterTestDeps(t)
	var scopes []string
	deps.AnalysisService = &mockAnalysisService{
		currentFn: func(_ context.Context, scope string) *model.Analysis {
			scopes = append(scopes, scope)
			return nil
		},
	}
	router := NewRouter(deps)

	serve(router, http.MethodGet, "/api/analyses/current", nil, "user-abc")
	serve(router, http.MethodGet, "/api/analyses/current", nil, "")

	if len(scopes) != 2 || scopes[0] != "user-abc" || scopes[1] != model.GuestScope {
		t.Errorf("scopes = %v, want [user-abc guest]", scopes)
	}
}

func TestNewRouter_InvalidScopeRejected(t *testing.T) {
	deps := newRouterTestDeps(t)
	router := NewRouter(deps)

	w := serve(router, http.MethodGet, "/api/analyses/history", nil, "bad scope/../x")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidScope {
		t.Errorf("code = %v, want %q", body["code"], model.ErrCodeInvalidScope)
	}
}

func TestNewRouter_ActivatesScopeInDeviceMode(t *testing.T) {
	deps := newRouterTestDeps(t)
	activator := &recordingActivator{}
	deps.ScopeActivator = activator
	router := NewRouter(deps)

	serve(router, http.MethodGet, "/api/analyses/current", nil, "user-1")
	serve(router, http.MethodGet, "/health", nil, "user-2")

	// /health はスコープミドルウェアの外
	if len(activator.scopes) != 1 || activator.scopes[0] != "user-1" {
		t.Errorf("activated = %v, want [user-1]", activator.scopes)
	}
}

func TestNewRouter_AnalyzeRateLimit(t *testing.T) {
	deps := newRouterTestDeps(t)
	deps.RateLimiter = middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100, 1))
	t.Cleanup(deps.RateLimiter.Stop)
	deps.AnalysisService = &mockAnalysisService{
		analyzeFn: func(context.Context, string, string, model.ContentType) (*model.Analysis, error) {
			return sampleAnalysis("1"), nil
		},
	}
	router := NewRouter(deps)

	body := []byte(`{"content":"claim","type":"text"}`)
	if w := serve(router, http.MethodPost, "/api/analyses", body, "user-1"); w.Code != http.StatusCreated {
		t.Fatalf("first analyze: status = %d, want %d", w.Code, http.StatusCreated)
	}
	if w := serve(router, http.MethodPost, "/api/analyses", body, "user-1"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second analyze: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	// 分析以外のエンドポイントは影響を受けない
	if w := serve(router, http.MethodGet, "/api/analyses/history", nil, "user-1"); w.Code != http.StatusOK {
		t.Errorf("history: status = %d, want %d", w.Code, http.StatusOK)
	}
	// 別スコープは独立
	if w := serve(router, http.MethodPost, "/api/analyses", body, "user-2"); w.Code != http.StatusCreated {
		t.Errorf("other scope: status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	router := NewRouter(newRouterTestDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/analyses", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewRouter_PanicRecovered(t *testing.T) {
	deps := newRouterTestDeps(t)
	deps.AnalysisService = &mockAnalysisService{
		listSavedFn: func(context.Context, string, string) []model.Analysis { panic("boom") },
	}
	router := NewRouter(deps)

	w := serve(router, http.MethodGet, "/api/analyses/saved", nil, "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v, want INTERNAL_ERROR", body["code"])
	}
}

func TestNewRouter_HealthTimeoutContext(t *testing.T) {
	deps := newRouterTestDeps(t)
	deps.HealthChecker = deadlineChecker{t: t}
	if w := serve(NewRouter(deps), http.MethodGet, "/health", nil, ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

type deadlineChecker struct{ t *testing.T }

func (d deadlineChecker) PingContext(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		d.t.Error("health check context should carry a deadline")
		return nil
	}
	if time.Until(deadline) > 2*time.Second {
		d.t.Errorf("deadline too far: %v", time.Until(deadline))
	}
	return nil
}
