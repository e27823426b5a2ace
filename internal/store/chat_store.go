package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
	"github.com/hitoshi/clarus/internal/repository"
)

// ChatStore はスコープごとのチャットセッション一覧とアクティブセッションのポインタを管理する。
type ChatStore interface {
	Sessions(ctx context.Context, scope string) []model.ChatSession
	// UpdateSessions はセッション一覧を fn の結果で置き換え、その結果を返す。
	// 永続化に失敗した場合も fn の結果を返す。
	UpdateSessions(ctx context.Context, scope string, fn func([]model.ChatSession) []model.ChatSession) []model.ChatSession
	ActiveID(ctx context.Context, scope string) string
	SetActiveID(ctx context.Context, scope, id string)
}

// RegisterChatStore はレジスタリポジトリ上の ChatStore 実装。
type RegisterChatStore struct {
	repo    repository.RegisterRepository
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewRegisterChatStore はRegisterChatStoreを生成する。
func NewRegisterChatStore(repo repository.RegisterRepository, logger *slog.Logger, m metrics.MetricsCollector) *RegisterChatStore {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &RegisterChatStore{repo: repo, logger: logger, metrics: m}
}

// Sessions はセッション一覧を返す。存在しない場合や読み込めない場合は空スライスを返す。
func (s *RegisterChatStore) Sessions(ctx context.Context, scope string) []model.ChatSession {
	key := ChatSessionsKey(scope)
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		s.degraded("chat_sessions", key, err)
		return []model.ChatSession{}
	}
	sessions, err := decodeSessions(raw)
	if err != nil {
		s.degraded("chat_sessions", key, err)
		return []model.ChatSession{}
	}
	return sessions
}

// UpdateSessions はセッション一覧を読み込み、fn の結果で置き換える。
func (s *RegisterChatStore) UpdateSessions(ctx context.Context, scope string, fn func([]model.ChatSession) []model.ChatSession) []model.ChatSession {
	key := ChatSessionsKey(scope)

	var result []model.ChatSession
	applied := false
	err := s.repo.Update(ctx, key, func(current []byte) ([]byte, error) {
		sessions, err := decodeSessions(current)
		if err != nil {
			s.logger.Warn("corrupt chat sessions overwritten",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			sessions = []model.ChatSession{}
		}
		result = fn(sessions)
		applied = true
		return json.Marshal(result)
	})
	if err != nil {
		s.degraded("chat_update", key, err)
		if !applied {
			result = fn([]model.ChatSession{})
		}
	}
	if result == nil {
		result = []model.ChatSession{}
	}
	return result
}

// ActiveID はアクティブなセッションIDを返す。未設定の場合は空文字列を返す。
func (s *RegisterChatStore) ActiveID(ctx context.Context, scope string) string {
	key := ActiveChatKey(scope)
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		s.degraded("chat_active", key, err)
		return ""
	}
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		s.degraded("chat_active", key, err)
		return ""
	}
	return id
}

// SetActiveID はアクティブなセッションIDを記録する。
func (s *RegisterChatStore) SetActiveID(ctx context.Context, scope, id string) {
	key := ActiveChatKey(scope)
	err := s.repo.Update(ctx, key, func([]byte) ([]byte, error) {
		return json.Marshal(id)
	})
	if err != nil {
		s.degraded("chat_set_active", key, err)
	}
}

func (s *RegisterChatStore) degraded(op, key string, err error) {
	s.metrics.RecordStoreError(op)
	s.logger.Error("chat store degraded",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

func decodeSessions(raw []byte) ([]model.ChatSession, error) {
	if len(raw) == 0 {
		return []model.ChatSession{}, nil
	}
	var sessions []model.ChatSession
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.ChatSession{}
	}
	return sessions, nil
}

var _ ChatStore = (*RegisterChatStore)(nil)
