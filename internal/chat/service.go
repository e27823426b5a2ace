// Package chat はスコープごとのチャットセッションとリモート推論サービスとの対話を扱う。
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
	"github.com/hitoshi/clarus/internal/normalize"
	"github.com/hitoshi/clarus/internal/store"
)

// titleLength は最初の発言から作るセッションタイトルの最大文字数。
const titleLength = 35

// ChatClient はリモート推論サービスに対話を依頼し、生の応答本文を返す。
type ChatClient interface {
	Chat(ctx context.Context, message string) (string, error)
}

// Service はチャットセッションの作成・送信・削除を提供する。
type Service struct {
	store   store.ChatStore
	client  ChatClient
	newID   func() string
	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(st store.ChatStore, client ChatClient, logger *slog.Logger, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		store:   st,
		client:  client,
		newID:   uuid.NewString,
		now:     time.Now,
		logger:  logger,
		metrics: mc,
	}
}

// NewSession は挨拶メッセージだけを持つセッションを先頭に追加し、アクティブにする。
func (s *Service) NewSession(ctx context.Context, scope string) model.ChatSession {
	session := model.ChatSession{
		ID:    s.newID(),
		Title: model.DefaultChatTitle,
		Messages: []model.Message{{
			ID:        s.newID(),
			Content:   model.ChatGreeting,
			Role:      model.RoleAssistant,
			Timestamp: s.now().UTC(),
		}},
	}
	s.store.UpdateSessions(ctx, scope, func(sessions []model.ChatSession) []model.ChatSession {
		return append([]model.ChatSession{session}, sessions...)
	})
	s.store.SetActiveID(ctx, scope, session.ID)
	return session
}

// Sessions はセッション一覧を新しい順に返す。
func (s *Service) Sessions(ctx context.Context, scope string) []model.ChatSession {
	return s.store.Sessions(ctx, scope)
}

// Active はアクティブなセッションを返す。
// 記録されたIDが存在しない場合は先頭のセッション、セッションが1件もない場合は新規作成する。
func (s *Service) Active(ctx context.Context, scope string) model.ChatSession {
	sessions := s.store.Sessions(ctx, scope)
	if len(sessions) == 0 {
		return s.NewSession(ctx, scope)
	}
	if session, ok := findSession(sessions, s.store.ActiveID(ctx, scope)); ok {
		return session
	}
	s.store.SetActiveID(ctx, scope, sessions[0].ID)
	return sessions[0]
}

// SetActive は id のセッションをアクティブにする。
func (s *Service) SetActive(ctx context.Context, scope, id string) (model.ChatSession, error) {
	session, ok := findSession(s.store.Sessions(ctx, scope), id)
	if !ok {
		return model.ChatSession{}, model.NewChatSessionNotFoundError(id)
	}
	s.store.SetActiveID(ctx, scope, id)
	return session, nil
}

// Send はユーザーの発言をセッションに追加し、リモートの応答を追記したセッションを返す。
// リモート呼び出しに失敗した場合は謝罪メッセージを追記したうえでエラーを返す。
func (s *Service) Send(ctx context.Context, scope, sessionID, content string) (model.ChatSession, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.ChatSession{}, model.NewInputRequiredError()
	}
	if _, ok := findSession(s.store.Sessions(ctx, scope), sessionID); !ok {
		return model.ChatSession{}, model.NewChatSessionNotFoundError(sessionID)
	}

	userMessage := model.Message{
		ID:        s.newID(),
		Content:   content,
		Role:      model.RoleUser,
		Timestamp: s.now().UTC(),
	}
	s.appendMessage(ctx, scope, sessionID, userMessage, true)

	raw, err := s.client.Chat(ctx, content)
	if err != nil {
		s.logger.Warn("チャット応答の取得に失敗しました",
			slog.String("scope", scope),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		session := s.appendMessage(ctx, scope, sessionID, model.Message{
			ID:        s.newID(),
			Content:   model.ChatErrorReply,
			Role:      model.RoleAssistant,
			Timestamp: s.now().UTC(),
		}, false)
		return session, err
	}

	result := normalize.NormalizeChat(raw)
	s.metrics.RecordNormalization(string(normalize.KindChat), result.Outcome.String())
	if result.Outcome == normalize.OutcomeFallback {
		s.logger.Warn("チャット応答を解釈できなかったためフォールバックを使用します",
			slog.String("scope", scope),
			slog.String("reason", result.Reason),
		)
	}

	session := s.appendMessage(ctx, scope, sessionID, model.Message{
		ID:        s.newID(),
		Content:   result.Reply.Message,
		Role:      model.RoleAssistant,
		Timestamp: s.now().UTC(),
		Sources:   result.Reply.Sources,
	}, false)
	return session, nil
}

// DeleteSession はセッションを削除する。
// アクティブなセッションだった場合は残りの先頭をアクティブにし、残りがなければ新規作成する。
func (s *Service) DeleteSession(ctx context.Context, scope, id string) {
	remaining := s.store.UpdateSessions(ctx, scope, func(sessions []model.ChatSession) []model.ChatSession {
		kept := make([]model.ChatSession, 0, len(sessions))
		for _, session := range sessions {
			if session.ID != id {
				kept = append(kept, session)
			}
		}
		return kept
	})

	if s.store.ActiveID(ctx, scope) != id {
		return
	}
	if len(remaining) > 0 {
		s.store.SetActiveID(ctx, scope, remaining[0].ID)
		return
	}
	s.NewSession(ctx, scope)
}

// appendMessage はセッションにメッセージを追加して更新後のセッションを返す。
// retitle が真で既定タイトルのままなら、メッセージ本文からタイトルを付ける。
func (s *Service) appendMessage(ctx context.Context, scope, sessionID string, msg model.Message, retitle bool) model.ChatSession {
	var updated model.ChatSession
	s.store.UpdateSessions(ctx, scope, func(sessions []model.ChatSession) []model.ChatSession {
		for i := range sessions {
			if sessions[i].ID != sessionID {
				continue
			}
			if retitle && sessions[i].Title == model.DefaultChatTitle {
				sessions[i].Title = model.Preview(msg.Content, titleLength)
			}
			sessions[i].Messages = append(sessions[i].Messages, msg)
			updated = sessions[i]
		}
		return sessions
	})
	return updated
}

func findSession(sessions []model.ChatSession, id string) (model.ChatSession, bool) {
	if id == "" {
		return model.ChatSession{}, false
	}
	for _, session := range sessions {
		if session.ID == id {
			return session, true
		}
	}
	return model.ChatSession{}, false
}
