package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
	"github.com/hitoshi/clarus/internal/repository"
	"github.com/hitoshi/clarus/internal/store"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// fakeChatClient は固定の応答を返す ChatClient。
type fakeChatClient struct {
	raw     string
	err     error
	calls   int
	lastMsg string
}

func (c *fakeChatClient) Chat(_ context.Context, message string) (string, error) {
	c.calls++
	c.lastMsg = message
	return c.raw, c.err
}

func newTestService(client ChatClient) (*Service, *store.RegisterChatStore) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	st := store.NewRegisterChatStore(repository.NewMemoryRegisterRepo(), logger, nil)
	svc := NewService(st, client, logger, metrics.NopCollector{})

	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, st
}

func TestService_NewSession(t *testing.T) {
	svc, st := newTestService(&fakeChatClient{})
	ctx := context.Background()

	first := svc.NewSession(ctx, "guest")
	second := svc.NewSession(ctx, "guest")

	if first.Title != model.DefaultChatTitle {
		t.Errorf("Title = %q, want %q", first.Title, model.DefaultChatTitle)
	}
	if len(first.Messages) != 1 || first.Messages[0].Content != model.ChatGreeting || first.Messages[0].Role != model.RoleAssistant {
		t.Errorf("Messages = %+v", first.Messages)
	}

	sessions := svc.Sessions(ctx, "guest")
	if len(sessions) != 2 || sessions[0].ID != second.ID {
		t.Errorf("新しいセッションが先頭にない: %+v", sessions)
	}
	if got := st.ActiveID(ctx, "guest"); got != second.ID {
		t.Errorf("ActiveID = %q, want %q", got, second.ID)
	}
}

func TestService_ActiveFallbacks(t *testing.T) {
	t.Run("セッションがない場合は作成する", func(t *testing.T) {
		svc, _ := newTestService(&fakeChatClient{})
		ctx := context.Background()

		active := svc.Active(ctx, "guest")
		if active.Title != model.DefaultChatTitle {
			t.Errorf("Title = %q", active.Title)
		}
		if got := len(svc.Sessions(ctx, "guest")); got != 1 {
			t.Errorf("sessions len = %d, want 1", got)
		}
	})

	t.Run("記録されたIDが無効なら先頭を使う", func(t *testing.T) {
		svc, st := newTestService(&fakeChatClient{})
		ctx := context.Background()

		svc.NewSession(ctx, "guest")
		newest := svc.NewSession(ctx, "guest")
		st.SetActiveID(ctx, "guest", "stale")

		if got := svc.Active(ctx, "guest"); got.ID != newest.ID {
			t.Errorf("Active() = %s, want %s", got.ID, newest.ID)
		}
		if got := st.ActiveID(ctx, "guest"); got != newest.ID {
			t.Errorf("ActiveID = %s, want %s", got, newest.ID)
		}
	})
}

func TestService_SetActive(t *testing.T) {
	svc, _ := newTestService(&fakeChatClient{})
	ctx := context.Background()

	older := svc.NewSession(ctx, "guest")
	svc.NewSession(ctx, "guest")

	if _, err := svc.SetActive(ctx, "guest", older.ID); err != nil {
		t.Fatalf("SetActive がエラーを返した: %v", err)
	}
	if got := svc.Active(ctx, "guest"); got.ID != older.ID {
		t.Errorf("Active() = %s, want %s", got.ID, older.ID)
	}

	_, err := svc.SetActive(ctx, "guest", "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeChatSessionNotFound {
		t.Errorf("err = %v, want CHAT_SESSION_NOT_FOUND", err)
	}
}

func TestService_Send(t *testing.T) {
	client := &fakeChatClient{raw: "```json\n{\"message\":\"Coffee is **fine** in moderation [1].\",\"sources\":[{\"title\":\"Study\",\"url\":\"https://doi.org/x\"}]}\n```"}
	svc, _ := newTestService(client)
	ctx := context.Background()
	session := svc.NewSession(ctx, "guest")

	got, err := svc.Send(ctx, "guest", session.ID, "  Is coffee healthy?  ")
	if err != nil {
		t.Fatalf("Send がエラーを返した: %v", err)
	}

	if client.lastMsg != "Is coffee healthy?" {
		t.Errorf("リモートへの発言 = %q", client.lastMsg)
	}
	if got.Title != "Is coffee healthy?" {
		t.Errorf("Title = %q", got.Title)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("Messages len = %d, want 3", len(got.Messages))
	}
	user, reply := got.Messages[1], got.Messages[2]
	if user.Role != model.RoleUser || user.Content != "Is coffee healthy?" {
		t.Errorf("user message = %+v", user)
	}
	if reply.Role != model.RoleAssistant || reply.Content != "Coffee is **fine** in moderation." {
		t.Errorf("reply = %q", reply.Content)
	}
	if len(reply.Sources) != 1 || reply.Sources[0].URL != "https://doi.org/x" {
		t.Errorf("reply sources = %+v", reply.Sources)
	}

	persisted := svc.Sessions(ctx, "guest")[0]
	if len(persisted.Messages) != 3 {
		t.Errorf("保存されたメッセージ数 = %d, want 3", len(persisted.Messages))
	}
}

func TestService_SendTitle(t *testing.T) {
	svc, _ := newTestService(&fakeChatClient{raw: `{"message":"ok","sources":[]}`})
	ctx := context.Background()
	session := svc.NewSession(ctx, "guest")

	long := strings.Repeat("a", 40)
	got, _ := svc.Send(ctx, "guest", session.ID, long)
	if want := strings.Repeat("a", 35) + "..."; got.Title != want {
		t.Errorf("Title = %q, want %q", got.Title, want)
	}

	got, _ = svc.Send(ctx, "guest", session.ID, "second question")
	if want := strings.Repeat("a", 35) + "..."; got.Title != want {
		t.Errorf("2回目の発言でタイトルが変わった: %q", got.Title)
	}
}

func TestService_SendFallbackReply(t *testing.T) {
	svc, _ := newTestService(&fakeChatClient{raw: "Plain **answer** without JSON."})
	ctx := context.Background()
	session := svc.NewSession(ctx, "guest")

	got, err := svc.Send(ctx, "guest", session.ID, "question")
	if err != nil {
		t.Fatalf("Send がエラーを返した: %v", err)
	}
	reply := got.Messages[len(got.Messages)-1]
	if reply.Content != "Plain answer without JSON." {
		t.Errorf("reply = %q", reply.Content)
	}
}

func TestService_SendRemoteFailure(t *testing.T) {
	svc, _ := newTestService(&fakeChatClient{err: model.NewRemoteServiceError(500, "boom")})
	ctx := context.Background()
	session := svc.NewSession(ctx, "guest")

	got, err := svc.Send(ctx, "guest", session.ID, "question")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.UpstreamStatus != 500 {
		t.Fatalf("err = %v, want upstream 500", err)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Content != model.ChatErrorReply || last.Role != model.RoleAssistant {
		t.Errorf("最後のメッセージ = %+v, want apology", last)
	}
	if got.Messages[1].Content != "question" {
		t.Errorf("ユーザーの発言が保存されていない: %+v", got.Messages)
	}
}

func TestService_SendValidation(t *testing.T) {
	client := &fakeChatClient{raw: `{"message":"ok"}`}
	svc, _ := newTestService(client)
	ctx := context.Background()
	session := svc.NewSession(ctx, "guest")

	tests := []struct {
		name      string
		sessionID string
		content   string
		wantCode  string
	}{
		{"空の発言", session.ID, "   ", model.ErrCodeInputRequired},
		{"存在しないセッション", "missing", "hello", model.ErrCodeChatSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, "guest", tt.sessionID, tt.content)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("err = %v, want %s", err, tt.wantCode)
			}
		})
	}
	if client.calls != 0 {
		t.Errorf("リモート呼び出し回数 = %d, want 0", client.calls)
	}
}

func TestService_DeleteSession(t *testing.T) {
	t.Run("アクティブを削除すると先頭がアクティブになる", func(t *testing.T) {
		svc, st := newTestService(&fakeChatClient{})
		ctx := context.Background()

		older := svc.NewSession(ctx, "guest")
		newest := svc.NewSession(ctx, "guest")

		svc.DeleteSession(ctx, "guest", newest.ID)
		if got := st.ActiveID(ctx, "guest"); got != older.ID {
			t.Errorf("ActiveID = %s, want %s", got, older.ID)
		}
	})

	t.Run("非アクティブの削除はアクティブを変えない", func(t *testing.T) {
		svc, st := newTestService(&fakeChatClient{})
		ctx := context.Background()

		older := svc.NewSession(ctx, "guest")
		newest := svc.NewSession(ctx, "guest")

		svc.DeleteSession(ctx, "guest", older.ID)
		if got := st.ActiveID(ctx, "guest"); got != newest.ID {
			t.Errorf("ActiveID = %s, want %s", got, newest.ID)
		}
		if got := len(svc.Sessions(ctx, "guest")); got != 1 {
			t.Errorf("sessions len = %d, want 1", got)
		}
	})

	t.Run("最後の1件を削除すると新規作成する", func(t *testing.T) {
		svc, st := newTestService(&fakeChatClient{})
		ctx := context.Background()

		only := svc.NewSession(ctx, "guest")
		svc.DeleteSession(ctx, "guest", only.ID)

		sessions := svc.Sessions(ctx, "guest")
		if len(sessions) != 1 || sessions[0].ID == only.ID {
			t.Fatalf("sessions = %+v", sessions)
		}
		if got := st.ActiveID(ctx, "guest"); got != sessions[0].ID {
			t.Errorf("ActiveID = %s, want %s", got, sessions[0].ID)
		}
	})
}

func TestService_ScopesAreIsolated(t *testing.T) {
	svc, _ := newTestService(&fakeChatClient{})
	ctx := context.Background()

	svc.NewSession(ctx, "alice")

	if got := len(svc.Sessions(ctx, "bob")); got != 0 {
		t.Errorf("bob の sessions len = %d, want 0", got)
	}
}
