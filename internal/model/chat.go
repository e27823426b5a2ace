// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultChatTitle は最初のユーザーメッセージを受け取る前のセッションタイトル。
const DefaultChatTitle = "New Chat"

// ChatGreeting は新規セッションの先頭に置くアシスタントの挨拶。
const ChatGreeting = "Hello! I'm your AI assistant for scientific content analysis. I can help you understand research findings, explain complex concepts, and answer questions. Ask me anything!"

// ChatErrorReply はリモート呼び出しに失敗した際にセッションへ追加する応答。
const ChatErrorReply = "Sorry, I encountered an error while trying to respond. Please try again."

// Role はメッセージの発言者を表す。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatSource はチャット応答に添付される軽量な引用情報。
type ChatSource struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary,omitempty"`
}

// ChatReply は正規化済みのチャット応答。
// 正規化後は Sources が nil になることはない。
type ChatReply struct {
	Message string       `json:"message"`
	Sources []ChatSource `json:"sources"`
}

// Message はチャットセッション内の1発言を表す。
type Message struct {
	ID        string       `json:"id"`
	Content   string       `json:"content"`
	Role      Role         `json:"role"`
	Timestamp time.Time    `json:"timestamp"`
	Sources   []ChatSource `json:"sources,omitempty"`
}

// ChatSession は発言の順序付きリスト。
// スコープ単位の端末ローカルなストアが所有する。
type ChatSession struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}
