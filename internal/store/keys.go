// Package store はスコープごとの分析コレクション、チャットセッション、
// 表示中の分析を保持するストアを提供する。
//
// 永続ストアの読み込み失敗は空コレクションとして扱い、書き込み失敗はログに記録して破棄する。
// 呼び出し側にストレージのエラーを返すことはない。
package store

// レジスタ名の接頭辞。実際のキーは接頭辞とスコープを連結したもの。
const (
	savedPrefix           = "analyses_"
	historyPrefix         = "analysisHistory_"
	chatSessionsPrefix    = "chatSessions_"
	activeChatPrefix      = "activeChat_"
	currentAnalysisPrefix = "currentAnalysis_"
)

// SavedKey は保存済みコレクションのキーを返す。
func SavedKey(scope string) string { return savedPrefix + scope }

// HistoryKey は履歴コレクションのキーを返す。
func HistoryKey(scope string) string { return historyPrefix + scope }

// ChatSessionsKey はチャットセッション一覧のキーを返す。
func ChatSessionsKey(scope string) string { return chatSessionsPrefix + scope }

// ActiveChatKey はアクティブなチャットセッションIDのキーを返す。
func ActiveChatKey(scope string) string { return activeChatPrefix + scope }

// CurrentAnalysisKey は表示中の分析のキーを返す。
func CurrentAnalysisKey(scope string) string { return currentAnalysisPrefix + scope }

// ScopeKeys はスコープが永続ストアに持つ全レジスタのキーを返す。
// 表示中の分析は SessionCache 側にあるため含まない。
func ScopeKeys(scope string) []string {
	return []string{SavedKey(scope), HistoryKey(scope), ChatSessionsKey(scope), ActiveChatKey(scope)}
}
