// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code           string // エラーコード
	Message        string // エラーメッセージ
	Category       string // カテゴリ: validation, extraction, remote, library, chat
	Action         string // ユーザー向け対処方法
	UpstreamStatus int    // リモートサービスのHTTPステータス（不明な場合は0）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("[%s] %s (upstream status %d)", e.Code, e.Message, e.UpstreamStatus)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInputRequired         = "INPUT_REQUIRED"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeInvalidContentType    = "INVALID_CONTENT_TYPE"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
	ErrCodeExtractionFailed      = "EXTRACTION_FAILED"
	ErrCodeRemoteService         = "REMOTE_SERVICE_ERROR"
	ErrCodeAnalysisNotFound      = "ANALYSIS_NOT_FOUND"
	ErrCodeChatSessionNotFound   = "CHAT_SESSION_NOT_FOUND"
	ErrCodeInvalidScope          = "INVALID_SCOPE"
	ErrCodeUnsupportedFormat     = "UNSUPPORTED_FORMAT"
	ErrCodeInvalidRequestPayload = "INVALID_REQUEST"
)

// ExtractionRemediation は抽出ブリッジがスクレイピングを拒否された場合に表示する固定メッセージ。
const ExtractionRemediation = "Sorry, we couldn't analyze this link. This could be because the source link does not allow external tools to extract information. Please find a different public page, or, copy and paste the content manually and input it into the \"Text\" option."

// NewInputRequiredError は入力が空の場合のエラーを生成する。
func NewInputRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeInputRequired,
		Message:  "Please enter some content to analyze.",
		Category: "validation",
		Action:   "Enter a URL, paste text, or choose a file before submitting.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: "validation",
		Action:   "Enter a full URL starting with http:// or https://.",
	}
}

// NewInvalidContentTypeError は未対応のコンテンツ種別エラーを生成する。
func NewInvalidContentTypeError(contentType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidContentType,
		Message:  fmt.Sprintf("Unsupported content type: %s", contentType),
		Category: "validation",
		Action:   "Use one of url, text, pdf or youtube.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "Access to the requested address was blocked by the security policy.",
		Category: "validation",
		Action:   "Use the URL of a public website. Local networks and private addresses are not allowed.",
	}
}

// NewExtractionFailedError はURLからのテキスト抽出失敗エラーを生成する。
func NewExtractionFailedError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeExtractionFailed,
		Message:  detail,
		Category: "extraction",
		Action:   "Copy and paste the content manually and submit it with the \"Text\" option.",
	}
}

// NewRemoteServiceError はリモート推論サービス呼び出しの失敗エラーを生成する。
// status が0の場合は通信レベルの失敗を表す。
func NewRemoteServiceError(status int, body string) *APIError {
	msg := "The analysis service could not be reached."
	if status != 0 {
		msg = fmt.Sprintf("The analysis service returned status %d.", status)
	}
	if body != "" {
		msg = fmt.Sprintf("%s %s", msg, body)
	}
	return &APIError{
		Code:           ErrCodeRemoteService,
		Message:        msg,
		Category:       "remote",
		Action:         "Please wait a moment and try again.",
		UpstreamStatus: status,
	}
}

// NewAnalysisNotFoundError は分析結果が見つからない場合のエラーを生成する。
func NewAnalysisNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAnalysisNotFound,
		Message:  fmt.Sprintf("Analysis not found: %s", id),
		Category: "library",
		Action:   "Check the analysis ID or run the analysis again.",
	}
}

// NewChatSessionNotFoundError はチャットセッションが見つからない場合のエラーを生成する。
func NewChatSessionNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeChatSessionNotFound,
		Message:  fmt.Sprintf("Chat session not found: %s", id),
		Category: "chat",
		Action:   "Start a new chat.",
	}
}

// NewInvalidScopeError はスコープキーが不正な場合のエラーを生成する。
func NewInvalidScopeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidScope,
		Message:  "The scope key is malformed.",
		Category: "validation",
		Action:   "Sign in again or continue as a guest.",
	}
}

// NewUnsupportedFormatError はエクスポート形式が未対応の場合のエラーを生成する。
func NewUnsupportedFormatError(format string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedFormat,
		Message:  fmt.Sprintf("Unsupported export format: %s", format),
		Category: "validation",
		Action:   "Use json or yaml.",
	}
}
