// Package extractor はURLから本文テキストを抽出する機能を提供する。
//
// 抽出はブリッジ契約 (POST /scrape {"url"} → {"text","title","url"}) を中心に構成される。
// BridgeClient は別プロセスのスクレイパーを呼び出し、Scraper は同じ契約をプロセス内で実装する。
// ScrapeHandler は Scraper をHTTPで公開し、scrape サブコマンドから起動される。
package extractor

import (
	"context"
	"fmt"
)

// MinTextLength は抽出成功とみなす本文の最小文字数。
const MinTextLength = 100

const (
	// manualCopyHint は抽出失敗時に利用者へ示す共通の案内文。
	manualCopyHint = "If this is a social media post (e.g., X/Twitter), please copy and paste the content manually."

	// FetchFailedDetail はページ取得が200以外で終わった場合の詳細メッセージ。
	FetchFailedDetail = "Failed to fetch URL. This site may block automated scrapers or require login. " + manualCopyHint

	// TooShortDetail は本文が MinTextLength に満たない場合の詳細メッセージ。
	TooShortDetail = "Content too short or not found. This site may block automated scrapers or require login. " + manualCopyHint
)

// Result は抽出結果。JSONはブリッジ契約のレスポンス形式と一致する。
type Result struct {
	Text  string `json:"text"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Extractor はURLから本文テキストを抽出するコンポーネントのインターフェース。
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*Result, error)
}

// ExtractError はブリッジ契約上のエラー応答を表す。
// Status はHTTPステータス、Detail は利用者向けの説明文。
type ExtractError struct {
	Status int
	Detail string
}

// Error はerrorインターフェースを実装する。
func (e *ExtractError) Error() string {
	return fmt.Sprintf("extraction failed (status %d): %s", e.Status, e.Detail)
}

// newScrapingFailedError は予期しない失敗を500相当のExtractErrorに変換する。
func newScrapingFailedError(err error) *ExtractError {
	return &ExtractError{
		Status: 500,
		Detail: fmt.Sprintf("Scraping failed: %v. %s", err, manualCopyHint),
	}
}
