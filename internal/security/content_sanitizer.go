package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentSanitizerService は外部から取り込んだ文字列をプレーンテキストに正規化する。
// 分析結果の出典フィールドやフィード記事の本文など、
// リモートサービスや第三者サイト由来の文字列をAPI応答へ載せる前に使用される。
type ContentSanitizerService interface {
	// SanitizeText は全てのHTMLタグを除去し、エンティティを復元して
	// 連続する空白を1つに畳んだ文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有してよい。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はタグを一切許可しないStrictPolicyでサニタイザーを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はタグ除去、エンティティ復元、空白の正規化を順に行う。
func (s *contentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	// ブロック要素の境界で単語が連結しないよう、タグの前に空白を補う
	stripped := s.policy.Sanitize(strings.ReplaceAll(raw, "<", " <"))
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
