package normalize

import (
	"regexp"
	"strings"
)

// Markdown除去の置換規則。適用順序に意味がある（太字を斜体より先に処理する）。
var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`#{1,6}\s+`), ""},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "$1"},
	{regexp.MustCompile(`__(.*?)__`), "$1"},
	{regexp.MustCompile(`\*(.*?)\*`), "$1"},
	{regexp.MustCompile("`(.*?)`"), "$1"},
	{regexp.MustCompile(`\[([^\[\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`(?m)^\s*[-*+]\s+`), ""},
	{regexp.MustCompile(`(?m)^\d+\.\s+`), ""},
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	// [1] / [2, 3] / [4-6] 形式の番号付き引用
	citationBrackets = regexp.MustCompile(`[ \t]*\[\d+(?:[,\s-]*\d+)*\]`)
)

// StripMarkdown は見出し・強調・インラインコード・リンク・リストマーカーを取り除き、
// 改行を含む空白の連続を1つのスペースにまとめる。
func StripMarkdown(text string) string {
	for _, r := range markdownRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return collapseWhitespace(text)
}

// stripCitations は番号付き引用の角括弧を取り除く。
func stripCitations(text string) string {
	return citationBrackets.ReplaceAllString(text, "")
}

func collapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
