// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// HistoryLimit は履歴コレクションに保持する最大件数。
const HistoryLimit = 50

// originalTextPreviewLen は Analysis.OriginalText に残す入力の先頭文字数。
const originalTextPreviewLen = 100

// Accuracy はファクトチェックの判定結果を表す。
type Accuracy string

const (
	// AccuracyAccurate は主張が研究によって支持されることを示す。
	AccuracyAccurate Accuracy = "accurate"
	// AccuracyPartiallyAccurate は主張が部分的にのみ支持されることを示す。
	AccuracyPartiallyAccurate Accuracy = "partially-accurate"
	// AccuracyInaccurate は主張が研究と矛盾することを示す。
	AccuracyInaccurate Accuracy = "inaccurate"
)

// Valid は定義済みの3値のいずれかであるかを返す。
func (a Accuracy) Valid() bool {
	switch a {
	case AccuracyAccurate, AccuracyPartiallyAccurate, AccuracyInaccurate:
		return true
	default:
		return false
	}
}

// Label は表示用ラベル（overallAccuracy）を返す。
// 未定義の値は Inaccurate として扱う。
func (a Accuracy) Label() string {
	switch a {
	case AccuracyAccurate:
		return "Accurate"
	case AccuracyPartiallyAccurate:
		return "Partially Accurate"
	default:
		return "Inaccurate"
	}
}

// ContentType は投稿されたコンテンツの種別を表す。
type ContentType string

const (
	ContentTypeURL     ContentType = "url"
	ContentTypeText    ContentType = "text"
	ContentTypePDF     ContentType = "pdf"
	ContentTypeYouTube ContentType = "youtube"
	ContentTypeChat    ContentType = "chat"
)

// Source は引用された研究論文1件を表す。
// 構造的な等価性以外の同一性は持たない。
type Source struct {
	Title    string `json:"title" yaml:"title"`
	URL      string `json:"url" yaml:"url"`
	Authors  string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Journal  string `json:"journal,omitempty" yaml:"journal,omitempty"`
	Summary  string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// AnalysisData は正規化済みの判定結果。
// 正規化後は Sources が nil になることはない。
type AnalysisData struct {
	Summary    string   `json:"summary"`
	Accuracy   Accuracy `json:"accuracy"`
	Confidence int      `json:"confidence"`
	Sources    []Source `json:"sources"`
}

// Analysis は永続化されるファクトチェック結果のレコード。
// 生成後は削除以外で変更されない。
type Analysis struct {
	ID              string   `json:"id" yaml:"id"`
	OriginalText    string   `json:"originalText" yaml:"original_text"`
	OverallAccuracy string   `json:"overallAccuracy" yaml:"overall_accuracy"`
	Timestamp       string   `json:"timestamp" yaml:"timestamp"`
	Summary         string   `json:"summary" yaml:"summary"`
	Accuracy        Accuracy `json:"accuracy" yaml:"accuracy"`
	Confidence      int      `json:"confidence" yaml:"confidence"`
	Sources         []Source `json:"sources" yaml:"sources"`
}

// NewAnalysis は正規化済みデータから Analysis レコードを組み立てる。
// content は利用者が投稿した元の入力で、先頭100文字のプレビューとして保持する。
func NewAnalysis(id, content string, data AnalysisData, now time.Time) *Analysis {
	sources := data.Sources
	if sources == nil {
		sources = []Source{}
	}
	return &Analysis{
		ID:              id,
		OriginalText:    Preview(content, originalTextPreviewLen),
		OverallAccuracy: data.Accuracy.Label(),
		Timestamp:       now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Summary:         data.Summary,
		Accuracy:        data.Accuracy,
		Confidence:      data.Confidence,
		Sources:         sources,
	}
}

// Preview は s の先頭 n 文字（rune単位）を返し、切り詰めた場合は "..." を付与する。
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Matches は検索語が OriginalText または Summary に含まれるかを大文字小文字を区別せずに判定する。
// 空の検索語は常に一致する。
func (a *Analysis) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.OriginalText), q) ||
		strings.Contains(strings.ToLower(a.Summary), q)
}
