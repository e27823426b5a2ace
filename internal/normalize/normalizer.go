// Package normalize はリモート推論サービスの非構造な応答テキストを
// 検証済みの構造化レコードへ変換する。
//
// すべての関数は純粋関数で、I/Oもログ出力も行わない。
// どのような入力に対してもパニックせず、対象の形状を満たす結果を返す。
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/clarus/internal/model"
)

// FallbackNote はフォールバック生成された要約の末尾に付与する開示文。
const FallbackNote = "Note: The analysis response could not be properly parsed, so detailed research sources are not available."

const (
	// fallbackMaxRunes はフォールバック本文として残す最大文字数。
	fallbackMaxRunes = 500
	// maxUnwrap は入れ子になったJSON要約を展開する最大回数。
	maxUnwrap = 5
	// lowEvidenceConfidence は引用なしの判定に強制する確信度。
	lowEvidenceConfidence = 5
)

// Kind は正規化対象の応答種別。
type Kind string

const (
	KindAnalysis Kind = "analysis"
	KindChat     Kind = "chat"
)

// Outcome は正規化結果が検証済みかフォールバックかを表す。
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeFallback
)

// String はメトリクスのラベル値として使う名前を返す。
func (o Outcome) String() string {
	if o == OutcomeFallback {
		return "fallback"
	}
	return "valid"
}

// フォールバックとなった理由
const (
	ReasonNoJSONObject      = "no json object found"
	ReasonInvalidJSON       = "json parse failed"
	ReasonMissingSummary    = "summary missing or not a string"
	ReasonInvalidAccuracy   = "accuracy missing or not recognized"
	ReasonInvalidConfidence = "confidence missing or not a number"
	ReasonMissingMessage    = "message missing or not a string"
)

// AnalysisResult は分析応答の正規化結果。
// Outcome が OutcomeFallback の場合 Reason に理由が入る。
type AnalysisResult struct {
	Data    model.AnalysisData
	Outcome Outcome
	Reason  string
}

// ChatResult はチャット応答の正規化結果。
type ChatResult struct {
	Reply   model.ChatReply
	Outcome Outcome
	Reason  string
}

var (
	leadingFence      = regexp.MustCompile("(?i)^```[a-z0-9_-]*\\s*")
	trailingFence     = regexp.MustCompile("\\s*```$")
	fallbackNoteRegex = regexp.MustCompile(`Note: The analysis response could not be properly parsed[^.]*\.`)
)

// Normalize は raw を kind に応じて正規化し、JSON文字列として返す。
// 戻り値は常に対象の形状を満たす有効なJSONである。
func Normalize(raw string, kind Kind) string {
	var v any
	if kind == KindChat {
		v = NormalizeChat(raw).Reply
	} else {
		v = NormalizeAnalysis(raw).Data
	}
	b, err := json.Marshal(v)
	if err != nil {
		// 文字列・整数・スライスのみで構成されるため到達しない
		return `{}`
	}
	return string(b)
}

// NormalizeAnalysis は分析応答を検証し、失敗時は raw から決定的なフォールバックを構築する。
func NormalizeAnalysis(raw string) AnalysisResult {
	obj, reason := extractObject(raw)
	if reason != "" {
		return analysisFallback(raw, reason)
	}

	summary, ok := obj["summary"].(string)
	if !ok || strings.TrimSpace(summary) == "" {
		return analysisFallback(raw, ReasonMissingSummary)
	}
	accStr, ok := obj["accuracy"].(string)
	if !ok {
		return analysisFallback(raw, ReasonInvalidAccuracy)
	}
	accuracy := model.Accuracy(strings.ToLower(strings.TrimSpace(accStr)))
	if !accuracy.Valid() {
		return analysisFallback(raw, ReasonInvalidAccuracy)
	}
	conf, ok := obj["confidence"].(float64)
	if !ok {
		return analysisFallback(raw, ReasonInvalidConfidence)
	}

	data := model.AnalysisData{
		Summary:    summary,
		Accuracy:   accuracy,
		Confidence: clampConfidence(conf),
		Sources:    analysisSources(obj["sources"]),
	}

	data.Summary = unwrapSummary(data.Summary)
	data.Summary = collapseWhitespace(fallbackNoteRegex.ReplaceAllString(data.Summary, ""))

	if len(data.Sources) == 0 {
		data.Confidence = lowEvidenceConfidence
		data.Accuracy = model.AccuracyPartiallyAccurate
	}

	data.Summary = collapseWhitespace(stripCitations(StripMarkdown(data.Summary)))

	return AnalysisResult{Data: data, Outcome: OutcomeValid}
}

// NormalizeChat はチャット応答を検証し、失敗時は raw から決定的なフォールバックを構築する。
func NormalizeChat(raw string) ChatResult {
	obj, reason := extractObject(raw)
	if reason != "" {
		return chatFallback(raw, reason)
	}

	message, ok := obj["message"].(string)
	if !ok || strings.TrimSpace(message) == "" {
		return chatFallback(raw, ReasonMissingMessage)
	}

	return ChatResult{
		Reply: model.ChatReply{
			Message: strings.TrimSpace(stripCitations(message)),
			Sources: chatSources(obj["sources"]),
		},
		Outcome: OutcomeValid,
	}
}

// extractObject は raw からフェンスを除去し、最初の { から最後の } までをJSONオブジェクトとして解析する。
// 失敗した場合は理由を返す。
func extractObject(raw string) (map[string]any, string) {
	text := strings.TrimSpace(raw)
	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last < 0 || first >= last {
		return nil, ReasonNoJSONObject
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text[first:last+1]), &obj); err != nil || obj == nil {
		return nil, ReasonInvalidJSON
	}
	return obj, ""
}

// unwrapSummary は要約自体が "summary" を含むJSONである場合に内側の要約へ置き換える。
// 展開回数は maxUnwrap で打ち切る。
func unwrapSummary(summary string) string {
	for i := 0; i < maxUnwrap; i++ {
		trimmed := strings.TrimSpace(summary)
		if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"summary"`) {
			break
		}
		var nested map[string]any
		if err := json.Unmarshal([]byte(trimmed), &nested); err != nil {
			break
		}
		inner, ok := nested["summary"].(string)
		if !ok || strings.TrimSpace(inner) == "" {
			break
		}
		summary = inner
	}
	return summary
}

func clampConfidence(v float64) int {
	r := math.Round(v)
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	default:
		return int(r)
	}
}

// analysisSources は配列中のオブジェクト要素のみを Source に変換する。
// 配列でない場合は空スライスを返す。
func analysisSources(v any) []model.Source {
	items, _ := v.([]any)
	sources := make([]model.Source, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sources = append(sources, model.Source{
			Title:    stringField(m, "title"),
			URL:      stringField(m, "url"),
			Authors:  stringField(m, "authors"),
			Journal:  stringField(m, "journal"),
			Summary:  stringField(m, "summary"),
			Evidence: stringField(m, "evidence"),
		})
	}
	return sources
}

func chatSources(v any) []model.ChatSource {
	items, _ := v.([]any)
	sources := make([]model.ChatSource, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sources = append(sources, model.ChatSource{
			Title:   stringField(m, "title"),
			URL:     stringField(m, "url"),
			Summary: stringField(m, "summary"),
		})
	}
	return sources
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// analysisFallback は元の raw テキストから分析のフォールバックレコードを構築する。
func analysisFallback(raw, reason string) AnalysisResult {
	summary, _ := truncateRunes(StripMarkdown(raw), fallbackMaxRunes)

	lower := strings.ToLower(raw)
	accuracy := model.AccuracyPartiallyAccurate
	confidence := 30
	switch {
	case strings.Contains(lower, "inaccurate"):
		accuracy = model.AccuracyInaccurate
		confidence = 60
	case strings.Contains(lower, "accurate"):
		accuracy = model.AccuracyAccurate
		confidence = 60
	}

	return AnalysisResult{
		Data: model.AnalysisData{
			Summary:    strings.TrimSpace(summary + " " + FallbackNote),
			Accuracy:   accuracy,
			Confidence: confidence,
			Sources:    []model.Source{},
		},
		Outcome: OutcomeFallback,
		Reason:  reason,
	}
}

func chatFallback(raw, reason string) ChatResult {
	message, _ := truncateRunes(StripMarkdown(raw), fallbackMaxRunes)
	return ChatResult{
		Reply: model.ChatReply{
			Message: message,
			Sources: []model.ChatSource{},
		},
		Outcome: OutcomeFallback,
		Reason:  reason,
	}
}

// truncateRunes は s を最大 n 文字に切り詰め、切り詰めた場合は "..." を付与する。
func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	return string([]rune(s)[:n]) + "...", true
}
