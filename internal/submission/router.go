// Package submission は利用者の入力を種別ごとに検証し、リモート推論サービスへ渡す形に整える。
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/clarus/internal/extractor"
	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
)

// minExtractedLength は抽出テキストとして受け付ける最小文字数。
const minExtractedLength = 50

// NoContentExtractedMessage は抽出テキストが短すぎる場合のメッセージ。
const NoContentExtractedMessage = "No content extracted from backend."

const pdfInstruction = "Please find and analyze the scientific claims in the PDF document titled %q"

var (
	youtubePattern = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)`)
	// remediationPattern に一致する抽出エラーは固定の案内文に置き換える。
	remediationPattern = regexp.MustCompile(`(?i)scrap|block|login|copy and paste`)
)

// 抽出結果のメトリクスラベル
const (
	extractionSuccess  = "success"
	extractionFailed   = "failed"
	extractionTooShort = "too_short"
)

// Submission はリモート推論サービスに渡す準備ができた入力。
type Submission struct {
	// Text はプロンプトに埋め込む本文。
	Text string
	// Type はプロンプト選択に使う種別。URLは抽出後 text になる。
	Type model.ContentType
	// SourceURL はURL入力の場合の元URL。
	SourceURL string
}

// Router は入力種別ごとの検証と抽出ブリッジへの委譲を行う。内部状態を持たない。
type Router struct {
	extractor extractor.Extractor
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// NewRouter はRouterを生成する。metrics が nil の場合は記録しない。
func NewRouter(ext extractor.Extractor, logger *slog.Logger, mc metrics.MetricsCollector) *Router {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Router{
		extractor: ext,
		logger:    logger,
		metrics:   mc,
	}
}

// Submit は入力を検証し、種別に応じて本文を組み立てる。
// 検証失敗・抽出失敗は *model.APIError で返す。抽出ブリッジへのリトライは行わない。
func (r *Router) Submit(ctx context.Context, content string, contentType model.ContentType) (*Submission, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, model.NewInputRequiredError()
	}

	switch contentType {
	case model.ContentTypeURL:
		return r.submitURL(ctx, content)
	case model.ContentTypeYouTube:
		if !youtubePattern.MatchString(content) {
			return nil, model.NewInvalidURLError("not a YouTube video URL")
		}
		return &Submission{Text: content, Type: model.ContentTypeYouTube, SourceURL: content}, nil
	case model.ContentTypePDF:
		return &Submission{Text: fmt.Sprintf(pdfInstruction, content), Type: model.ContentTypePDF}, nil
	case model.ContentTypeText:
		return &Submission{Text: content, Type: model.ContentTypeText}, nil
	default:
		return nil, model.NewInvalidContentTypeError(string(contentType))
	}
}

func (r *Router) submitURL(ctx context.Context, raw string) (*Submission, error) {
	if err := validateHTTPURL(raw); err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}

	result, err := r.extractor.Extract(ctx, raw)
	if err != nil {
		r.metrics.RecordExtraction(extractionFailed)
		r.logger.Warn("URLからの本文抽出に失敗しました",
			slog.String("url", raw),
			slog.String("error", err.Error()),
		)
		return nil, model.NewExtractionFailedError(extractionMessage(err))
	}

	text := strings.TrimSpace(result.Text)
	if utf8.RuneCountInString(text) < minExtractedLength {
		r.metrics.RecordExtraction(extractionTooShort)
		return nil, model.NewExtractionFailedError(NoContentExtractedMessage)
	}

	r.metrics.RecordExtraction(extractionSuccess)
	return &Submission{Text: text, Type: model.ContentTypeText, SourceURL: raw}, nil
}

// extractionMessage は抽出エラーを利用者向けの文言にする。
// ブリッジのdetailがスクレイピング拒否を示す場合は固定の案内文を返す。
func extractionMessage(err error) string {
	var extractErr *extractor.ExtractError
	if errors.As(err, &extractErr) {
		if remediationPattern.MatchString(extractErr.Detail) {
			return model.ExtractionRemediation
		}
		return extractErr.Detail
	}
	return err.Error()
}

// validateHTTPURL はhttp/httpsスキームとホストを持つURLかを検証する。
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("could not parse URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
