package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/clarus/internal/security"
)

const (
	userAgent = "Clarus/1.0 Content Extractor"
	// maxFeedEntries はフィードURLから本文を組み立てる際に使う記事数の上限。
	maxFeedEntries = 10
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテストでループバックのサーバーを使えるようにする。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// TextSanitizer はHTML断片をプレーンテキストにする。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Scraper はブリッジ契約をプロセス内で実装するExtractor。
// HTMLページは main > article > body の順で本文要素を選び、
// RSS/Atomフィードは最新の記事からテキストを組み立てる。
type Scraper struct {
	guard       SSRFValidator
	sanitizer   TextSanitizer
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewScraper はScraperの新しいインスタンスを生成する。
func NewScraper(guard SSRFValidator, sanitizer TextSanitizer, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Scraper {
	return &Scraper{
		guard:       guard,
		sanitizer:   sanitizer,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Extract はURLを取得して本文テキストを返す。
// 失敗は全て *ExtractError で返す。
func (s *Scraper) Extract(ctx context.Context, rawURL string) (*Result, error) {
	if err := s.guard.ValidateURL(rawURL); err != nil {
		s.logger.Warn("URL検証に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, security.ErrBlockedURL) {
			return nil, &ExtractError{
				Status: http.StatusBadRequest,
				Detail: "Scraping failed: the URL points to a private or internal address.",
			}
		}
		return nil, &ExtractError{
			Status: http.StatusBadRequest,
			Detail: fmt.Sprintf("Invalid URL: %v", err),
		}
	}

	start := time.Now()
	body, contentType, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var result *Result
	if isFeed(contentType, body) {
		result, err = s.fromFeed(body)
	} else {
		result, err = fromHTML(body)
	}
	if err != nil {
		s.logger.Error("本文の抽出に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, newScrapingFailedError(err)
	}
	result.URL = rawURL

	if utf8.RuneCountInString(result.Text) < MinTextLength {
		s.logger.Warn("抽出した本文が短すぎます",
			slog.String("url", rawURL),
			slog.Int("length", utf8.RuneCountInString(result.Text)),
		)
		return nil, &ExtractError{Status: http.StatusUnprocessableEntity, Detail: TooShortDetail}
	}

	s.logger.Info("本文を抽出しました",
		slog.String("url", rawURL),
		slog.Int("length", utf8.RuneCountInString(result.Text)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// fetch はSSRF防止付きクライアントでURLを取得し、ボディとContent-Typeを返す。
func (s *Scraper) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &ExtractError{Status: http.StatusBadRequest, Detail: fmt.Sprintf("Invalid URL: %v", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.guard.NewSafeClient(s.timeout).Do(req)
	if err != nil {
		s.logger.Error("HTTPリクエストに失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, "", newScrapingFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("ページ取得が200以外で終了しました",
			slog.String("url", rawURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, "", &ExtractError{Status: http.StatusNotFound, Detail: FetchFailedDetail}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, "", newScrapingFailedError(fmt.Errorf("read body: %w", err))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// isFeed はContent-Typeとボディの先頭からRSS/Atom/JSON Feedかどうかを判定する。
func isFeed(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	switch strings.ToLower(mediaType) {
	case "application/rss+xml", "application/atom+xml", "application/feed+json":
		return true
	case "text/xml", "application/xml", "":
		return gofeed.DetectFeedType(bytes.NewReader(body)) != gofeed.FeedTypeUnknown
	}
	return false
}

// fromFeed はフィードの最新記事から本文を組み立てる。
// 記事のHTMLはサニタイザーでテキスト化する。
func (s *Scraper) fromFeed(body []byte) (*Result, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var parts []string
	if feed.Description != "" {
		parts = append(parts, s.sanitizer.SanitizeText(feed.Description))
	}
	for i, item := range feed.Items {
		if i >= maxFeedEntries {
			break
		}
		if item == nil {
			continue
		}
		content := item.Content
		if content == "" {
			content = item.Description
		}
		if title := s.sanitizer.SanitizeText(item.Title); title != "" {
			parts = append(parts, title+".")
		}
		parts = append(parts, s.sanitizer.SanitizeText(content))
	}

	return &Result{
		Title: s.sanitizer.SanitizeText(feed.Title),
		Text:  strings.Join(strings.Fields(strings.Join(parts, " ")), " "),
	}, nil
}

// fromHTML はHTMLページのタイトルと本文を取り出す。
func fromHTML(body []byte) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	var text string
	for _, selector := range []string{"main", "article", "body"} {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 {
			text = nodeText(sel.Get(0))
			break
		}
	}
	if text == "" && len(doc.Nodes) > 0 {
		text = nodeText(doc.Nodes[0])
	}

	return &Result{Title: title, Text: text}, nil
}
