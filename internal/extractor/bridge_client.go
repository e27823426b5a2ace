package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxBridgeResponseSize はブリッジ応答として読み込む最大バイト数。
const maxBridgeResponseSize = 10 * 1024 * 1024

// BridgeClient は外部のスクレイパーサービスを呼び出すExtractor。
type BridgeClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewBridgeClient はBridgeClientの新しいインスタンスを生成する。
// baseURL はスクレイパーサービスのルートURL（例: http://scraper:8000）。
func NewBridgeClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *BridgeClient {
	return &BridgeClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(baseURL, "/") + "/scrape",
	}
}

type scrapeRequest struct {
	URL string `json:"url"`
}

// errorResponse はスクレイパーのエラー応答。
// detail は通常文字列だが、入力検証エラーでは配列になることがある。
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// Extract はスクレイパーに1回だけ問い合わせる。リトライはしない。
// 2xx以外の応答は *ExtractError として返し、通信エラーはそのままラップして返す。
func (c *BridgeClient) Extract(ctx context.Context, rawURL string) (*Result, error) {
	payload, err := json.Marshal(scrapeRequest{URL: rawURL})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("スクレイパーの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("url", rawURL),
		)
		return nil, fmt.Errorf("スクレイパーの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBridgeResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := decodeDetail(body, resp.StatusCode)
		c.logger.Warn("スクレイパーがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", detail),
			slog.String("url", rawURL),
		)
		return nil, &ExtractError{Status: resp.StatusCode, Detail: detail}
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if result.URL == "" {
		result.URL = rawURL
	}
	return &result, nil
}

// decodeDetail はエラー応答のdetailを文字列として取り出す。
func decodeDetail(body []byte, status int) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Detail) > 0 {
		var s string
		if err := json.Unmarshal(resp.Detail, &s); err == nil {
			return s
		}
		return string(resp.Detail)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("scraper returned status %d", status)
}
