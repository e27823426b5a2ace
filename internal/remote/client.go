// Package remote はOpenAI互換のリモート推論サービス（Perplexity）の呼び出しを提供する。
// 応答本文のJSON解釈は行わず、生のテキストをそのまま返す。
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
)

// DefaultBaseURL はPerplexityのOpenAI互換エンドポイント。
const DefaultBaseURL = "https://api.perplexity.ai/"

// DefaultModel は分析・チャットで使用する既定モデル。
const DefaultModel = "sonar-pro"

// メトリクスとログで使う呼び出し種別
const (
	kindAnalysis = "analysis"
	kindChat     = "chat"
)

// Config はリモートクライアントの設定。
type Config struct {
	APIKey        string
	BaseURL       string
	AnalysisModel string
	ChatModel     string
	// Timeout は1回の呼び出しの上限時間。0以下なら無制限。
	Timeout time.Duration
	// HTTPClient はテストで差し替える場合に指定する。
	HTTPClient *http.Client
}

// Client はリモート推論サービスのクライアント。
// 1回の要求につき1回だけ通信し、リトライしない。
type Client struct {
	api           openai.Client
	analysisModel string
	chatModel     string
	timeout       time.Duration
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
}

// NewClient はClientを生成する。
func NewClient(cfg Config, logger *slog.Logger, mc metrics.MetricsCollector) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultModel
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:           openai.NewClient(opts...),
		analysisModel: cfg.AnalysisModel,
		chatModel:     cfg.ChatModel,
		timeout:       cfg.Timeout,
		logger:        logger,
		metrics:       mc,
	}
}

// Analyze は種別ごとのプロンプトで分析を依頼し、応答本文を返す。
func (c *Client) Analyze(ctx context.Context, text string, contentType model.ContentType) (string, error) {
	system, user := analysisPrompt(text, contentType)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.analysisModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature:      openai.Float(0.1),
		TopP:             openai.Float(0.9),
		MaxTokens:        openai.Int(4000),
		FrequencyPenalty: openai.Float(0.5),
		PresencePenalty:  openai.Float(0),
	}
	return c.complete(ctx, kindAnalysis, params,
		option.WithJSONSet("search_recency_filter", "year"),
		option.WithJSONSet("return_images", false),
		option.WithJSONSet("return_related_questions", false),
	)
}

// Chat は会話用プロンプトでメッセージを送り、応答本文を返す。
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(chatSystemPrompt),
			openai.UserMessage(message),
		},
		Temperature:      openai.Float(0.2),
		TopP:             openai.Float(0.9),
		MaxTokens:        openai.Int(2000),
		FrequencyPenalty: openai.Float(1),
		PresencePenalty:  openai.Float(0),
	}
	return c.complete(ctx, kindChat, params,
		option.WithJSONSet("return_images", false),
		option.WithJSONSet("return_related_questions", false),
	)
}

// complete は1回だけ通信し、最初の選択肢の本文を返す。
// 失敗は全て *model.APIError (REMOTE_SERVICE_ERROR) に変換する。
func (c *Client) complete(ctx context.Context, kind string, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params, opts...)
	c.metrics.RecordRemoteLatency(kind, time.Since(start))

	if err != nil {
		apiErr := toRemoteServiceError(err)
		c.metrics.RecordRemoteFailure(kind, apiErr.UpstreamStatus)
		c.logger.Error("リモート推論サービスの呼び出しに失敗しました",
			slog.String("kind", kind),
			slog.Int("upstream_status", apiErr.UpstreamStatus),
			slog.String("error", err.Error()),
		)
		return "", apiErr
	}

	if len(resp.Choices) == 0 {
		c.metrics.RecordRemoteFailure(kind, http.StatusOK)
		c.logger.Error("リモート推論サービスの応答に選択肢がありません",
			slog.String("kind", kind),
		)
		return "", model.NewRemoteServiceError(http.StatusOK, "The response contained no choices.")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Info("リモート推論サービスから応答を受信しました",
		slog.String("kind", kind),
		slog.Int("length", len(content)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return content, nil
}

// toRemoteServiceError はSDKのエラーをステータスと本文付きのAPIErrorに変換する。
func toRemoteServiceError(err error) *model.APIError {
	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		body := sdkErr.RawJSON()
		if body == "" {
			body = sdkErr.Message
		}
		return model.NewRemoteServiceError(sdkErr.StatusCode, body)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewRemoteServiceError(0, "The request timed out.")
	}
	if errors.Is(err, context.Canceled) {
		return model.NewRemoteServiceError(0, "The request was canceled.")
	}
	return model.NewRemoteServiceError(0, err.Error())
}
