// Package analysis は投稿から分析レコードの保存までの流れを組み立てる。
//
// 投稿の検証、リモート推論サービスの呼び出し、応答の正規化、
// レコードの生成、履歴への保存、表示中キャッシュの更新を順に行う。
package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
	"github.com/hitoshi/clarus/internal/normalize"
	"github.com/hitoshi/clarus/internal/store"
	"github.com/hitoshi/clarus/internal/submission"
)

// Submitter は入力を検証し、リモートに渡す本文を組み立てる。
type Submitter interface {
	Submit(ctx context.Context, content string, contentType model.ContentType) (*submission.Submission, error)
}

// AnalysisClient はリモート推論サービスに分析を依頼し、生の応答本文を返す。
type AnalysisClient interface {
	Analyze(ctx context.Context, text string, contentType model.ContentType) (string, error)
}

// TextSanitizer は外部由来の文字列をプレーンテキストにする。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Service は分析の実行とライブラリ操作を提供する。
type Service struct {
	submitter Submitter
	client    AnalysisClient
	store     store.AnalysisStore
	cache     store.SessionCache
	sanitizer TextSanitizer
	ids       *IDGenerator
	now       func() time.Time
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	submitter Submitter,
	client AnalysisClient,
	st store.AnalysisStore,
	cache store.SessionCache,
	sanitizer TextSanitizer,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		submitter: submitter,
		client:    client,
		store:     st,
		cache:     cache,
		sanitizer: sanitizer,
		ids:       NewIDGenerator(time.Now),
		now:       time.Now,
		logger:    logger,
		metrics:   mc,
	}
}

// Analyze は投稿を分析し、履歴に保存したレコードを返す。
// 検証エラーとリモート呼び出しのエラーはそのまま返す。正規化は失敗しない。
// 開始時に表示中の分析はクリアされる。
func (s *Service) Analyze(ctx context.Context, scope, content string, contentType model.ContentType) (*model.Analysis, error) {
	s.cache.Clear(ctx, scope)

	sub, err := s.submitter.Submit(ctx, content, contentType)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.Analyze(ctx, sub.Text, sub.Type)
	if err != nil {
		return nil, err
	}

	result := normalize.NormalizeAnalysis(raw)
	s.metrics.RecordNormalization(string(normalize.KindAnalysis), result.Outcome.String())
	if result.Outcome == normalize.OutcomeFallback {
		s.logger.Warn("分析応答を解釈できなかったためフォールバックを使用します",
			slog.String("scope", scope),
			slog.String("reason", result.Reason),
			slog.Int("raw_length", len(raw)),
		)
	}

	preview := content
	if sub.Type == model.ContentTypePDF {
		preview = sub.Text
	}
	a := model.NewAnalysis(s.ids.Next(), preview, s.sanitizeData(result.Data), s.now())

	s.store.SaveToHistory(ctx, scope, *a)
	s.cache.Set(ctx, scope, *a)
	s.metrics.RecordAnalysisCreated(string(a.Accuracy))

	s.logger.Info("分析が完了しました",
		slog.String("scope", scope),
		slog.String("analysis_id", a.ID),
		slog.String("content_type", string(contentType)),
		slog.String("accuracy", string(a.Accuracy)),
		slog.Int("confidence", a.Confidence),
		slog.Int("sources", len(a.Sources)),
		slog.String("outcome", result.Outcome.String()),
	)
	return a, nil
}

// sanitizeData は出典の各フィールドからHTMLを除去する。
func (s *Service) sanitizeData(data model.AnalysisData) model.AnalysisData {
	sources := make([]model.Source, len(data.Sources))
	for i, src := range data.Sources {
		sources[i] = model.Source{
			Title:    s.sanitizer.SanitizeText(src.Title),
			URL:      s.sanitizer.SanitizeText(src.URL),
			Authors:  s.sanitizer.SanitizeText(src.Authors),
			Journal:  s.sanitizer.SanitizeText(src.Journal),
			Summary:  s.sanitizer.SanitizeText(src.Summary),
			Evidence: s.sanitizer.SanitizeText(src.Evidence),
		}
	}
	data.Sources = sources
	return data
}

// Save は表示中の分析または履歴・保存済みから id のレコードを探し、保存済みに追加する。
func (s *Service) Save(ctx context.Context, scope, id string) (*model.Analysis, error) {
	a, ok := s.lookup(ctx, scope, id)
	if !ok {
		return nil, model.NewAnalysisNotFoundError(id)
	}
	s.store.Save(ctx, scope, a)
	return &a, nil
}

// ListSaved は保存済みコレクションを query で絞り込んで返す。
func (s *Service) ListSaved(ctx context.Context, scope, query string) []model.Analysis {
	return store.Search(s.store.ListSaved(ctx, scope), query)
}

// ListHistory は履歴コレクションを query で絞り込んで返す。
func (s *Service) ListHistory(ctx context.Context, scope, query string) []model.Analysis {
	return store.Search(s.store.ListHistory(ctx, scope), query)
}

// Delete は保存済みから削除する。表示中の分析と一致する場合は表示も閉じる。
func (s *Service) Delete(ctx context.Context, scope, id string) {
	s.store.Delete(ctx, scope, id)
	s.closeIfCurrent(ctx, scope, id)
}

// DeleteFromHistory は履歴から削除する。表示中の分析と一致する場合は表示も閉じる。
func (s *Service) DeleteFromHistory(ctx context.Context, scope, id string) {
	s.store.DeleteFromHistory(ctx, scope, id)
	s.closeIfCurrent(ctx, scope, id)
}

// Current は表示中の分析を返す。ない場合はnil。
func (s *Service) Current(ctx context.Context, scope string) *model.Analysis {
	return s.cache.Get(ctx, scope)
}

// Select は履歴または保存済みのレコードを表示中にする。
func (s *Service) Select(ctx context.Context, scope, id string) (*model.Analysis, error) {
	a, ok := s.lookup(ctx, scope, id)
	if !ok {
		return nil, model.NewAnalysisNotFoundError(id)
	}
	s.cache.Set(ctx, scope, a)
	return &a, nil
}

// Close は表示中の分析を閉じる。
func (s *Service) Close(ctx context.Context, scope string) {
	s.cache.Clear(ctx, scope)
}

// lookup は表示中、履歴、保存済みの順にレコードを探す。
func (s *Service) lookup(ctx context.Context, scope, id string) (model.Analysis, bool) {
	if current := s.cache.Get(ctx, scope); current != nil && current.ID == id {
		return *current, true
	}
	if a, ok := store.FindByID(s.store.ListHistory(ctx, scope), id); ok {
		return a, true
	}
	return store.FindByID(s.store.ListSaved(ctx, scope), id)
}

func (s *Service) closeIfCurrent(ctx context.Context, scope, id string) {
	if current := s.cache.Get(ctx, scope); current != nil && current.ID == id {
		s.cache.Clear(ctx, scope)
	}
}
