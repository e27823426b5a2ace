package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/clarus/internal/metrics"
	"github.com/hitoshi/clarus/internal/model"
	"github.com/hitoshi/clarus/internal/repository"
)

// AnalysisStore はスコープごとの保存済み・履歴コレクションを管理するインターフェース。
// 各コレクション内で ID は一意であり、新しいエントリは先頭に置かれる。
type AnalysisStore interface {
	ListSaved(ctx context.Context, scope string) []model.Analysis
	ListHistory(ctx context.Context, scope string) []model.Analysis
	Save(ctx context.Context, scope string, a model.Analysis)
	SaveToHistory(ctx context.Context, scope string, a model.Analysis)
	Delete(ctx context.Context, scope, id string)
	DeleteFromHistory(ctx context.Context, scope, id string)
}

// CollectionStore はレジスタリポジトリ上にコレクション全体をJSON配列として保存する AnalysisStore。
type CollectionStore struct {
	repo         repository.RegisterRepository
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	historyLimit int
}

// NewCollectionStore はCollectionStoreを生成する。
func NewCollectionStore(repo repository.RegisterRepository, logger *slog.Logger, m metrics.MetricsCollector) *CollectionStore {
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &CollectionStore{
		repo:         repo,
		logger:       logger,
		metrics:      m,
		historyLimit: model.HistoryLimit,
	}
}

// ListSaved は保存済みコレクションを返す。存在しない場合や読み込めない場合は空スライスを返す。
func (s *CollectionStore) ListSaved(ctx context.Context, scope string) []model.Analysis {
	return s.list(ctx, "list_saved", SavedKey(scope))
}

// ListHistory は履歴コレクションを返す。存在しない場合や読み込めない場合は空スライスを返す。
func (s *CollectionStore) ListHistory(ctx context.Context, scope string) []model.Analysis {
	return s.list(ctx, "list_history", HistoryKey(scope))
}

// Save は保存済みコレクションに upsert する。同じ ID の既存エントリは取り除かれ、先頭に挿入される。
func (s *CollectionStore) Save(ctx context.Context, scope string, a model.Analysis) {
	s.write(ctx, "save", SavedKey(scope), func(list []model.Analysis) []model.Analysis {
		return upsertFront(list, a, 0)
	})
}

// SaveToHistory は履歴コレクションに upsert し、最新 HistoryLimit 件に切り詰める。
func (s *CollectionStore) SaveToHistory(ctx context.Context, scope string, a model.Analysis) {
	s.write(ctx, "save_history", HistoryKey(scope), func(list []model.Analysis) []model.Analysis {
		return upsertFront(list, a, s.historyLimit)
	})
}

// Delete は保存済みコレクションから指定IDを取り除く。存在しなくてもエラーにしない。
func (s *CollectionStore) Delete(ctx context.Context, scope, id string) {
	s.write(ctx, "delete", SavedKey(scope), func(list []model.Analysis) []model.Analysis {
		return removeByID(list, id)
	})
}

// DeleteFromHistory は履歴コレクションから指定IDを取り除く。
func (s *CollectionStore) DeleteFromHistory(ctx context.Context, scope, id string) {
	s.write(ctx, "delete_history", HistoryKey(scope), func(list []model.Analysis) []model.Analysis {
		return removeByID(list, id)
	})
}

func (s *CollectionStore) list(ctx context.Context, op, key string) []model.Analysis {
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		s.degraded(op, key, err)
		return []model.Analysis{}
	}
	list, err := decodeCollection(raw)
	if err != nil {
		s.degraded(op, key, err)
		return []model.Analysis{}
	}
	return list
}

// write はコレクション全体を読み込み、mutate の結果で置き換える。
// 既存値が壊れている場合は空コレクションから書き直す。
func (s *CollectionStore) write(ctx context.Context, op, key string, mutate func([]model.Analysis) []model.Analysis) {
	err := s.repo.Update(ctx, key, func(current []byte) ([]byte, error) {
		list, err := decodeCollection(current)
		if err != nil {
			s.logger.Warn("corrupt collection overwritten",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			list = []model.Analysis{}
		}
		return json.Marshal(mutate(list))
	})
	if err != nil {
		s.degraded(op, key, err)
	}
}

func (s *CollectionStore) degraded(op, key string, err error) {
	s.metrics.RecordStoreError(op)
	s.logger.Error("analysis store degraded",
		slog.String("operation", op),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

func decodeCollection(raw []byte) ([]model.Analysis, error) {
	if len(raw) == 0 {
		return []model.Analysis{}, nil
	}
	var list []model.Analysis
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode collection: %w", err)
	}
	if list == nil {
		list = []model.Analysis{}
	}
	return list, nil
}

// upsertFront は同じIDを取り除いた上で a を先頭に挿入する。limit が正の場合はその件数に切り詰める。
func upsertFront(list []model.Analysis, a model.Analysis, limit int) []model.Analysis {
	rest := removeByID(list, a.ID)
	out := make([]model.Analysis, 0, len(rest)+1)
	out = append(out, a)
	out = append(out, rest...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func removeByID(list []model.Analysis, id string) []model.Analysis {
	out := make([]model.Analysis, 0, len(list))
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

var _ AnalysisStore = (*CollectionStore)(nil)
