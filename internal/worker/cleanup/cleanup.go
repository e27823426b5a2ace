// Package cleanup はゲストスコープの保存データを自動削除するジョブを提供する。
// ゲストは複数の利用者で共有されるため、保持期間（デフォルト30日）を超えて
// 更新のないライブラリ・履歴・チャットを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/clarus/internal/repository"
)

// DefaultRetention はゲストデータの既定の保持期間。
const DefaultRetention = 30 * 24 * time.Hour

// CleanupJob は保持期間を超過したレジスタの自動削除ジョブ。
// 削除は冪等で、対象がない場合もエラーにならない。
type CleanupJob struct {
	repo      repository.RegisterPruner
	keys      []string
	logger    *slog.Logger
	now       func() time.Time
	Retention time.Duration
}

// NewCleanupJob は keys を対象とするCleanupJobを生成する。
func NewCleanupJob(repo repository.RegisterPruner, keys []string, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:      repo,
		keys:      keys,
		logger:    logger,
		now:       time.Now,
		Retention: DefaultRetention,
	}
}

// Run は最終更新が Retention より古いレジスタを削除する。
// 1件の失敗で中断せず残りのキーも処理し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.Add(-j.Retention)

	var firstErr error
	deleted := 0
	for _, key := range j.keys {
		ok, err := j.repo.DeleteIfStale(ctx, key, before)
		if err != nil {
			j.logger.Error("ゲストデータの削除に失敗しました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("ゲストデータの削除に失敗: %w", err)
			}
			continue
		}
		if ok {
			deleted++
		}
	}

	j.logger.Info("ゲストデータのクリーンアップが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return firstErr
}

// Start は起動直後に1回、その後 interval ごとに Run を実行する。ctx がキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
