package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// sqliteTimestampLayout は CURRENT_TIMESTAMP が書き込む形式（UTC）。
const sqliteTimestampLayout = "2006-01-02 15:04:05"

// SQLiteRegisterRepo は端末ローカルのSQLiteファイルを使用したレジスタリポジトリ。
// 同一プロセス内の書き込みは mu で直列化する。
type SQLiteRegisterRepo struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteRegisterRepo はSQLiteRegisterRepoを生成する。
// db は database.OpenSQLite で開いたものを渡す。
func NewSQLiteRegisterRepo(db *sql.DB) *SQLiteRegisterRepo {
	return &SQLiteRegisterRepo{db: db}
}

// Get は指定キーの値を取得する。存在しない場合はnilを返す。
func (r *SQLiteRegisterRepo) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM registers WHERE key = ?`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get register: %w", err)
	}
	return []byte(value), nil
}

// Update は読み込みと書き込みを1トランザクションで行う。
func (r *SQLiteRegisterRepo) Update(ctx context.Context, key string, fn UpdateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	var value string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM registers WHERE key = ?`,
		key,
	).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to read register: %w", err)
	default:
		current = []byte(value)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO registers (key, value, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(next),
	)
	if err != nil {
		return fmt.Errorf("failed to write register: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit register: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *SQLiteRegisterRepo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `DELETE FROM registers WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete register: %w", err)
	}
	return nil
}

// DeleteIfStale は最終更新が before より前の場合にキーを削除する。
func (r *SQLiteRegisterRepo) DeleteIfStale(ctx context.Context, key string, before time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM registers WHERE key = ? AND updated_at < ?`,
		key, before.UTC().Format(sqliteTimestampLayout),
	)
	if err != nil {
		return false, fmt.Errorf("failed to prune register: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

var (
	_ RegisterRepository = (*SQLiteRegisterRepo)(nil)
	_ RegisterPruner     = (*SQLiteRegisterRepo)(nil)
)
