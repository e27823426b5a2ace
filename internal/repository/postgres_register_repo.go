package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRegisterRepo はPostgreSQLを使用したレジスタリポジトリ。
// 複数プロセスから同じスコープに書き込む構成で使う。
type PostgresRegisterRepo struct {
	db *sql.DB
}

// NewPostgresRegisterRepo はPostgresRegisterRepoを生成する。
func NewPostgresRegisterRepo(db *sql.DB) *PostgresRegisterRepo {
	return &PostgresRegisterRepo{db: db}
}

// Get は指定キーの値を取得する。存在しない場合はnilを返す。
func (r *PostgresRegisterRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM registers WHERE key = $1`,
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

// Update はトランザクション内でキー単位のアドバイザリロックを取得し、
// 読み込み・書き込みを排他的に行う。ロックはトランザクション終了時に解放される。
func (r *PostgresRegisterRepo) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock register: %w", err)
	}

	var current []byte
	var value string
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM registers WHERE key = $1`,
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
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
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
func (r *PostgresRegisterRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM registers WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete register: %w", err)
	}
	return nil
}

// DeleteIfStale は最終更新が before より前の場合にキーを削除する。
func (r *PostgresRegisterRepo) DeleteIfStale(ctx context.Context, key string, before time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM registers WHERE key = $1 AND updated_at < $2`,
		key, before,
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

// compile-time interface check
var (
	_ RegisterRepository = (*PostgresRegisterRepo)(nil)
	_ RegisterPruner     = (*PostgresRegisterRepo)(nil)
)
