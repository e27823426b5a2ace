// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"
)

// UpdateFunc は現在の値を受け取り、書き込む新しい値を返す。
// current はキーが存在しない場合nilになる。エラーを返すと書き込みは行われない。
type UpdateFunc func(current []byte) ([]byte, error)

// RegisterRepository はスコープ付きキーで識別される名前付きレジスタの永続化インターフェース。
// 値は不透明なバイト列として扱い、解釈は呼び出し側が行う。
type RegisterRepository interface {
	// Get は指定キーの値を取得する。存在しない場合はnilを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Update は指定キーの値を読み込み、fn の結果で置き換える。
	// 同一キーに対する読み込みから書き込みまでは他の Update と排他される。
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete は指定キーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}

// RegisterPruner は一定期間更新されていないレジスタを削除する。
type RegisterPruner interface {
	// DeleteIfStale は key の最終更新が before より前の場合に削除し、削除したかを返す。
	DeleteIfStale(ctx context.Context, key string, before time.Time) (bool, error)
}
