package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryRegisterRepo はプロセス内のマップに保持するレジスタリポジトリ。
// テストおよび STORE_DRIVER=memory で使用する。
type MemoryRegisterRepo struct {
	mu      sync.Mutex
	values  map[string][]byte
	updated map[string]time.Time
	now     func() time.Time
}

// NewMemoryRegisterRepo はMemoryRegisterRepoを生成する。
func NewMemoryRegisterRepo() *MemoryRegisterRepo {
	return &MemoryRegisterRepo{
		values:  make(map[string][]byte),
		updated: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Get は指定キーの値のコピーを返す。
func (r *MemoryRegisterRepo) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Update は fn をロック下で実行し、結果を保存する。
func (r *MemoryRegisterRepo) Update(_ context.Context, key string, fn UpdateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current []byte
	if v, ok := r.values[key]; ok {
		current = append([]byte(nil), v...)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	r.values[key] = append([]byte(nil), next...)
	r.updated[key] = r.now()
	return nil
}

// Delete は指定キーを削除する。
func (r *MemoryRegisterRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.values, key)
	delete(r.updated, key)
	return nil
}

// DeleteIfStale は最終更新が before より前の場合にキーを削除する。
func (r *MemoryRegisterRepo) DeleteIfStale(_ context.Context, key string, before time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.updated[key]
	if !ok || !at.Before(before) {
		return false, nil
	}
	delete(r.values, key)
	delete(r.updated, key)
	return true, nil
}

// Set はテスト用に値を直接書き込む。
func (r *MemoryRegisterRepo) Set(key string, value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values[key] = append([]byte(nil), value...)
	r.updated[key] = r.now()
}

var (
	_ RegisterRepository = (*MemoryRegisterRepo)(nil)
	_ RegisterPruner     = (*MemoryRegisterRepo)(nil)
)
