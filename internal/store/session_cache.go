package store

import (
	"context"
	"sync"

	"github.com/hitoshi/clarus/internal/model"
)

// SessionCache はスコープごとに「表示中の分析」を1件だけ保持する揮発性のキャッシュ。
// 永続ストアとは独立しており、プロセス再起動や有効期限で消える。
type SessionCache interface {
	// Get は表示中の分析を返す。存在しない場合はnilを返す。
	Get(ctx context.Context, scope string) *model.Analysis
	Set(ctx context.Context, scope string, a model.Analysis)
	Clear(ctx context.Context, scope string)
	// Activate は scope 以外のスコープのエントリをすべて破棄する。
	Activate(ctx context.Context, scope string)
}

// MemorySessionCache はプロセス内メモリに保持する SessionCache。
type MemorySessionCache struct {
	mu      sync.RWMutex
	entries map[string]model.Analysis
}

// NewMemorySessionCache はMemorySessionCacheを生成する。
func NewMemorySessionCache() *MemorySessionCache {
	return &MemorySessionCache{entries: make(map[string]model.Analysis)}
}

// Get は表示中の分析のコピーを返す。
func (c *MemorySessionCache) Get(_ context.Context, scope string) *model.Analysis {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.entries[CurrentAnalysisKey(scope)]
	if !ok {
		return nil
	}
	return &a
}

// Set は表示中の分析を置き換える。
func (c *MemorySessionCache) Set(_ context.Context, scope string, a model.Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[CurrentAnalysisKey(scope)] = a
}

// Clear は表示中の分析を破棄する。
func (c *MemorySessionCache) Clear(_ context.Context, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, CurrentAnalysisKey(scope))
}

// Activate は scope 以外のエントリを破棄する。
func (c *MemorySessionCache) Activate(_ context.Context, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := CurrentAnalysisKey(scope)
	for key := range c.entries {
		if key != keep {
			delete(c.entries, key)
		}
	}
}

var _ SessionCache = (*MemorySessionCache)(nil)
