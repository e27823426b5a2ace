package analysis

import (
	"strconv"
	"sync"
	"time"
)

// IDGenerator は作成時刻のミリ秒から分析IDを生成する。
// 同一ミリ秒内の呼び出しや時刻の巻き戻りがあっても単調増加し、プロセス内で一意になる。
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewIDGenerator はIDGeneratorを生成する。
func NewIDGenerator(now func() time.Time) *IDGenerator {
	return &IDGenerator{now: now}
}

// Next は次のIDを返す。
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return strconv.FormatInt(ms, 10)
}
