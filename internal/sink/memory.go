package sink

import (
	"context"
	"sync"
)

// MemorySink 将记录保存在内存里，主要用于测试与本地调试。
type MemorySink struct {
	mu       sync.Mutex
	searches []SearchEvent
	verifies []VerifyEvent
	peaks    []PeakEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) RecordSearch(ctx context.Context, ev SearchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, ev)
	return nil
}

func (m *MemorySink) RecordVerify(ctx context.Context, ev VerifyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifies = append(m.verifies, ev)
	return nil
}

func (m *MemorySink) RecordPeak(ctx context.Context, ev PeakEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peaks = append(m.peaks, ev)
	return nil
}

// Searches 返回已记录搜索事件的拷贝。
func (m *MemorySink) Searches() []SearchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SearchEvent, len(m.searches))
	copy(out, m.searches)
	return out
}

// Verifies 返回已记录验证事件的拷贝。
func (m *MemorySink) Verifies() []VerifyEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]VerifyEvent, len(m.verifies))
	copy(out, m.verifies)
	return out
}

// Peaks 返回已记录峰值快照的拷贝。
func (m *MemorySink) Peaks() []PeakEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeakEvent, len(m.peaks))
	copy(out, m.peaks)
	return out
}
