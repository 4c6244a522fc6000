// Package sink 负责落盘运行记录：搜索规模、验证耗时、在线访客峰值。
//
// 记录属于旁路数据，任何适配器的写入失败都不应该中断主流程，
// 调用方只打日志不回传错误。
package sink

import (
	"context"
	"time"
)

// SearchEvent 一次关键字搜索的结果规模。
type SearchEvent struct {
	At          time.Time `json:"timestamp"`
	Keyword     string    `json:"keyword"`
	SessionID   string    `json:"session_id,omitempty"`
	MomoCount   int       `json:"momo_count"`
	PChomeCount int       `json:"pchome_count"`
}

// VerifyEvent 一次批量验证调用的耗时。
type VerifyEvent struct {
	At              time.Time     `json:"timestamp"`
	SourceProductID string        `json:"source_product_id"`
	SourceTitle     string        `json:"source_title"`
	BatchSize       int           `json:"batch_size"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	MatchedCount    int           `json:"matched_count"`
}

// PeakEvent 在线访客峰值快照。
type PeakEvent struct {
	At     time.Time `json:"timestamp"`
	Active int64     `json:"active"`
	Peak   int64     `json:"peak"`
}

// Sink 运行记录写入端。
type Sink interface {
	RecordSearch(ctx context.Context, ev SearchEvent) error
	RecordVerify(ctx context.Context, ev VerifyEvent) error
	RecordPeak(ctx context.Context, ev PeakEvent) error
}

// Multi 将记录扇出到多个 Sink；返回遇到的第一个错误，但不中断后续写入。
type Multi []Sink

func (m Multi) RecordSearch(ctx context.Context, ev SearchEvent) error {
	var first error
	for _, s := range m {
		if err := s.RecordSearch(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) RecordVerify(ctx context.Context, ev VerifyEvent) error {
	var first error
	for _, s := range m {
		if err := s.RecordVerify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) RecordPeak(ctx context.Context, ev PeakEvent) error {
	var first error
	for _, s := range m {
		if err := s.RecordPeak(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
