package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileSink 将记录写到本地 JSON Lines 文件。
//
// 搜索与验证记录逐行追加；峰值文件只保留最新快照（整体覆写）。
type FileSink struct {
	mu         sync.Mutex
	searchPath string
	verifyPath string
	peakPath   string
	logger     *slog.Logger
}

// NewFileSink 创建文件记录器，路径为空的类别直接跳过。
func NewFileSink(logger *slog.Logger, searchPath, verifyPath, peakPath string) *FileSink {
	return &FileSink{
		searchPath: searchPath,
		verifyPath: verifyPath,
		peakPath:   peakPath,
		logger:     logger,
	}
}

func (f *FileSink) RecordSearch(ctx context.Context, ev SearchEvent) error {
	return f.appendLine(f.searchPath, ev)
}

func (f *FileSink) RecordVerify(ctx context.Context, ev VerifyEvent) error {
	ev.DurationSeconds = ev.Duration.Seconds()
	return f.appendLine(f.verifyPath, ev)
}

func (f *FileSink) RecordPeak(ctx context.Context, ev PeakEvent) error {
	if f.peakPath == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal peak event: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.peakPath), 0755); err != nil {
		f.logger.Warn("create sink dir failed", slog.String("error", err.Error()))
		return nil
	}
	if err := os.WriteFile(f.peakPath, append(data, '\n'), 0644); err != nil {
		// 旁路记录不影响主流程
		f.logger.Warn("write peak file failed", slog.String("error", err.Error()))
	}
	return nil
}

func (f *FileSink) appendLine(path string, v any) error {
	if path == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sink event: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		f.logger.Warn("create sink dir failed", slog.String("error", err.Error()))
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		f.logger.Warn("open sink file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		f.logger.Warn("write sink file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return nil
}
