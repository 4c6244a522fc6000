// Package logger 提供基于 log/slog 的统一日志构造。
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 根据配置的日志级别构造一个输出到 stdout 的 JSON logger。
//
// 未知级别按 info 处理。
func NewDefault(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lv,
	})
	return slog.New(handler)
}

// NewNop 返回一个丢弃所有输出的 logger，主要用于测试。
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{
		Level: slog.LevelError + 1,
	}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
