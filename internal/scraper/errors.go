package scraper

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrSessionInvalid 浏览器会话失效（崩溃或被关闭），需要重建会话后重试。
	ErrSessionInvalid = errors.New("browser session invalid")

	// ErrNoListings 所有选择器策略都找不到商品元素，视为结果已到末尾。
	ErrNoListings = errors.New("no listing elements found")
)

// scrapeErrorType 抓取错误类型
type scrapeErrorType int

const (
	errTypeUnknown scrapeErrorType = iota
	errTypeSession                 // 会话失效，重建后可重试
	errTypeTimeout
	errTypeBlocked // 被封禁（403/429/Cloudflare等）
	errTypeNetwork
	errTypeParse
)

// classifyError 统一的错误分类函数
func classifyError(err error) scrapeErrorType {
	if err == nil {
		return errTypeUnknown
	}

	if errors.Is(err, ErrSessionInvalid) {
		return errTypeSession
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errTypeTimeout
	}

	msg := strings.ToLower(err.Error())

	sessionKeywords := []string{
		"invalid session", "session closed", "target closed",
		"no such window", "browser has been closed", "websocket",
	}
	for _, kw := range sessionKeywords {
		if strings.Contains(msg, kw) {
			return errTypeSession
		}
	}

	blockedKeywords := []string{
		"blocked_page", "cloudflare", "attention required",
		"access denied", "403", "429", "forbidden", "too many requests",
	}
	for _, kw := range blockedKeywords {
		if strings.Contains(msg, kw) {
			return errTypeBlocked
		}
	}

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errTypeTimeout
	}

	networkKeywords := []string{"net::", "connection", "navigate"}
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return errTypeNetwork
		}
	}

	if strings.Contains(msg, "parse") || strings.Contains(msg, "extract") {
		return errTypeParse
	}

	return errTypeUnknown
}

// isSessionError 判断错误是否属于会话失效，需要重建浏览器。
func isSessionError(err error) bool {
	return classifyError(err) == errTypeSession
}

// isRetryable 判断错误是否值得在同一会话内重试。
func isRetryable(err error) bool {
	switch classifyError(err) {
	case errTypeSession, errTypeTimeout, errTypeNetwork:
		return true
	}
	return false
}

// classifyScrapeError 返回用于 metrics 的错误类型字符串
func classifyScrapeError(err error) string {
	switch classifyError(err) {
	case errTypeSession:
		return "session_invalid"
	case errTypeTimeout:
		return "timeout"
	case errTypeBlocked:
		return "blocked"
	case errTypeNetwork:
		return "network_error"
	case errTypeParse:
		return "parse_error"
	default:
		return "unknown"
	}
}
