package middleware

import (
	"context"
	"log/slog"
	"time"

	"pricehunter/internal/pkg/metrics"
	"pricehunter/internal/sink"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sessionHeader = "X-Session-ID"

const sessionContextKey = "sessionID"

// SessionID 返回当前请求的访客会话 ID，未经过会话中间件时为空串。
func SessionID(c *gin.Context) string {
	return c.GetString(sessionContextKey)
}

// GuestSession 维护匿名访客会话。
//
// 客户端通过 X-Session-ID 头携带会话标识；没有携带时服务端生成一个
// 并在响应头回传。每次请求刷新访客的活跃 TTL 并更新在线峰值记录。
func GuestSession(tracker *sink.GuestTracker, snk sink.Sink, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(sessionHeader)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		c.Header(sessionHeader, sessionID)
		c.Set(sessionContextKey, sessionID)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		active, peak, err := tracker.Touch(ctx, sessionID)
		cancel()
		if err != nil {
			// 访客跟踪是旁路功能，失败不阻塞请求
			logger.Warn("guest touch failed", slog.String("error", err.Error()))
			c.Next()
			return
		}

		metrics.ActiveGuests.Set(float64(active))
		if snk != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := snk.RecordPeak(ctx, sink.PeakEvent{At: time.Now(), Active: active, Peak: peak}); err != nil {
				logger.Warn("record peak failed", slog.String("error", err.Error()))
			}
			cancel()
		}

		c.Next()
	}
}
