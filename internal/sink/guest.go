package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	guestActiveKeyPrefix = "pricehunter:guest:active:"
	guestPeakKey         = "pricehunter:guest:peak"
)

// peakLua 原子更新峰值：只在当前在线数超过历史峰值时写入。
const peakLua = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local active = tonumber(ARGV[1])
if active > cur then
  redis.call("SET", KEYS[1], active)
  return active
end
return cur
`

// GuestTracker 基于 Redis 跟踪活跃访客与历史峰值。
//
// 每次请求刷新访客键的 TTL，超过空闲窗口没有动作的访客自动过期。
type GuestTracker struct {
	rdb    *redis.Client
	idle   time.Duration
	script *redis.Script
}

func NewGuestTracker(rdb *redis.Client, idle time.Duration) *GuestTracker {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &GuestTracker{
		rdb:    rdb,
		idle:   idle,
		script: redis.NewScript(peakLua),
	}
}

// Touch 标记访客活跃，返回当前在线数与更新后的峰值。
func (g *GuestTracker) Touch(ctx context.Context, sessionID string) (active, peak int64, err error) {
	if sessionID == "" {
		return 0, 0, fmt.Errorf("empty session id")
	}

	key := guestActiveKeyPrefix + sessionID
	if err := g.rdb.Set(ctx, key, "1", g.idle).Err(); err != nil {
		return 0, 0, fmt.Errorf("touch guest: %w", err)
	}

	active, err = g.Active(ctx)
	if err != nil {
		return 0, 0, err
	}

	res, err := g.script.Run(ctx, g.rdb, []string{guestPeakKey}, active).Int64()
	if err != nil {
		return active, 0, fmt.Errorf("update guest peak: %w", err)
	}
	return active, res, nil
}

// Active 返回当前在线访客数。
func (g *GuestTracker) Active(ctx context.Context) (int64, error) {
	var count int64
	var cursor uint64
	for {
		keys, next, err := g.rdb.Scan(ctx, cursor, guestActiveKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan guests: %w", err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Peak 返回历史在线峰值。
func (g *GuestTracker) Peak(ctx context.Context) (int64, error) {
	v, err := g.rdb.Get(ctx, guestPeakKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get guest peak: %w", err)
	}
	return v, nil
}
