// Package metrics 定义流水线各阶段的 Prometheus 指标。
//
// 所有指标在包加载时注册到默认 Registry，通过 promhttp 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScrapeRequestsTotal 各平台页面抓取次数。
	ScrapeRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehunter_scrape_requests_total",
		Help: "Total number of listing pages fetched, by platform.",
	}, []string{"platform"})

	// ScrapeErrorsTotal 各平台抓取错误次数，按错误类别细分。
	ScrapeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehunter_scrape_errors_total",
		Help: "Total number of scrape errors, by platform and reason.",
	}, []string{"platform", "reason"})

	// ScrapeDuration 单个平台完整抓取耗时（秒）。
	ScrapeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricehunter_scrape_duration_seconds",
		Help:    "Wall time of a full storefront scrape.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"platform"})

	// ProductsScrapedTotal 各平台收集到的商品条数。
	ProductsScrapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehunter_products_scraped_total",
		Help: "Total number of products accepted after dedup, by platform.",
	}, []string{"platform"})

	// BrowserActive 当前存活的浏览器会话数。
	BrowserActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricehunter_browser_active",
		Help: "Number of live browser sessions.",
	})

	// EmbedRequestDuration 向量服务单次请求耗时（秒）。
	EmbedRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricehunter_embed_request_duration_seconds",
		Help:    "Latency of embedding service requests.",
		Buckets: prometheus.DefBuckets,
	})

	// EmbedTextsTotal 送入向量服务的文本条数。
	EmbedTextsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricehunter_embed_texts_total",
		Help: "Total number of texts embedded.",
	})

	// VerifyRequestsTotal 判定服务调用次数，按结果细分 (ok / fallback)。
	VerifyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehunter_verify_requests_total",
		Help: "Total number of verdict service calls, by outcome.",
	}, []string{"outcome"})

	// VerifyDuration 判定服务单次调用耗时（秒）。
	VerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricehunter_verify_duration_seconds",
		Help:    "Latency of verdict service calls.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	// RateLimitWaitDuration 限流等待耗时（秒）。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricehunter_ratelimit_wait_duration_seconds",
		Help:    "Time spent waiting for a rate limit token.",
		Buckets: prometheus.DefBuckets,
	})

	// RateLimitTimeoutTotal 限流等待超时次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricehunter_ratelimit_timeout_total",
		Help: "Total number of rate limit acquisitions that timed out.",
	})

	// ActiveSearches 当前正在执行的搜索任务数。
	ActiveSearches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricehunter_active_searches",
		Help: "Number of search jobs currently running.",
	})

	// QueueDepth 搜索任务队列深度。
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricehunter_queue_depth",
		Help: "Number of search jobs waiting in the queue.",
	})

	// ActiveGuests 当前在线访客数（由 Redis 跟踪器上报）。
	ActiveGuests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricehunter_active_guests",
		Help: "Number of guests seen within the idle window.",
	})

	workerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricehunter_worker_pool_size",
		Help: "Configured size of the search worker pool.",
	})
)

// InitMetrics 记录静态配置类指标，进程启动时调用一次（测试中可重复调用）。
func InitMetrics(poolSize int) {
	workerPoolSize.Set(float64(poolSize))
}
