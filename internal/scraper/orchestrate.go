package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/metrics"
)

// ProgressFunc 进度回调。current 单调不减，message 为人类可读描述。
type ProgressFunc func(current, total int, message string)

// CancelFunc 协作式取消检查，返回 true 表示调用方要求停止。
type CancelFunc func() bool

const (
	// emptyPageFloor 页面元素数低于该值时按「真正的最后一页」处理。
	emptyPageFloor = 10

	// retrySleep 页面抓取失败后的固定重试间隔。
	retrySleep = 2 * time.Second
)

// Orchestrator 驱动单个平台的完整抓取：翻页、去重、提前停止与进度上报。
//
// 一次 Run 对应一次搜索；浏览器会话在所有退出路径上都会被释放。
type Orchestrator struct {
	site       Site
	logger     *slog.Logger
	maxPages   int
	retries    int
	retryDelay time.Duration
	dupLimit   int
	delayMin   time.Duration
	delayMax   time.Duration
}

// NewOrchestrator 创建编排器，参数取自浏览器配置。
func NewOrchestrator(site Site, logger *slog.Logger, cfg *config.BrowserConfig) *Orchestrator {
	retries := cfg.FetchRetries
	if retries <= 0 {
		retries = 3
	}
	dupLimit := cfg.DuplicateLimit
	if dupLimit <= 0 {
		dupLimit = 10
	}
	return &Orchestrator{
		site:       site,
		logger:     logger,
		maxPages:   cfg.MaxPages,
		retries:    retries,
		retryDelay: retrySleep,
		dupLimit:   dupLimit,
		delayMin:   cfg.PageDelayMin,
		delayMax:   cfg.PageDelayMax,
	}
}

// Run 抓取关键字的搜索结果，直到凑满 maxProducts 或命中停止条件。
//
// 永不返回错误：任何失败都退化为「返回目前已收集的部分结果」。
// 取消检查在页粒度和元素粒度各做一次，取消同样返回部分结果。
func (o *Orchestrator) Run(ctx context.Context, keyword string, maxProducts int, onProgress ProgressFunc, cancelled CancelFunc) []model.Product {
	platform := string(o.site.Platform())
	start := time.Now()
	defer func() {
		// 会话释放不依赖任何提前 return
		o.site.Close()
		metrics.ScrapeDuration.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	}()

	if maxProducts <= 0 {
		maxProducts = 50
	}

	products := make([]model.Product, 0, maxProducts)
	seenSKUs := make(map[string]struct{})
	seenURLs := make(map[string]struct{})
	nextID := 1

	report := func(message string) {
		if onProgress != nil {
			onProgress(len(products), maxProducts, message)
		}
	}
	isCancelled := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return cancelled != nil && cancelled()
	}

	report(fmt.Sprintf("searching %s: %s", platform, keyword))

	totalAvailable := 0
	consecutiveEmpty := 0

PageLoop:
	for page := 1; o.maxPages <= 0 || page <= o.maxPages; page++ {
		if isCancelled() {
			o.logger.Info("scrape cancelled",
				slog.String("platform", platform),
				slog.Int("page", page),
				slog.Int("collected", len(products)))
			break
		}

		metrics.ScrapeRequestsTotal.WithLabelValues(platform).Inc()
		pd, err := o.fetchWithRetry(ctx, keyword, page)
		if err != nil {
			if errors.Is(err, ErrNoListings) {
				o.logger.Info("no listing elements, stopping",
					slog.String("platform", platform),
					slog.Int("page", page))
				break
			}
			// 重试耗尽后退化为部分结果，不向上抛错
			o.logger.Warn("page fetch failed after retries, returning partial results",
				slog.String("platform", platform),
				slog.Int("page", page),
				slog.Int("collected", len(products)),
				slog.String("error", err.Error()))
			break
		}

		if pd.Total > 0 && totalAvailable == 0 {
			totalAvailable = pd.Total
			o.logger.Info("site reports total results",
				slog.String("platform", platform),
				slog.Int("total", totalAvailable))
		}
		if totalAvailable > 0 && len(products) >= totalAvailable {
			break
		}

		report(fmt.Sprintf("%s: page %d, %d elements", platform, page, pd.RawCount))

		pageCount := 0
		consecutiveDups := 0
		for _, cand := range pd.Candidates {
			// 元素粒度的取消检查：一页之内也能及时停下
			if isCancelled() {
				o.logger.Info("scrape cancelled mid-page",
					slog.String("platform", platform),
					slog.Int("page", page),
					slog.Int("collected", len(products)))
				break PageLoop
			}
			if len(products) >= maxProducts {
				break
			}
			if !cand.Valid() {
				continue
			}

			dup := false
			if cand.SKU != "" {
				_, dup = seenSKUs[cand.SKU]
			}
			if !dup {
				_, dup = seenURLs[cand.URL]
			}
			if dup {
				consecutiveDups++
				if consecutiveDups >= o.dupLimit {
					o.logger.Info("consecutive duplicates limit hit, abandoning page",
						slog.String("platform", platform),
						slog.Int("page", page),
						slog.Int("duplicates", consecutiveDups))
					break
				}
				continue
			}
			consecutiveDups = 0

			products = append(products, model.Product{
				ID:       nextID,
				SKU:      cand.SKU,
				Title:    cand.Title,
				Price:    cand.Price,
				ImageURL: cand.ImageURL,
				URL:      cand.URL,
				Platform: o.site.Platform(),
			})
			if cand.SKU != "" {
				seenSKUs[cand.SKU] = struct{}{}
			}
			seenURLs[cand.URL] = struct{}{}
			nextID++
			pageCount++
			metrics.ProductsScrapedTotal.WithLabelValues(platform).Inc()

			report(fmt.Sprintf("%s: collected %d/%d products", platform, len(products), maxProducts))
		}

		o.logger.Debug("page parsed",
			slog.String("platform", platform),
			slog.Int("page", page),
			slog.Int("elements", pd.RawCount),
			slog.Int("accepted", pageCount),
			slog.Int("collected", len(products)))

		if len(products) >= maxProducts {
			break
		}
		if totalAvailable > 0 && len(products) >= totalAvailable {
			break
		}

		if pageCount == 0 {
			consecutiveEmpty++
			switch {
			case page == 1 && pd.RawCount < emptyPageFloor:
				// 第一页就没有足够元素，搜索结果为空
				o.logger.Info("empty search result", slog.String("platform", platform))
				break PageLoop
			case pd.RawCount < emptyPageFloor:
				o.logger.Info("last page reached", slog.String("platform", platform), slog.Int("page", page))
				break PageLoop
			case page > 1 && pd.RawCount >= emptyPageFloor:
				// 元素不少但一个新商品都没有，通常是整页重复，结果已到末尾
				o.logger.Info("page full of duplicates, stopping",
					slog.String("platform", platform),
					slog.Int("page", page))
				break PageLoop
			case consecutiveEmpty >= 2:
				o.logger.Info("two consecutive empty pages, stopping",
					slog.String("platform", platform),
					slog.Int("page", page))
				break PageLoop
			}
		} else {
			consecutiveEmpty = 0
		}

		if !pd.HasNext {
			o.logger.Info("no next page", slog.String("platform", platform), slog.Int("page", page))
			break
		}

		// 翻页间隔做随机抖动，降低触发反爬的概率
		select {
		case <-ctx.Done():
			break PageLoop
		case <-time.After(o.randomDelay()):
		}
	}

	report(fmt.Sprintf("%s done: %d products", platform, len(products)))
	o.logger.Info("scrape completed",
		slog.String("platform", platform),
		slog.Int("count", len(products)),
		slog.Duration("duration", time.Since(start)))
	return products
}

// fetchWithRetry 抓取单页，会话失效时重建会话后重试，最多 o.retries 次。
func (o *Orchestrator) fetchWithRetry(ctx context.Context, keyword string, page int) (*PageData, error) {
	platform := string(o.site.Platform())

	var lastErr error
	for attempt := 1; attempt <= o.retries; attempt++ {
		pd, err := o.site.FetchPage(ctx, keyword, page)
		if err == nil {
			return pd, nil
		}
		if errors.Is(err, ErrNoListings) {
			return nil, err
		}
		lastErr = err
		metrics.ScrapeErrorsTotal.WithLabelValues(platform, classifyScrapeError(err)).Inc()

		if !isRetryable(err) {
			return nil, err
		}
		if isSessionError(err) {
			o.logger.Warn("browser session invalid, recreating",
				slog.String("platform", platform),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			if resetErr := o.site.Reset(ctx); resetErr != nil {
				return nil, fmt.Errorf("recreate session: %w", resetErr)
			}
		} else {
			o.logger.Warn("page fetch failed, retrying",
				slog.String("platform", platform),
				slog.Int("page", page),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}

		if attempt < o.retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.retryDelay):
			}
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) randomDelay() time.Duration {
	min, max := o.delayMin, o.delayMax
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max <= min {
		max = min + time.Second
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
