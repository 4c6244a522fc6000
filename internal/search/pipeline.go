// Package search 把抓取、向量匹配串成一次完整的关键字搜索。
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/metrics"
	"pricehunter/internal/scraper"
	"pricehunter/internal/sink"
)

// pollInterval 监督循环在两个进度队列都安静时的轮询间隔。
const pollInterval = 100 * time.Millisecond

// Progress 单个抓取 worker 上报的进度事件。
type Progress struct {
	Platform model.Platform `json:"platform"`
	Current  int            `json:"current"`
	Total    int            `json:"total"`
	Message  string         `json:"message"`
}

// Options 一次搜索的参数。
type Options struct {
	Keyword     string
	MaxProducts int            // 每个平台的收集上限，<=0 时取配置默认值
	Source      model.Platform // 比对方向的来源平台，空值默认 momo
	SessionID   string         // 访客会话，仅用于旁路记录
}

// Result 一次搜索的产物。
type Result struct {
	Keyword    string                            `json:"keyword"`
	Source     model.Platform                    `json:"source"`
	Momo       []model.Product                   `json:"momo"`
	PChome     []model.Product                   `json:"pchome"`
	Candidates map[string][]model.CandidateMatch `json:"candidates"`
}

// SiteFactory 为指定平台创建抓取适配器（含独占的浏览器会话）。
type SiteFactory func(ctx context.Context, platform model.Platform) (scraper.Site, error)

// CandidateMatcher 把两个商品集合变成候选匹配映射。
type CandidateMatcher interface {
	Match(ctx context.Context, sources, targets []model.Product) (map[string][]model.CandidateMatch, error)
}

// Pipeline 搜索流水线：两个平台并发抓取，全部完成后做相似度匹配。
type Pipeline struct {
	newSite SiteFactory
	cfg     *config.BrowserConfig
	matcher CandidateMatcher
	snk     sink.Sink
	logger  *slog.Logger
}

// NewPipeline 创建流水线。matcher 与 snk 允许为 nil（只抓取不匹配的场景）。
func NewPipeline(factory SiteFactory, cfg *config.BrowserConfig, matcher CandidateMatcher, snk sink.Sink, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		newSite: factory,
		cfg:     cfg,
		matcher: matcher,
		snk:     snk,
		logger:  logger,
	}
}

// Run 执行一次搜索。
//
// 两个 worker 各自独占浏览器会话并发抓取；进度经各自的有序队列
// 送进监督循环；cancelled 是两个 worker 共享的协作式取消开关。
// 任一平台抓取失败都表现为「结果偏少」，只有浏览器创建失败才报错。
func (p *Pipeline) Run(ctx context.Context, opts Options, onProgress func(Progress), cancelled func() bool) (*Result, error) {
	maxProducts := opts.MaxProducts
	if maxProducts <= 0 {
		maxProducts = p.cfg.MaxProducts
	}
	source := opts.Source
	if !source.Valid() {
		source = model.PlatformMomo
	}

	metrics.ActiveSearches.Inc()
	defer metrics.ActiveSearches.Dec()
	start := time.Now()

	momoSite, err := p.newSite(ctx, model.PlatformMomo)
	if err != nil {
		return nil, fmt.Errorf("create momo session: %w", err)
	}
	pchomeSite, err := p.newSite(ctx, model.PlatformPChome)
	if err != nil {
		momoSite.Close()
		return nil, fmt.Errorf("create pchome session: %w", err)
	}

	momoCh := make(chan Progress, 64)
	pchomeCh := make(chan Progress, 64)
	var momoProducts, pchomeProducts []model.Product

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(momoCh)
		momoProducts = p.runWorker(ctx, momoSite, opts.Keyword, maxProducts, momoCh, cancelled)
	}()
	go func() {
		defer wg.Done()
		defer close(pchomeCh)
		pchomeProducts = p.runWorker(ctx, pchomeSite, opts.Keyword, maxProducts, pchomeCh, cancelled)
	}()

	// 监督循环：转发两个队列的进度，直到两个 worker 都结束
	for momoCh != nil || pchomeCh != nil {
		select {
		case ev, ok := <-momoCh:
			if !ok {
				momoCh = nil
				continue
			}
			if onProgress != nil {
				onProgress(ev)
			}
		case ev, ok := <-pchomeCh:
			if !ok {
				pchomeCh = nil
				continue
			}
			if onProgress != nil {
				onProgress(ev)
			}
		case <-time.After(pollInterval):
		}
	}
	wg.Wait()

	p.logger.Info("scrape phase done",
		slog.String("keyword", opts.Keyword),
		slog.Int("momo", len(momoProducts)),
		slog.Int("pchome", len(pchomeProducts)),
		slog.Duration("duration", time.Since(start)))

	if p.snk != nil {
		err := p.snk.RecordSearch(ctx, sink.SearchEvent{
			At:          time.Now(),
			Keyword:     opts.Keyword,
			SessionID:   opts.SessionID,
			MomoCount:   len(momoProducts),
			PChomeCount: len(pchomeProducts),
		})
		if err != nil {
			p.logger.Warn("record search event failed", slog.String("error", err.Error()))
		}
	}

	result := &Result{
		Keyword:    opts.Keyword,
		Source:     source,
		Momo:       momoProducts,
		PChome:     pchomeProducts,
		Candidates: map[string][]model.CandidateMatch{},
	}

	// 取消或任一侧为空时没有可比对的东西，直接返回抓到的部分
	if cancelled != nil && cancelled() {
		return result, nil
	}
	if p.matcher == nil || len(momoProducts) == 0 || len(pchomeProducts) == 0 {
		return result, nil
	}

	sources, targets := momoProducts, pchomeProducts
	if source == model.PlatformPChome {
		sources, targets = pchomeProducts, momoProducts
	}
	candidates, err := p.matcher.Match(ctx, sources, targets)
	if err != nil {
		// 商品已经到手，匹配失败退化为「无候选」
		p.logger.Warn("similarity matching failed",
			slog.String("keyword", opts.Keyword),
			slog.String("error", err.Error()))
		return result, nil
	}
	result.Candidates = candidates
	return result, nil
}

func (p *Pipeline) runWorker(ctx context.Context, site scraper.Site, keyword string, maxProducts int, ch chan<- Progress, cancelled func() bool) []model.Product {
	o := scraper.NewOrchestrator(site, p.logger, p.cfg)
	platform := site.Platform()
	return o.Run(ctx, keyword, maxProducts, func(current, total int, message string) {
		ch <- Progress{Platform: platform, Current: current, Total: total, Message: message}
	}, cancelled)
}
