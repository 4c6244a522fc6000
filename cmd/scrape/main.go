package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"pricehunter/internal/config"
	"pricehunter/internal/export"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/logger"
	"pricehunter/internal/scraper"
	"pricehunter/internal/search"
)

// main 是命令行抓取工具的入口函数。
//
// 同时抓取两个平台并把结果追加写入标注用 CSV，
// 用于离线构建训练数据集。
func main() {
	var (
		keyword = flag.String("keyword", "", "搜索关键字（必填）")
		count   = flag.Int("count", 0, "每个平台最多收集商品数，0 表示用配置默认值")
		outDir  = flag.String("out", "data", "CSV 输出目录")
		cfgPath = flag.String("config", "", "配置文件路径")
	)
	flag.Parse()

	if *keyword == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLogger := logger.NewDefault(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func(ctx context.Context, platform model.Platform) (scraper.Site, error) {
		session, err := scraper.NewSession(ctx, &cfg.Browser, appLogger)
		if err != nil {
			return nil, err
		}
		if platform == model.PlatformPChome {
			return scraper.NewPChome(session, &cfg.Browser, appLogger), nil
		}
		return scraper.NewMomo(session, &cfg.Browser, appLogger), nil
	}

	onProgress := func(ev search.Progress) {
		fmt.Printf("[%s] %d/%d %s\n", ev.Platform, ev.Current, ev.Total, ev.Message)
	}
	cancelled := func() bool { return ctx.Err() != nil }

	pipeline := search.NewPipeline(factory, &cfg.Browser, nil, nil, appLogger)
	res, err := pipeline.Run(ctx, search.Options{Keyword: *keyword, MaxProducts: *count}, onProgress, cancelled)
	if err != nil {
		appLogger.Error("scrape failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	for platform, products := range map[model.Platform][]model.Product{
		model.PlatformMomo:   res.Momo,
		model.PlatformPChome: res.PChome,
	} {
		path := filepath.Join(*outDir, string(platform)+".csv")
		if err := export.WriteCSV(path, products, *keyword, true); err != nil {
			appLogger.Error("write csv failed",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()))
			continue
		}
		fmt.Printf("%s: %d products -> %s\n", platform, len(products), path)
	}
}
