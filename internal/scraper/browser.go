package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/pkg/metrics"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	browserInitTimeout   = 30 * time.Second       // 浏览器初始化超时
	pageCreateTimeout    = 10 * time.Second       // 页面创建超时
	stealthScriptTimeout = 5 * time.Second        // Stealth 脚本应用超时
	scrollWaitInterval   = 500 * time.Millisecond // 滚动后等待间隔
	defaultUA            = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// blockedURLs 抓取时屏蔽的资源：字体、媒体和常见的追踪脚本。
// 注意不屏蔽图片，商品图链接要从 DOM 属性里读。
var blockedURLs = []string{
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.m4v", "*.mov", "*.avi",
	"*.mp3", "*.aac", "*.m4a", "*.ogg", "*.wav",

	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*facebook*",
	"*criteo*",
	"*sentry*",
}

// Session 封装一个独占的浏览器会话。
//
// 每个抓取 worker 独占一个 Session，互不共享页面、cookie 或用户目录；
// 会话失效时由编排方调用 Reset 重建。
type Session struct {
	mu      sync.Mutex
	browser *rod.Browser
	cfg     *config.BrowserConfig
	logger  *slog.Logger
}

// NewSession 启动浏览器并创建会话。
func NewSession(ctx context.Context, cfg *config.BrowserConfig, logger *slog.Logger) (*Session, error) {
	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	browser, err := startBrowser(initCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	metrics.BrowserActive.Inc()

	return &Session{
		browser: browser,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// startBrowser 根据配置启动浏览器。
//
// 针对 Docker/WSL2 等容器环境做了适配（NoSandbox、禁用 /dev/shm 等）。
func startBrowser(ctx context.Context, cfg *config.BrowserConfig, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("window-size", "1920,1080").
		// 缓存与内存优化，减少磁盘写入压力
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("disable-application-cache", "true").
		Set("js-flags", "--max_old_space_size=512")

	var proxyUser, proxyPass string
	if cfg.ProxyURL != "" {
		parsed, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid proxy url: %s", cfg.ProxyURL)
		}
		server := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			if pass, ok := parsed.User.Password(); ok {
				proxyPass = pass
			}
		}
		l = l.Proxy(server)
		logger.Info("using http proxy", slog.String("server", server))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("browser started", slog.String("bin", bin))
	return browser, nil
}

// NewPage 打开一个已套用 Stealth 脚本、UA 和资源屏蔽的新标签页。
//
// 页面创建和脚本注入都用 goroutine+select 做超时保护，
// 避免浏览器内部卡住时把调用方拖死。
func (s *Session) NewPage(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	browser := s.browser
	s.mu.Unlock()
	if browser == nil {
		return nil, ErrSessionInvalid
	}

	type pageResult struct {
		page *rod.Page
		err  error
	}
	pageCh := make(chan pageResult, 1)
	go func() {
		page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		select {
		case pageCh <- pageResult{page: page, err: err}:
		default:
			// 主流程已超时离开，清理迟到的页面
			if page != nil {
				_ = page.Close()
			}
		}
	}()

	var page *rod.Page
	createTimer := time.NewTimer(pageCreateTimeout)
	defer createTimer.Stop()
	select {
	case result := <-pageCh:
		if result.err != nil {
			return nil, fmt.Errorf("create page: %w", result.err)
		}
		page = result.page
	case <-createTimer.C:
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled during page creation: %w", ctx.Err())
	}

	stealthDone := make(chan error, 1)
	go func() {
		_, err := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- err
	}()
	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	select {
	case err := <-stealthDone:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("apply stealth script: %w", err)
		}
	case <-stealthTimer.C:
		_ = page.Close()
		return nil, fmt.Errorf("apply stealth script timeout after %v", stealthScriptTimeout)
	case <-ctx.Done():
		_ = page.Close()
		return nil, fmt.Errorf("context cancelled during stealth script: %w", ctx.Err())
	}

	if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLs}).Call(page); err != nil {
		s.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: defaultUA}); err != nil {
		s.logger.Warn("set user agent failed", slog.String("error", err.Error()))
	}

	return page, nil
}

// Reset 关闭当前浏览器并重建，用于会话失效后的恢复。
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("close broken browser failed", slog.String("error", err.Error()))
		}
		s.browser = nil
		metrics.BrowserActive.Dec()
	}

	initCtx, cancel := context.WithTimeout(ctx, browserInitTimeout)
	defer cancel()

	browser, err := startBrowser(initCtx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("restart browser: %w", err)
	}
	s.browser = browser
	metrics.BrowserActive.Inc()
	s.logger.Info("browser session recreated")
	return nil
}

// Close 关闭会话，所有退出路径都必须走到这里。
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return
	}
	if err := s.browser.Close(); err != nil {
		s.logger.Warn("close browser failed", slog.String("error", err.Error()))
	}
	s.browser = nil
	metrics.BrowserActive.Dec()
}
