package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pricehunter/internal/api/middleware"
	"pricehunter/internal/config"
	"pricehunter/internal/export"
	"pricehunter/internal/matching"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/metrics"
	"pricehunter/internal/pkg/queue"
	"pricehunter/internal/pkg/ratelimit"
	"pricehunter/internal/rank"
	"pricehunter/internal/scraper"
	"pricehunter/internal/search"
	"pricehunter/internal/sink"
	"pricehunter/internal/verdict"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// SearchRunner 执行一次完整搜索（抓取 + 相似度匹配）。
type SearchRunner interface {
	Run(ctx context.Context, opts search.Options, onProgress func(search.Progress), cancelled func() bool) (*search.Result, error)
}

// Verifier 对一个来源商品的候选做批量判定。
type Verifier interface {
	Verify(ctx context.Context, source model.Product, candidates []model.CandidateMatch, direction verdict.Direction) ([]model.Verdict, bool)
}

// Server 封装 API 服务所需的依赖和路由处理。
//
// 搜索是异步任务：提交后进 worker 池，客户端轮询进度；
// 比价验证是同步调用，按来源商品粒度触发。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	rdb      *redis.Client
	router   *gin.Engine
	pipeline SearchRunner
	verifier Verifier
	jobs     *jobStore
	queue    *queue.Queue
	guests   *sink.GuestTracker
	snk      sink.Sink
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 Redis（限流与访客跟踪）
// 2. 可选地连接 MySQL（搜索/验证记录的数据库落盘）
// 3. 组装抓取流水线、向量匹配器和判定客户端
// 4. 初始化 Gin 路由引擎和搜索 worker 池
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	sinks := sink.Multi{sink.NewFileSink(logger, cfg.Sink.SearchLogPath, cfg.Sink.VerifyLogPath, cfg.Sink.PeakLogPath)}
	if cfg.MySQL.DSN != "" {
		db, err := gorm.Open(gormmysql.Open(cfg.MySQL.DSN), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		})
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		gs, err := sink.NewGormSink(db)
		if err != nil {
			return nil, fmt.Errorf("init gorm sink: %w", err)
		}
		sinks = append(sinks, gs)
	}

	limiter := ratelimit.NewRedisRateLimiter(rdb, logger, "pricehunter:ratelimit:verify",
		cfg.App.RateLimit, cfg.App.RateBurst)

	embedClient := matching.NewEmbedClient(&cfg.Embed, logger)
	matcher := matching.NewMatcher(embedClient, logger)
	verifier := verdict.NewClient(&cfg.Gemini, limiter, sinks, logger)

	factory := func(ctx context.Context, platform model.Platform) (scraper.Site, error) {
		session, err := scraper.NewSession(ctx, &cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		if platform == model.PlatformPChome {
			return scraper.NewPChome(session, &cfg.Browser, logger), nil
		}
		return scraper.NewMomo(session, &cfg.Browser, logger), nil
	}
	pipeline := search.NewPipeline(factory, &cfg.Browser, matcher, sinks, logger)

	metrics.InitMetrics(cfg.App.WorkerPoolSize)

	q := queue.NewQueue(logger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	q.Start(context.Background())

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		rdb:      rdb,
		router:   r,
		pipeline: pipeline,
		verifier: verifier,
		jobs:     newJobStore(cfg.App.JobTTL),
		queue:    q,
		guests:   sink.NewGuestTracker(rdb, cfg.App.GuestIdleTimeout),
		snk:      sinks,
	}
	s.registerRoutes()
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// MetricsHandler 返回 Prometheus 指标处理器，供独立端口暴露。
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Close 停止 worker 池并关闭缓存连接。
func (s *Server) Close() error {
	if s.queue != nil {
		if err := s.queue.ShutdownWithTimeout(30 * time.Second); err != nil {
			s.logger.Warn("queue shutdown timed out", slog.String("error", err.Error()))
		}
	}
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	tracked := s.router.Group("/")
	if s.guests != nil {
		tracked.Use(middleware.GuestSession(s.guests, s.snk, s.logger))
	}
	tracked.GET("/config", s.handleGetConfig)
	tracked.POST("/search", s.handleCreateSearch)
	tracked.GET("/search/:id", s.handleGetSearch)
	tracked.POST("/search/:id/cancel", s.handleCancelSearch)
	tracked.GET("/search/:id/export", s.handleExportSearch)
	tracked.POST("/compare", s.handleCompare)
	tracked.GET("/stats", s.handleStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"max_products":       s.cfg.Browser.MaxProducts,
		"guest_heartbeat_ms": s.cfg.App.GuestHeartbeat.Milliseconds(),
		"verify_batch_cap":   verdict.MaxCandidates,
	})
}

// createSearchRequest 提交搜索的请求参数。
type createSearchRequest struct {
	Keyword     string `json:"keyword" binding:"required"`
	MaxProducts int    `json:"max_products"`
	Source      string `json:"source"` // 比对方向来源平台: momo / pchome
}

// handleCreateSearch 提交一次异步搜索。
//
// POST /search
func (s *Server) handleCreateSearch(c *gin.Context) {
	var req createSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid keyword"})
		return
	}
	source := model.Platform(req.Source)
	if req.Source != "" && !source.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source platform"})
		return
	}

	entry := s.jobs.create(keyword)
	opts := search.Options{
		Keyword:     keyword,
		MaxProducts: req.MaxProducts,
		Source:      source,
		SessionID:   middleware.SessionID(c),
	}

	ok := s.queue.Enqueue(func(ctx context.Context) error {
		s.runSearchJob(ctx, entry, opts)
		return nil
	})
	if !ok {
		entry.setStatus(JobFailed)
		entry.setError("search queue full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search queue full"})
		return
	}
	metrics.QueueDepth.Set(float64(s.queue.Len()))

	c.JSON(http.StatusAccepted, gin.H{"job_id": entry.job.ID})
}

// runSearchJob 在 worker 池里执行搜索任务。
func (s *Server) runSearchJob(ctx context.Context, entry *jobEntry, opts search.Options) {
	entry.setStatus(JobRunning)

	res, err := s.pipeline.Run(ctx, opts, entry.setProgress, entry.cancel.Load)
	if err != nil {
		entry.setError(err.Error())
		entry.setStatus(JobFailed)
		s.logger.Error("search job failed",
			slog.String("job", entry.job.ID),
			slog.String("keyword", opts.Keyword),
			slog.String("error", err.Error()))
		return
	}

	entry.setResult(res)
	if entry.cancel.Load() {
		entry.setStatus(JobCancelled)
		return
	}
	entry.setStatus(JobDone)
}

// handleGetSearch 轮询搜索任务的进度与结果。
//
// GET /search/:id
func (s *Server) handleGetSearch(c *gin.Context) {
	entry, ok := s.jobs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, entry.snapshot())
}

// handleCancelSearch 对运行中的搜索任务发出协作式取消。
//
// POST /search/:id/cancel
func (s *Server) handleCancelSearch(c *gin.Context) {
	entry, ok := s.jobs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	entry.cancel.Store(true)
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// compareRequest 触发一次来源商品的批量验证。
type compareRequest struct {
	JobID    string `json:"job_id" binding:"required"`
	SourceID string `json:"source_id" binding:"required"`
}

// handleCompare 验证一个来源商品的全部候选并返回排好序的结果。
//
// POST /compare
func (s *Server) handleCompare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, ok := s.jobs.get(req.JobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	res := entry.result()
	if res == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "search not finished"})
		return
	}

	source, ok := findProduct(sourceProducts(res), req.SourceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "source product not found"})
		return
	}

	candidates := res.Candidates[req.SourceID]
	if len(candidates) == 0 {
		c.JSON(http.StatusOK, gin.H{"results": []model.JudgedMatch{}, "truncated": false, "total_candidates": 0})
		return
	}

	direction := verdict.DirectionFor(res.Source)
	verdicts, truncated := s.verifier.Verify(c.Request.Context(), source, candidates, direction)

	judged := make([]model.JudgedMatch, 0, len(candidates))
	for i, cand := range candidates {
		if i < len(verdicts) {
			judged = append(judged, model.JudgedMatch{Match: cand, Verdict: verdicts[i]})
			continue
		}
		// 超出单次验证上限的候选不送验，按未匹配展示
		judged = append(judged, model.JudgedMatch{
			Match:   cand,
			Verdict: model.Verdict{IsMatch: false, Confidence: model.ConfidenceLow, Reasoning: "未驗證（超出單次驗證上限）"},
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"results":          rank.Rank(judged),
		"truncated":        truncated,
		"total_candidates": len(candidates),
	})
}

// handleExportSearch 把某个平台的抓取结果导出成标注 CSV。
//
// GET /search/:id/export?platform=momo
func (s *Server) handleExportSearch(c *gin.Context) {
	entry, ok := s.jobs.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	res := entry.result()
	if res == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "search not finished"})
		return
	}

	platform := model.Platform(c.DefaultQuery("platform", string(model.PlatformMomo)))
	if !platform.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid platform"})
		return
	}
	products := res.Momo
	if platform == model.PlatformPChome {
		products = res.PChome
	}
	if len(products) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no products to export"})
		return
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s.csv", platform, entry.job.ID))
	if err := export.WriteCSV(path, products, res.Keyword, false); err != nil {
		s.logger.Error("export csv failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	defer os.Remove(path)

	c.FileAttachment(path, string(platform)+".csv")
}

// handleStats 返回运行状态：在线访客、任务队列与任务数。
//
// GET /stats
func (s *Server) handleStats(c *gin.Context) {
	stats := gin.H{
		"jobs":        s.jobs.count(),
		"queue_len":   s.queue.Len(),
		"queue_cap":   s.queue.Cap(),
		"queue_stats": s.queue.Stats(),
	}
	if s.guests != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if active, err := s.guests.Active(ctx); err == nil {
			stats["active_guests"] = active
		}
		if peak, err := s.guests.Peak(ctx); err == nil {
			stats["peak_guests"] = peak
		}
	}
	c.JSON(http.StatusOK, stats)
}

// sourceProducts 按比对方向取来源侧的商品列表。
func sourceProducts(res *search.Result) []model.Product {
	if res.Source == model.PlatformPChome {
		return res.PChome
	}
	return res.Momo
}

func findProduct(products []model.Product, id string) (model.Product, bool) {
	for _, p := range products {
		if strconv.Itoa(p.ID) == id {
			return p, true
		}
	}
	return model.Product{}, false
}
