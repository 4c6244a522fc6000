package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	MySQL   MySQLConfig   `json:"mysql"`
	Redis   RedisConfig   `json:"redis"`
	Browser BrowserConfig `json:"browser"`
	Embed   EmbedConfig   `json:"embed"`
	Gemini  GeminiConfig  `json:"gemini"`
	Sink    SinkConfig    `json:"sink"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env              string        `json:"env"`                // 运行环境: local / prod
	LogLevel         string        `json:"log_level"`          // 日志级别: debug / info / warn / error
	HTTPAddr         string        `json:"http_addr"`          // API 服务监听地址
	MetricsAddr      string        `json:"metrics_addr"`       // Prometheus 指标监听地址
	GuestIdleTimeout time.Duration `json:"guest_idle_timeout"` // Guest 无操作超时（如 "10m"）
	GuestHeartbeat   time.Duration `json:"guest_heartbeat"`    // Guest 心跳间隔（如 "5m"）
	WorkerPoolSize   int           `json:"worker_pool_size"`   // 搜索任务 Worker 数量
	QueueCapacity    int           `json:"queue_capacity"`     // 搜索任务队列容量
	JobTTL           time.Duration `json:"job_ttl"`            // 已完成搜索任务的保留时间
	RateLimit        float64       `json:"rate_limit"`         // 验证调用限流速率（token/s）
	RateBurst        float64       `json:"rate_burst"`         // 验证调用限流桶容量
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串（为空表示不启用数据库日志）
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// BrowserConfig 抓取浏览器配置。
type BrowserConfig struct {
	BinPath        string        `json:"bin_path"`        // 浏览器可执行文件路径
	ProxyURL       string        `json:"proxy_url"`       // 代理服务器 URL
	Headless       bool          `json:"headless"`        // 是否使用无头模式
	PageTimeout    time.Duration `json:"page_timeout"`    // 单页加载/查询超时
	MaxPages       int           `json:"max_pages"`       // 每个平台最多翻页数
	MaxProducts    int           `json:"max_products"`    // 每个平台最多收集商品数
	PageDelayMin   time.Duration `json:"page_delay_min"`  // 翻页间隔下限
	PageDelayMax   time.Duration `json:"page_delay_max"`  // 翻页间隔上限
	FetchRetries   int           `json:"fetch_retries"`   // 单页抓取重试次数
	DuplicateLimit int           `json:"duplicate_limit"` // 连续重复商品放弃阈值
}

// EmbedConfig 向量服务配置。
//
// 句向量模型由独立的 HTTP 服务承载，这里只记录其地址与批量参数。
type EmbedConfig struct {
	BaseURL   string        `json:"base_url"`   // 向量服务地址
	BatchSize int           `json:"batch_size"` // 单次请求最大文本数
	Timeout   time.Duration `json:"timeout"`    // 单次请求超时
}

// GeminiConfig 判定服务配置。
type GeminiConfig struct {
	APIKey        string        `json:"api_key"`        // API 密钥（建议用环境变量注入）
	Model         string        `json:"model"`          // 模型名称
	BaseURL       string        `json:"base_url"`       // API 基础地址
	Timeout       time.Duration `json:"timeout"`        // 单次请求超时
	MaxCandidates int           `json:"max_candidates"` // 单个来源商品最多送验候选数
}

// SinkConfig 运行记录落盘配置。
type SinkConfig struct {
	SearchLogPath string `json:"search_log_path"` // 搜索记录文件
	PeakLogPath   string `json:"peak_log_path"`   // 在线人数峰值文件
	VerifyLogPath string `json:"verify_log_path"` // 验证耗时记录文件
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// 解析 JSON
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:              "local",
			LogLevel:         "info",
			HTTPAddr:         ":8081",
			MetricsAddr:      ":2112",
			GuestIdleTimeout: 10 * time.Minute,
			GuestHeartbeat:   5 * time.Minute,
			WorkerPoolSize:   4,
			QueueCapacity:    64,
			JobTTL:           30 * time.Minute,
			RateLimit:        1,
			RateBurst:        3,
		},
		MySQL: MySQLConfig{
			DSN: "",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Browser: BrowserConfig{
			BinPath:        "",
			ProxyURL:       "",
			Headless:       true,
			PageTimeout:    20 * time.Second,
			MaxPages:       10,
			MaxProducts:    200,
			PageDelayMin:   500 * time.Millisecond,
			PageDelayMax:   1500 * time.Millisecond,
			FetchRetries:   3,
			DuplicateLimit: 10,
		},
		Embed: EmbedConfig{
			BaseURL:   "http://localhost:8501",
			BatchSize: 32,
			Timeout:   30 * time.Second,
		},
		Gemini: GeminiConfig{
			APIKey:        "",
			Model:         "gemini-2.0-flash",
			BaseURL:       "https://generativelanguage.googleapis.com",
			Timeout:       60 * time.Second,
			MaxCandidates: 50,
		},
		Sink: SinkConfig{
			SearchLogPath: "logs/search_logs.json",
			PeakLogPath:   "logs/user_peak.json",
			VerifyLogPath: "logs/stage2_performance.json",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.GuestIdleTimeout == 0 {
		cfg.App.GuestIdleTimeout = defaults.App.GuestIdleTimeout
	}
	if cfg.App.GuestHeartbeat == 0 {
		cfg.App.GuestHeartbeat = defaults.App.GuestHeartbeat
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.JobTTL == 0 {
		cfg.App.JobTTL = defaults.App.JobTTL
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Browser.PageTimeout == 0 {
		cfg.Browser.PageTimeout = defaults.Browser.PageTimeout
	}
	if cfg.Browser.MaxPages == 0 {
		cfg.Browser.MaxPages = defaults.Browser.MaxPages
	}
	if cfg.Browser.MaxProducts == 0 {
		cfg.Browser.MaxProducts = defaults.Browser.MaxProducts
	}
	if cfg.Browser.PageDelayMin == 0 {
		cfg.Browser.PageDelayMin = defaults.Browser.PageDelayMin
	}
	if cfg.Browser.PageDelayMax == 0 {
		cfg.Browser.PageDelayMax = defaults.Browser.PageDelayMax
	}
	if cfg.Browser.FetchRetries == 0 {
		cfg.Browser.FetchRetries = defaults.Browser.FetchRetries
	}
	if cfg.Browser.DuplicateLimit == 0 {
		cfg.Browser.DuplicateLimit = defaults.Browser.DuplicateLimit
	}
	if cfg.Embed.BaseURL == "" {
		cfg.Embed.BaseURL = defaults.Embed.BaseURL
	}
	if cfg.Embed.BatchSize == 0 {
		cfg.Embed.BatchSize = defaults.Embed.BatchSize
	}
	if cfg.Embed.Timeout == 0 {
		cfg.Embed.Timeout = defaults.Embed.Timeout
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = defaults.Gemini.Model
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = defaults.Gemini.BaseURL
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = defaults.Gemini.Timeout
	}
	if cfg.Gemini.MaxCandidates == 0 {
		cfg.Gemini.MaxCandidates = defaults.Gemini.MaxCandidates
	}
	if cfg.Sink.SearchLogPath == "" {
		cfg.Sink.SearchLogPath = defaults.Sink.SearchLogPath
	}
	if cfg.Sink.PeakLogPath == "" {
		cfg.Sink.PeakLogPath = defaults.Sink.PeakLogPath
	}
	if cfg.Sink.VerifyLogPath == "" {
		cfg.Sink.VerifyLogPath = defaults.Sink.VerifyLogPath
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")
	_ = viper.BindEnv("embed_base_url", "EMBED_BASE_URL")
	_ = viper.BindEnv("gemini_api_key", "GEMINI_API_KEY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_GUEST_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.GuestIdleTimeout = d
		}
	}
	if v := os.Getenv("APP_GUEST_HEARTBEAT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.GuestHeartbeat = d
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_JOB_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.JobTTL = d
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("HTTP_PROXY"); v != "" {
		cfg.Browser.ProxyURL = v
	} else if v := os.Getenv("BROWSER_PROXY_URL"); v != "" {
		cfg.Browser.ProxyURL = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_PAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.PageTimeout = d
		}
	}
	if v := os.Getenv("BROWSER_MAX_PAGES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.MaxPages = i
		}
	}
	if v := os.Getenv("BROWSER_MAX_PRODUCTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.MaxProducts = i
		}
	}
	if v := os.Getenv("BROWSER_FETCH_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Browser.FetchRetries = i
		}
	}

	if v := viper.GetString("embed_base_url"); v != "" {
		cfg.Embed.BaseURL = v
	}
	if v := os.Getenv("EMBED_BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Embed.BatchSize = i
		}
	}
	if v := os.Getenv("EMBED_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Embed.Timeout = d
		}
	}

	if v := viper.GetString("gemini_api_key"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Gemini.Model = v
	}
	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		cfg.Gemini.BaseURL = v
	}
	if v := os.Getenv("GEMINI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gemini.Timeout = d
		}
	}

	if v := os.Getenv("SINK_SEARCH_LOG_PATH"); v != "" {
		cfg.Sink.SearchLogPath = v
	}
	if v := os.Getenv("SINK_PEAK_LOG_PATH"); v != "" {
		cfg.Sink.PeakLogPath = v
	}
	if v := os.Getenv("SINK_VERIFY_LOG_PATH"); v != "" {
		cfg.Sink.VerifyLogPath = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn == "" {
		return &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "pricehunter",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return &mysql.Config{
			User:   "root",
			Passwd: "",
			Net:    "tcp",
			Addr:   "localhost:3306",
			DBName: "pricehunter",
			Params: map[string]string{
				"parseTime": "true",
				"loc":       "Local",
			},
		}
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		GuestIdleTimeout string `json:"guest_idle_timeout"`
		GuestHeartbeat   string `json:"guest_heartbeat"`
		JobTTL           string `json:"job_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.GuestIdleTimeout != "" {
		duration, err := time.ParseDuration(aux.GuestIdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid guest_idle_timeout format: %w", err)
		}
		a.GuestIdleTimeout = duration
	}
	if aux.GuestHeartbeat != "" {
		duration, err := time.ParseDuration(aux.GuestHeartbeat)
		if err != nil {
			return fmt.Errorf("invalid guest_heartbeat format: %w", err)
		}
		a.GuestHeartbeat = duration
	}
	if aux.JobTTL != "" {
		duration, err := time.ParseDuration(aux.JobTTL)
		if err != nil {
			return fmt.Errorf("invalid job_ttl format: %w", err)
		}
		a.JobTTL = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		GuestIdleTimeout string `json:"guest_idle_timeout"`
		GuestHeartbeat   string `json:"guest_heartbeat"`
		JobTTL           string `json:"job_ttl"`
		*Alias
	}{
		GuestIdleTimeout: a.GuestIdleTimeout.String(),
		GuestHeartbeat:   a.GuestHeartbeat.String(),
		JobTTL:           a.JobTTL.String(),
		Alias:            (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (b *BrowserConfig) UnmarshalJSON(data []byte) error {
	type Alias BrowserConfig
	aux := &struct {
		PageTimeout  string `json:"page_timeout"`
		PageDelayMin string `json:"page_delay_min"`
		PageDelayMax string `json:"page_delay_max"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.PageTimeout != "" {
		duration, err := time.ParseDuration(aux.PageTimeout)
		if err != nil {
			return fmt.Errorf("invalid page_timeout format: %w", err)
		}
		b.PageTimeout = duration
	}
	if aux.PageDelayMin != "" {
		duration, err := time.ParseDuration(aux.PageDelayMin)
		if err != nil {
			return fmt.Errorf("invalid page_delay_min format: %w", err)
		}
		b.PageDelayMin = duration
	}
	if aux.PageDelayMax != "" {
		duration, err := time.ParseDuration(aux.PageDelayMax)
		if err != nil {
			return fmt.Errorf("invalid page_delay_max format: %w", err)
		}
		b.PageDelayMax = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (b BrowserConfig) MarshalJSON() ([]byte, error) {
	type Alias BrowserConfig
	return json.Marshal(&struct {
		PageTimeout  string `json:"page_timeout"`
		PageDelayMin string `json:"page_delay_min"`
		PageDelayMax string `json:"page_delay_max"`
		*Alias
	}{
		PageTimeout:  b.PageTimeout.String(),
		PageDelayMin: b.PageDelayMin.String(),
		PageDelayMax: b.PageDelayMax.String(),
		Alias:        (*Alias)(&b),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (e *EmbedConfig) UnmarshalJSON(data []byte) error {
	type Alias EmbedConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid embed timeout format: %w", err)
		}
		e.Timeout = duration
	}

	return nil
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (g *GeminiConfig) UnmarshalJSON(data []byte) error {
	type Alias GeminiConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(g),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid gemini timeout format: %w", err)
		}
		g.Timeout = duration
	}

	return nil
}
