// Package verdict 调用外部判定服务，对相似度召回的候选配对做批量裁决。
package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/metrics"
	"pricehunter/internal/pkg/ratelimit"
	"pricehunter/internal/sink"
)

// MaxCandidates 单次判定请求的候选上限。超出部分按相似度降序截断，
// 截断事实通过返回值告知调用方，不做静默丢弃。
const MaxCandidates = 50

// Client 判定服务客户端。
//
// 一个来源商品的全部候选合并成一次请求；客户端无状态、不做缓存，
// 任何传输或解析失败都整批退化为保守裁决，从不向上抛错。
type Client struct {
	apiKey  string
	model   string
	baseURL string
	cap     int
	httpc   *http.Client
	limiter *ratelimit.RateLimiter
	sink    sink.Sink
	logger  *slog.Logger
}

// NewClient 创建判定客户端。limiter 与 snk 允许为 nil。
func NewClient(cfg *config.GeminiConfig, limiter *ratelimit.RateLimiter, snk sink.Sink, logger *slog.Logger) *Client {
	capN := cfg.MaxCandidates
	if capN <= 0 || capN > MaxCandidates {
		capN = MaxCandidates
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cap:     capN,
		httpc:   &http.Client{Timeout: timeout},
		limiter: limiter,
		sink:    snk,
		logger:  logger,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// verdictItem 判定服务回传数组的单项。is_match 用指针区分「false」和「缺字段」。
type verdictItem struct {
	IsMatch    *bool  `json:"is_match"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Verify 对一个来源商品的候选列表做批量判定。
//
// 返回的裁决与送验候选按位置一一对应；candidates 超过上限时只验前
// cap 个并返回 truncated=true。失败时整批返回保守裁决，永不报错。
func (c *Client) Verify(ctx context.Context, source model.Product, candidates []model.CandidateMatch, direction Direction) (verdicts []model.Verdict, truncated bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if len(candidates) > c.cap {
		candidates = candidates[:c.cap]
		truncated = true
	}

	start := time.Now()
	verdicts = c.verify(ctx, source, candidates, direction)

	matched := 0
	for _, v := range verdicts {
		if v.IsMatch {
			matched++
		}
	}
	metrics.VerifyDuration.Observe(time.Since(start).Seconds())
	if c.sink != nil {
		// 旁路记录，失败只打日志
		err := c.sink.RecordVerify(ctx, sink.VerifyEvent{
			At:              time.Now(),
			SourceProductID: source.Key(),
			SourceTitle:     source.Title,
			BatchSize:       len(candidates),
			Duration:        time.Since(start),
			MatchedCount:    matched,
		})
		if err != nil {
			c.logger.Warn("record verify event failed", slog.String("error", err.Error()))
		}
	}
	return verdicts, truncated
}

func (c *Client) verify(ctx context.Context, source model.Product, candidates []model.CandidateMatch, direction Direction) []model.Verdict {
	n := len(candidates)

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return c.fallback(n, fmt.Sprintf("rate limited: %v", err))
		}
	}

	text, err := c.generate(ctx, buildPrompt(source, candidates, direction))
	if err != nil {
		return c.fallback(n, fmt.Sprintf("judgment service error: %v", err))
	}

	items, err := parseVerdicts(text, n)
	if err != nil {
		return c.fallback(n, fmt.Sprintf("invalid judgment response: %v", err))
	}

	metrics.VerifyRequestsTotal.WithLabelValues("ok").Inc()
	return items
}

// generate 发起一次 generateContent 调用并取回文本结果。
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		// 要求服务端直接输出 JSON，避免裁剪 markdown 代码块
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("call judgment service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("judgment service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("decode response envelope: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// parseVerdicts 严格解析判定数组：长度必须等于送验数量，
// 每项必须带 is_match 和合法的 confidence。任何不符都整批判失败。
func parseVerdicts(text string, want int) ([]model.Verdict, error) {
	var items []verdictItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("parse verdict array: %w", err)
	}
	if len(items) != want {
		return nil, fmt.Errorf("verdict count mismatch: got %d, want %d", len(items), want)
	}

	out := make([]model.Verdict, 0, want)
	for i, item := range items {
		if item.IsMatch == nil {
			return nil, fmt.Errorf("verdict %d missing is_match", i)
		}
		conf := model.Confidence(item.Confidence)
		if !conf.Valid() {
			return nil, fmt.Errorf("verdict %d has invalid confidence %q", i, item.Confidence)
		}
		out = append(out, model.Verdict{
			IsMatch:    *item.IsMatch,
			Confidence: conf,
			Reasoning:  item.Reasoning,
		})
	}
	return out, nil
}

// fallback 生成整批保守裁决：全部不匹配、低置信度、理由为失败原因。
func (c *Client) fallback(n int, reason string) []model.Verdict {
	metrics.VerifyRequestsTotal.WithLabelValues("fallback").Inc()
	c.logger.Warn("verdict batch fell back", slog.Int("batch", n), slog.String("reason", reason))

	out := make([]model.Verdict, n)
	for i := range out {
		out[i] = model.Verdict{IsMatch: false, Confidence: model.ConfidenceLow, Reasoning: reason}
	}
	return out
}
