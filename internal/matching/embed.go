package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/pkg/metrics"
)

// Role 标注文本在检索中的角色。底层句向量模型是按 query/passage
// 非对称目标训练的，前缀必须与角色严格对应，换掉会直接拉低召回。
type Role string

const (
	RoleQuery   Role = "query"   // 源平台标题
	RolePassage Role = "passage" // 目标平台标题
)

// EmbedClient 调用向量化 sidecar 服务，把商品标题转成单位向量。
//
// 模型本体跑在独立的 HTTP 服务里，这里只做批量请求和归一化。
type EmbedClient struct {
	baseURL   string
	batchSize int
	httpc     *http.Client
	logger    *slog.Logger
}

// NewEmbedClient 创建向量化客户端。
func NewEmbedClient(cfg *config.EmbedConfig, logger *slog.Logger) *EmbedClient {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmbedClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		batchSize: batch,
		httpc:     &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed 将一组标题按角色加前缀后向量化。
//
// 内部按 batchSize 分批请求；输出顺序与输入严格一致；向量做 L2 归一化。
func (c *EmbedClient) Embed(ctx context.Context, role Role, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = string(role) + ": " + t
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(prefixed); start += c.batchSize {
		end := start + c.batchSize
		if end > len(prefixed) {
			end = len(prefixed)
		}
		vecs, err := c.embedBatch(ctx, prefixed[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *EmbedClient) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	start := time.Now()

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embed service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(snippet))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(er.Embeddings), len(texts))
	}

	for i := range er.Embeddings {
		normalizeL2(er.Embeddings[i])
	}

	metrics.EmbedRequestDuration.Observe(time.Since(start).Seconds())
	metrics.EmbedTextsTotal.Add(float64(len(texts)))
	c.logger.Debug("embedded batch",
		slog.Int("texts", len(texts)),
		slog.Duration("duration", time.Since(start)))
	return er.Embeddings, nil
}

// normalizeL2 就地做 L2 归一化，零向量原样保留。
func normalizeL2(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
