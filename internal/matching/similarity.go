package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"pricehunter/internal/model"
)

// Threshold 候选召回的余弦相似度下限。
// 该值是和冻结的句向量模型配套标定出来的，不随请求配置。
const Threshold = 0.739465

// Cosine 计算两个向量的余弦相似度，任一方为零向量时返回 0。
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Matcher 把两个商品集合变成「源商品 → 候选匹配列表」的映射。
type Matcher struct {
	embed  *EmbedClient
	logger *slog.Logger
}

// NewMatcher 创建匹配器。
func NewMatcher(embed *EmbedClient, logger *slog.Logger) *Matcher {
	return &Matcher{embed: embed, logger: logger}
}

// Match 向量化两侧标题后做全量两两比对。
//
// 返回的映射只含有候选的源商品；键不存在与空列表都表示「无匹配」。
func (m *Matcher) Match(ctx context.Context, sources, targets []model.Product) (map[string][]model.CandidateMatch, error) {
	if len(sources) == 0 || len(targets) == 0 {
		return map[string][]model.CandidateMatch{}, nil
	}

	srcTitles := make([]string, len(sources))
	for i, p := range sources {
		srcTitles[i] = p.Title
	}
	tgtTitles := make([]string, len(targets))
	for i, p := range targets {
		tgtTitles[i] = p.Title
	}

	srcVecs, err := m.embed.Embed(ctx, RoleQuery, srcTitles)
	if err != nil {
		return nil, fmt.Errorf("embed source titles: %w", err)
	}
	tgtVecs, err := m.embed.Embed(ctx, RolePassage, tgtTitles)
	if err != nil {
		return nil, fmt.Errorf("embed target titles: %w", err)
	}

	result := MatchEmbeddings(sources, targets, srcVecs, tgtVecs)
	m.logger.Info("similarity matching done",
		slog.Int("sources", len(sources)),
		slog.Int("targets", len(targets)),
		slog.Int("sources_with_candidates", len(result)))
	return result, nil
}

// MatchEmbeddings 对已向量化的两侧商品做全量余弦比对。
//
// 商品目录上限只有一两百件，全量稠密矩阵足够，不需要近似检索。
// 每个源商品的候选按相似度降序。
func MatchEmbeddings(sources, targets []model.Product, srcVecs, tgtVecs [][]float64) map[string][]model.CandidateMatch {
	result := make(map[string][]model.CandidateMatch)

	for i, src := range sources {
		if i >= len(srcVecs) {
			break
		}
		var cands []model.CandidateMatch
		for j, tgt := range targets {
			if j >= len(tgtVecs) {
				break
			}
			sim := Cosine(srcVecs[i], tgtVecs[j])
			if sim < Threshold {
				continue
			}
			cands = append(cands, model.CandidateMatch{
				SourceID:    strconv.Itoa(src.ID),
				TargetID:    strconv.Itoa(tgt.ID),
				TargetTitle: tgt.Title,
				TargetPrice: tgt.Price,
				TargetImage: tgt.ImageURL,
				TargetURL:   tgt.URL,
				Similarity:  sim,
			})
		}
		if len(cands) == 0 {
			continue
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].Similarity > cands[b].Similarity })
		result[strconv.Itoa(src.ID)] = cands
	}
	return result
}
