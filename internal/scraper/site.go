package scraper

import (
	"context"

	"pricehunter/internal/model"
)

// Candidate 表示从单个商品卡片解析出的候选记录。
//
// 解析不出标题、价格或链接的元素以 nil 占位，编排方据此区分
// 「元素存在但不可用」和「页面没有元素」。
type Candidate struct {
	SKU      string
	Title    string
	Price    float64
	ImageURL string
	URL      string
}

// Valid 判断候选是否具备成为商品记录的全部必要字段。
func (c *Candidate) Valid() bool {
	return c != nil && c.Title != "" && c.Price > 0 && c.URL != ""
}

// PageData 表示一页搜索结果的抓取产物。
type PageData struct {
	Candidates []*Candidate // 与页面元素一一对应，nil 表示该元素被跳过
	RawCount   int          // 页面上的商品元素总数（含跳过的）
	Total      int          // 站点标示的结果总数，0 表示未知
	HasNext    bool         // 是否还能请求下一页
}

// Site 是单个电商平台的抓取适配器。
//
// 适配器独占自己的浏览器会话；FetchPage 失败且属于会话失效时，
// 由编排方调用 Reset 重建后重试。
type Site interface {
	Platform() model.Platform

	// FetchPage 抓取第 page 页（从 1 开始）并解析出候选记录。
	FetchPage(ctx context.Context, keyword string, page int) (*PageData, error)

	// Reset 重建浏览器会话。
	Reset(ctx context.Context) error

	// Close 释放会话，任何退出路径都必须调用。
	Close()
}
