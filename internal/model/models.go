package model

import (
	"math"
	"time"
)

// Platform 表示商品来源平台。
type Platform string

const (
	PlatformMomo   Platform = "momo"
	PlatformPChome Platform = "pchome"
)

// Valid 判断平台取值是否合法。
func (p Platform) Valid() bool {
	return p == PlatformMomo || p == PlatformPChome
}

// Other 返回对侧平台。
func (p Platform) Other() Platform {
	if p == PlatformMomo {
		return PlatformPChome
	}
	return PlatformMomo
}

// Product 表示从电商平台抓取到的单个商品。
//
// SKU 是商品在源平台的稳定标识（momo 的 i_code、PChome 的 /prod/ 片段），
// 用于单次抓取内去重；解析不到时退回用详情页 URL 判重。
// 记录一经产出不再修改，下一次搜索时整批丢弃重建。
type Product struct {
	ID       int      `json:"id"`        // 本次抓取内的顺序编号，从 1 开始
	SKU      string   `json:"sku"`       // 平台稳定标识，可能由 URL 推导
	Title    string   `json:"title"`     // 商品标题
	Price    float64  `json:"price"`     // 商品价格 (单位: 新台币)
	ImageURL string   `json:"image_url"` // 主图链接，可能为空
	URL      string   `json:"url"`       // 商品详情页绝对链接
	Platform Platform `json:"platform"`  // 来源平台
}

// Key 返回商品的去重键：优先 SKU，缺失时退回 URL。
func (p Product) Key() string {
	if p.SKU != "" {
		return p.SKU
	}
	return p.URL
}

// CandidateMatch 表示一组通过相似度门槛的候选配对。
//
// 同一来源商品的候选按相似度降序排列；重新搜索后整批重算。
type CandidateMatch struct {
	SourceID    string  `json:"source_id"`    // 来源商品编号（字符串形式）
	TargetID    string  `json:"target_id"`    // 目标商品编号
	TargetTitle string  `json:"target_title"` // 目标商品标题
	TargetPrice float64 `json:"target_price"` // 目标商品价格；缺失时为 NaN
	TargetImage string  `json:"target_image"` // 目标商品主图
	TargetURL   string  `json:"target_url"`   // 目标商品链接
	Similarity  float64 `json:"similarity"`   // 余弦相似度，落在 [0,1]
}

// Confidence 表示判定置信度。
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid 判断置信度取值是否合法。
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Verdict 表示判定服务对单组候选配对的裁决。
//
// 与送验候选按位置一一对应，不单独持久化。
type Verdict struct {
	IsMatch    bool       `json:"is_match"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

// JudgedMatch 将候选配对与其裁决合并，供排序与展示使用。
type JudgedMatch struct {
	Match   CandidateMatch `json:"match"`
	Verdict Verdict        `json:"verdict"`
}

// SortPrice 返回用于排序的目标价格；价格缺失（NaN 或非正数）时返回 +Inf，
// 使该条目落在所属分区的末尾。
func (j JudgedMatch) SortPrice() float64 {
	p := j.Match.TargetPrice
	if math.IsNaN(p) || p <= 0 {
		return math.Inf(1)
	}
	return p
}

// SearchLog 记录一次关键字搜索的结果规模（由 sink 的数据库适配器持久化）。
type SearchLog struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 搜索发生时间

	Keyword     string `gorm:"type:varchar(191);index;not null"` // 搜索关键词
	SessionID   string `gorm:"type:varchar(64)"`                 // 访客会话 ID
	MomoCount   int    // momo 抓取到的商品数
	PChomeCount int    // PChome 抓取到的商品数
}

// VerifyLog 记录一次批量验证调用的耗时（由 sink 的数据库适配器持久化）。
type VerifyLog struct {
	ID        uint      `gorm:"primaryKey"` // 内部 ID
	CreatedAt time.Time // 调用发生时间

	SourceProductID string  `gorm:"type:varchar(64)"`  // 来源商品编号
	SourceTitle     string  `gorm:"type:varchar(512)"` // 来源商品标题
	BatchSize       int     // 本次送验的候选数量
	DurationSeconds float64 // 单次调用耗时（秒）
	MatchedCount    int     // 判定为同款的数量
}
