package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	pchomeBase      = "https://24h.pchome.com.tw"
	pchomeSearchURL = pchomeBase + "/search/?q=%s"

	// pchomeItemSelector PChome 改版后的商品卡片选择器，当前只有这一种布局。
	pchomeItemSelector = "li.c-listInfoGrid__item--gridCardGray5"

	pchomeNextSelector = "i.o-iconFonts--arrowSolidRight"
)

// PChome 是 PChome 24h 搜索页的抓取适配器。
//
// PChome 的翻页没有 URL 参数，只能在同一个标签页里点右箭头，
// 因此适配器是有状态的：标签页跨 FetchPage 调用复用。
type PChome struct {
	session *Session
	cfg     *config.BrowserConfig
	logger  *slog.Logger

	mu      sync.Mutex
	tab     *rod.Page
	keyword string
}

// NewPChome 创建 PChome 适配器，独占传入的浏览器会话。
func NewPChome(session *Session, cfg *config.BrowserConfig, logger *slog.Logger) *PChome {
	return &PChome{session: session, cfg: cfg, logger: logger}
}

func (p *PChome) Platform() model.Platform { return model.PlatformPChome }

// Reset 重建浏览器会话并丢弃翻页状态。
func (p *PChome) Reset(ctx context.Context) error {
	p.mu.Lock()
	p.tab = nil
	p.keyword = ""
	p.mu.Unlock()
	return p.session.Reset(ctx)
}

func (p *PChome) Close() {
	p.mu.Lock()
	p.closeTabLocked()
	p.mu.Unlock()
	p.session.Close()
}

func (p *PChome) closeTabLocked() {
	if p.tab != nil {
		_ = p.tab.Close()
		p.tab = nil
	}
}

// FetchPage 抓取搜索结果第 page 页并解析出候选商品。
//
// 第 1 页重新导航；后续页在已有标签页上点击下一页箭头。
func (p *PChome) FetchPage(ctx context.Context, keyword string, page int) (*PageData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
	defer cancel()

	if page == 1 || p.tab == nil || p.keyword != keyword {
		p.closeTabLocked()
		tab, err := p.session.NewPage(ctx)
		if err != nil {
			return nil, err
		}
		p.tab = tab
		p.keyword = keyword

		target := fmt.Sprintf(pchomeSearchURL, url.QueryEscape(keyword))
		if err := navigate(opCtx, tab.Context(opCtx), target, p.cfg.PageTimeout); err != nil {
			p.closeTabLocked()
			return nil, err
		}
	} else {
		if err := p.clickNext(opCtx); err != nil {
			return nil, err
		}
	}

	tab := p.tab.Context(opCtx)
	scrollToBottom(tab)

	items, err := tab.Elements(pchomeItemSelector)
	if err != nil {
		return nil, fmt.Errorf("query listing elements: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoListings
	}

	pd := &PageData{RawCount: len(items)}
	for _, el := range items {
		pd.Candidates = append(pd.Candidates, p.parseElement(el))
	}
	pd.HasNext = p.hasNext(tab)
	return pd, nil
}

// clickNext 点击下一页箭头的父节点并等待结果刷新。
func (p *PChome) clickNext(ctx context.Context) error {
	tab := p.tab.Context(ctx)
	arrows, err := tab.Elements(pchomeNextSelector)
	if err != nil {
		return fmt.Errorf("query next button: %w", err)
	}
	if len(arrows) == 0 {
		return ErrNoListings
	}
	// 可点的是箭头图标外层的按钮节点
	parent, err := arrows[0].Parent()
	if err != nil {
		return fmt.Errorf("next button parent: %w", err)
	}
	if err := parent.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click next page: %w", err)
	}

	// 前端路由翻页，不会触发整页加载，固定等一段渲染时间
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * scrollWaitInterval):
	}
	return nil
}

func (p *PChome) hasNext(tab *rod.Page) bool {
	arrows, err := tab.Elements(pchomeNextSelector)
	return err == nil && len(arrows) > 0
}

func (p *PChome) parseElement(el *rod.Element) *Candidate {
	// 链接和货号是硬性要求，缺一个整个元素作废
	link := firstElement(el, "a.c-prodInfoV2__link")
	if link == nil {
		return nil
	}
	href := attrValue(link, "href")
	if href == "" {
		return nil
	}
	u := NormalizeURL(href, pchomeBase)
	sku := PChomeSKUFromURL(u)
	if sku == "" {
		return nil
	}

	c := &Candidate{SKU: sku, URL: u}
	if node := firstElement(el, "h3.c-prodInfoV2__title"); node != nil {
		c.Title = elementText(node)
	}
	c.Price = p.findPrice(el)
	c.ImageURL = findLazyImage(el, []string{"img.c-prodInfoV2__img", "a.c-prodInfoV2__link img", "img"}, func(raw string) string {
		return NormalizeURL(raw, pchomeBase)
	})
	return c
}

// findPrice 依次尝试三种取价方式。
func (p *PChome) findPrice(el *rod.Element) float64 {
	// 方法一：价格容器逐个取数，含分期标记的按分期金额处理
	if nodes, err := el.Elements("div[class*='o-prodPrice']"); err == nil && len(nodes) > 0 {
		texts := make([]string, 0, len(nodes))
		for _, n := range nodes {
			texts = append(texts, elementText(n))
		}
		if v := PickSalePrice(texts); v > 0 {
			return v
		}
	}

	// 方法二：整段文本按行扫 $ 标价，跳过分期行
	if full := elementText(el); full != "" {
		if v := PickSalePrice(PickDollarPrices(full)); v > 0 {
			return v
		}
	}

	// 方法三：促销价字段兜底
	if node := firstElement(el, "div.c-prodInfoV2__salePrice"); node != nil {
		if v := firstDigitRun(elementText(node)); v > 0 {
			return float64(v)
		}
	}
	return 0
}
