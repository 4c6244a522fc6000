package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"

	"github.com/go-rod/rod"
)

const (
	momoBase      = "https://www.momoshop.com.tw"
	momoImgHost   = "https://img1.momoshop.com.tw"
	momoSearchURL = momoBase + "/search/searchShop.jsp?keyword=%s&searchType=1&cateLevel=0&ent=k&sortType=1&curPage=%d"
)

// momo 搜索页改版频繁，商品卡片选择器按新版到旧版排列逐个回退。
var momoListSelectors = []string{
	"li.listAreaLi",
	".listAreaUl li.listAreaLi",
	"li.goodsItemLi",
	".prdListArea .goodsItemLi",
	"li[data-gtm]",
	".goodsItemLi",
}

var momoTitleSelectors = []string{
	"h3.prdName",
	".prdNameTitle h3.prdName",
	".prdName",
	"h3",
	"a[title]",
	"img[alt]",
	".goodsName",
	".goodsInfo h3",
	"a",
}

var momoPriceSelectors = []string{
	".money .price b",
	".price b",
	".money b",
	".price",
	".money",
	".cost",
	"b",
	"strong",
	".goodsPrice",
	".priceInfo",
	".prodPrice",
	".prdPrice",
}

var momoImageSelectors = []string{
	"img.goods-img",
	"img.prdImg",
	"img.goodsImg",
	"a.goods-img-url img",
	"div.goods-img img",
	"img[src*='goodsImg']",
	"img[src*='momoshop']",
	"img[data-original*='goodsImg']",
	"img[alt]",
}

var momoLinkSelectors = []string{
	"a.goods-img-url",
	"a[href*='/goods/']",
	"a[href]",
}

// Momo 是 momo 购物网搜索页的抓取适配器。翻页走 URL 的 curPage 参数。
type Momo struct {
	session *Session
	cfg     *config.BrowserConfig
	logger  *slog.Logger
}

// NewMomo 创建 momo 适配器，独占传入的浏览器会话。
func NewMomo(session *Session, cfg *config.BrowserConfig, logger *slog.Logger) *Momo {
	return &Momo{session: session, cfg: cfg, logger: logger}
}

func (m *Momo) Platform() model.Platform { return model.PlatformMomo }

func (m *Momo) Reset(ctx context.Context) error { return m.session.Reset(ctx) }

func (m *Momo) Close() { m.session.Close() }

// FetchPage 抓取搜索结果第 page 页并解析出候选商品。
func (m *Momo) FetchPage(ctx context.Context, keyword string, page int) (*PageData, error) {
	tab, err := m.session.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tab.Close() }()

	// 单页的全部 rod 操作共用一个超时上下文
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.PageTimeout)
	defer cancel()
	tab = tab.Context(opCtx)

	target := fmt.Sprintf(momoSearchURL, url.QueryEscape(keyword), page)
	if err := navigate(opCtx, tab, target, m.cfg.PageTimeout); err != nil {
		return nil, err
	}
	scrollToBottom(tab)

	var items rod.Elements
	for _, sel := range momoListSelectors {
		els, err := tab.Elements(sel)
		if err == nil && len(els) > 0 {
			items = els
			m.logger.Debug("listing selector matched",
				slog.String("selector", sel),
				slog.Int("count", len(els)))
			break
		}
	}
	if len(items) == 0 {
		return nil, ErrNoListings
	}

	pd := &PageData{RawCount: len(items), HasNext: true}
	if page == 1 {
		pd.Total = momoTotal(tab)
	}
	for _, el := range items {
		pd.Candidates = append(pd.Candidates, m.parseElement(el))
	}
	return pd, nil
}

// momoTotal 从页面读站点标示的结果总数，读不到返回 0。
func momoTotal(tab *rod.Page) int {
	els, err := tab.Elements("span.total-txt b")
	if err != nil || len(els) == 0 {
		return 0
	}
	return firstDigitRun(elementText(els[0]))
}

func (m *Momo) parseElement(el *rod.Element) *Candidate {
	c := &Candidate{}

	for _, sel := range momoTitleSelectors {
		node := firstElement(el, sel)
		if node == nil {
			continue
		}
		text := elementText(node)
		if !ValidTitle(text) {
			// 链接和图片节点的标题藏在属性里
			if t := attrValue(node, "title"); ValidTitle(t) {
				text = t
			} else if a := attrValue(node, "alt"); ValidTitle(a) {
				text = a
			} else {
				continue
			}
		}
		c.Title = text
		break
	}

	for _, sel := range momoPriceSelectors {
		node := firstElement(el, sel)
		if node == nil {
			continue
		}
		if p := PickLargestPrice(elementText(node)); p > 0 {
			c.Price = p
			break
		}
	}
	if c.Price == 0 {
		c.Price = PickLargestPrice(elementText(el))
	}

	var link string
	for _, sel := range momoLinkSelectors {
		node := firstElement(el, sel)
		if node == nil {
			continue
		}
		if href := attrValue(node, "href"); href != "" {
			link = NormalizeURL(href, momoBase)
			break
		}
	}

	if node := firstElement(el, "input#viewProdId"); node != nil {
		c.SKU = attrValue(node, "value")
	}
	if c.SKU == "" {
		c.SKU = MomoSKUFromURL(link)
	}
	if link == "" && c.SKU != "" {
		// 链接解析失败但有货号时可以拼出商品页
		link = fmt.Sprintf("%s/goods/GoodsDetail.jsp?i_code=%s", momoBase, c.SKU)
	}
	c.URL = link

	c.ImageURL = findLazyImage(el, momoImageSelectors, func(raw string) string {
		return NormalizeImageURL(raw, momoBase, momoImgHost, "momoshop")
	})
	if c.ImageURL != "" && !strings.Contains(c.ImageURL, "?") {
		// 带日期参数绕开 CDN 的过期缓存
		c.ImageURL += "?t=" + time.Now().Format("20060102")
	}

	return c
}
