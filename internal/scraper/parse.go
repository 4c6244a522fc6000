package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// 本文件是纯文本层的解析工具：价格挑选、图片过滤、URL 补全、SKU 推导。
// 不触碰浏览器对象，方便单测。

var (
	digitRunRe  = regexp.MustCompile(`\d+`)
	dollarRe    = regexp.MustCompile(`\$[\d,]+`)
	momoICodeRe = regexp.MustCompile(`i_code=(\d+)`)
	pchomeSKURe = regexp.MustCompile(`/prod/(.*?)(?:\?|$)`)
)

// installmentKeywords 分期付款文案的标记字符。
// 命中任意一个的价格文本按分期金额处理，不能直接当售价。
var installmentKeywords = []string{"期", "x", "X", "/", "每期"}

// minTitleLen 标题最短长度（字符数），过短的文本多半是标签或按钮。
const minTitleLen = 5

// 价格合理区间：排除折扣百分比、排名等小数字和明显异常的大数字。
const (
	priceFloor   = 100
	priceCeiling = 10000000
)

// ValidTitle 判断标题是否达到最短长度要求。
func ValidTitle(title string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(title)) > minTitleLen
}

// HasInstallmentMarker 判断价格文本是否疑似分期付款金额。
func HasInstallmentMarker(text string) bool {
	for _, kw := range installmentKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// digitRuns 提取文本中的所有数字串（先去掉千位分隔符）。
func digitRuns(text string) []int {
	cleaned := strings.ReplaceAll(text, ",", "")
	matches := digitRunRe.FindAllString(cleaned, -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.Atoi(m); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// firstDigitRun 提取文本中的第一个数字串；没有则返回 0。
func firstDigitRun(text string) int {
	cleaned := strings.NewReplacer(",", "", "$", "", "元", "").Replace(text)
	m := digitRunRe.FindString(cleaned)
	if m == "" {
		return 0
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return v
}

// PickLargestPrice 从一段文本中挑出最大的数字作为价格。
//
// 取最大值可以避开折扣百分比、满额门槛等小数字；小于等于 10 的数字直接丢弃。
// 找不到可用数字时返回 0。
func PickLargestPrice(text string) float64 {
	best := 0
	for _, v := range digitRuns(text) {
		if v > 10 && v > best {
			best = v
		}
	}
	return float64(best)
}

// PickSalePrice 从多段价格文本中挑选促销价。
//
// 规则：
//  1. 含分期标记的文本只记为分期金额，不直接参与选价；
//  2. 其余文本取第一个落在合理区间 (100, 10000000) 的数字；
//  3. 只有一个候选价直接用；多个候选价取最小（通常是促销价），
//     但若最小值恰好等于某个分期金额，则排除分期金额后再取最小，
//     排除后为空时退回取最大（原价）。
//
// 找不到可用数字时返回 0。
func PickSalePrice(texts []string) float64 {
	var prices []int
	var installments []int

	for _, text := range texts {
		v := firstDigitRun(text)
		if v <= priceFloor || v >= priceCeiling {
			continue
		}
		if HasInstallmentMarker(text) {
			installments = append(installments, v)
			continue
		}
		prices = append(prices, v)
	}

	return float64(chooseSalePrice(prices, installments))
}

// PickDollarPrices 从整段文本中按行提取 $ 标价，跳过含分期标记的行。
func PickDollarPrices(fullText string) []string {
	var out []string
	for _, line := range strings.Split(fullText, "\n") {
		if HasInstallmentMarker(line) || strings.Contains(line, "分期") {
			continue
		}
		out = append(out, dollarRe.FindAllString(line, -1)...)
	}
	return out
}

func chooseSalePrice(prices, installments []int) int {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) == 1 {
		return prices[0]
	}

	candidate := minInt(prices)
	if !containsInt(installments, candidate) {
		return candidate
	}

	valid := prices[:0:0]
	for _, p := range prices {
		if !containsInt(installments, p) {
			valid = append(valid, p)
		}
	}
	if len(valid) > 0 {
		return minInt(valid)
	}
	return maxInt(prices)
}

func minInt(vals []int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxInt(vals []int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func containsInt(vals []int, target int) bool {
	for _, v := range vals {
		if v == target {
			return true
		}
	}
	return false
}

// imageBlocklist 非商品图片的 URL 特征：占位图、官方标签、活动图、图标等。
var imageBlocklist = []string{
	"placeholder",
	"offical_tag",
	"official_tag",
	"ec-images",
	"icon",
	"logo",
	"banner",
	"_tag_",
	"tag.png",
	"tag.jpg",
	"data:image",
}

// IsBlockedImage 判断图片 URL 是否命中非商品图片黑名单。
func IsBlockedImage(url string) bool {
	if url == "" || url == "about:blank" {
		return true
	}
	lower := strings.ToLower(url)
	for _, pattern := range imageBlocklist {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// NormalizeURL 将协议省略或根相对的链接补全为绝对链接。
func NormalizeURL(raw, base string) string {
	switch {
	case raw == "":
		return raw
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return base + raw
	default:
		return base + "/" + raw
	}
}

// NormalizeImageURL 补全图片链接；相对路径且不含站点域名时挂到图片主机下。
func NormalizeImageURL(raw, base, imgHost, siteMark string) string {
	switch {
	case raw == "":
		return raw
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return base + raw
	case !strings.Contains(raw, siteMark):
		return imgHost + "/" + raw
	default:
		return "https://" + raw
	}
}

// MomoSKUFromURL 从 momo 商品链接推导 SKU：优先 i_code 参数，退回最后一段路径。
func MomoSKUFromURL(url string) string {
	if url == "" {
		return ""
	}
	if m := momoICodeRe.FindStringSubmatch(url); len(m) > 1 {
		return m[1]
	}
	trimmed := strings.TrimRight(url, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	if i := strings.Index(last, "?"); i >= 0 {
		last = last[:i]
	}
	if i := strings.Index(last, "."); i >= 0 {
		last = last[:i]
	}
	return last
}

// PChomeSKUFromURL 从 PChome 商品链接提取 /prod/ 后的 SKU 段。
func PChomeSKUFromURL(url string) string {
	if m := pchomeSKURe.FindStringSubmatch(url); len(m) > 1 {
		return m[1]
	}
	return ""
}

// FirstFromSrcset 从 srcset 或逗号分隔的图片描述中取第一个 URL。
func FirstFromSrcset(value string) string {
	first := strings.TrimSpace(strings.Split(value, ",")[0])
	return strings.Split(first, " ")[0]
}
