package verdict

import (
	"fmt"
	"strings"

	"pricehunter/internal/model"
)

// Direction 表示比对方向：哪个平台是来源（商品 A），哪个是候选（商品 B）。
type Direction string

const (
	DirectionMomoToPChome Direction = "momo_to_pchome"
	DirectionPChomeToMomo Direction = "pchome_to_momo"
)

// DirectionFor 根据来源平台推导比对方向。
func DirectionFor(source model.Platform) Direction {
	if source == model.PlatformPChome {
		return DirectionPChomeToMomo
	}
	return DirectionMomoToPChome
}

// platformNames 返回提示词里使用的平台显示名（A=来源、B=目标）。
// 判定理由要求直接写平台名，所以这里的写法不能改。
func (d Direction) platformNames() (a, b string) {
	if d == DirectionPChomeToMomo {
		return "PChome", "MOMO"
	}
	return "MOMO", "PChome"
}

// promptHeader 批次判定的规则说明。规则文本是业务方确定的繁体中文版本，
// 测试会对照其中的措辞（平台名、颜色/福利品注记格式），逐字保留。
const promptHeader = `你是一個電商產品匹配專家。以下是「一個 %[1]s 商品」與「多個 %[2]s 候選商品」的比對任務。

**重要提示**：
- 這些 %[2]s 商品都是同一個 %[1]s 商品的潛在匹配候選
- **請獨立判斷每一個配對，不要受其他配對結果影響**
- **即使其中某個商品已經匹配，其他商品仍可能同樣匹配**（不同賣家販售相同商品是正常的）
- **即使所有商品都不匹配也完全正常**（請不要因為候選數量多就強行找出匹配）
- 可能的結果：0 個匹配、1 個匹配、或多個匹配，都是合理的
- 每個配對都應該獨立地通過相同的嚴格標準

請嚴格依照以下規則判斷：

**核心匹配規則**：
1. **品牌與型號**：必須完全一致（注意：不同語言的品牌名稱，如 "Logitech" 和 "羅技" 是同一品牌）。
2. **規格變體**：主要規格（如容量 128G vs 256G）不同視為「不同商品」。
3. **顏色差異**：**相同產品的不同顏色，一律視為「相同商品」**（例如：黑色 iPhone 和白色 iPhone 視為同一商品）。**判斷理由中請明確說明顏色差異**，格式如：「相同商品(顏色不同)。%[1]s: 黑色 vs %[2]s: 白色」。如果有顏色代碼，也請列出。
4. **包裝數量差異**：**相同產品的不同包裝數量，一律視為「相同商品」**（例如：60包衛生紙 vs 10包衛生紙視為同一商品，請在理由中提供單件價格比較）。
5. **口味差異**：**相同產品的不同口味，一律視為「相同商品」**。特別注意：如果一個商品標示多種口味選項（如「香辣+鹽焗」），另一個商品只標示其中一種口味（如「鹽焗」），視為相同商品的不同口味選項。
6. **福利品 vs 全新品**：**相同產品的福利品與全新品，一律視為「相同商品」**。福利品通常標示為「福利品」「展示品」「整新品」「二手」等。**判斷理由中必須特別註記福利品資訊**。

**嚴格排除規則（以下情況視為不同商品，絕對不可匹配）**：
1. **組合包 vs 單品**：單品 ≠ 多品項組合包/套組（關鍵字：「組合」「套組」「+其他商品」「贈品」，但注意：同商品的「×2」「×3」「多入」屬於包裝數量差異，應視為相同）
2. **原廠 vs 副廠/相容配件**：原廠商品 ≠ 副廠/相容/通用商品（關鍵字：「副廠」「相容」「適用」「通用」「compatible」）
3. **限量/特殊版本 vs 一般版本**：一般商品 ≠ 限量版/特殊版本（但不包括福利品，福利品應視為相同商品）

**判斷理由格式要求（針對包裝數量不同的情況）**：
- 如果是相同商品但包裝數量不同，請計算並顯示單件價格
- 格式範例：「相同商品(包裝量不同)。單價：%[1]s $19.98/包 vs %[2]s $23.90/包」
- **如果是相同商品但顏色不同，請明確說明顏色差異**
- 格式範例：「相同商品(顏色不同)。%[1]s: 米白(FD4328-100) vs %[2]s: 米白酒紅(FD4328-107)」
- **如果其中一個商品是福利品，必須特別註記**
- 格式範例：「相同商品(福利品)。%[1]s: 全新 vs %[2]s: 福利品」或「相同商品(福利品)。注意%[2]s為展示品」
- 從商品標題提取數量資訊（如「60包」「10包」「90抽x10包」「3串」），用總價除以數量計算單價
- 如果標題中有多個數字（如「90抽x60包」），優先使用「包」「入」「盒」「組」「串」等單位的數量
- **重要：單價比較時必須明確使用「%[1]s」和「%[2]s」作為平台名稱，不可使用 A/B 或商品A/商品B 等代號**

---

`

const promptFooter = `請針對以上 %[3]d 組商品配對，分別判斷並回傳純 JSON 陣列格式：
[
    {"is_match": true/false, "confidence": "high/medium/low", "reasoning": "繁體中文理由(50字內，包裝量不同時用'%[1]s'和'%[2]s'標示單價)"},
    {"is_match": true/false, "confidence": "high/medium/low", "reasoning": "繁體中文理由(50字內，包裝量不同時用'%[1]s'和'%[2]s'標示單價)"},
    ...
]

請確保陣列中有 %[3]d 個結果，順序對應上述配對順序。`

// buildPrompt 组装一次批量判定的完整提示词：规则 + 配对清单 + 输出格式。
func buildPrompt(source model.Product, candidates []model.CandidateMatch, direction Direction) string {
	a, b := direction.platformNames()

	var sb strings.Builder
	fmt.Fprintf(&sb, promptHeader, a, b)

	for i, cand := range candidates {
		fmt.Fprintf(&sb, `【配對 %d】
商品 A (%s)：%s
商品 A 價格：NT$ %s
商品 B (%s)：%s
商品 B 價格：NT$ %s
第一階段相似度：%.4f

`, i+1, a, source.Title, formatNTD(source.Price), b, cand.TargetTitle, formatNTD(cand.TargetPrice), cand.Similarity)
	}

	fmt.Fprintf(&sb, promptFooter, a, b, len(candidates))
	return sb.String()
}

// formatNTD 格式化台币整数金额，带千位分隔符。
func formatNTD(price float64) string {
	if price != price || price < 0 { // NaN 或异常值
		price = 0
	}
	s := fmt.Sprintf("%.0f", price)
	if len(s) <= 3 {
		return s
	}
	var sb strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		sb.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s[i : i+3])
	}
	return sb.String()
}
