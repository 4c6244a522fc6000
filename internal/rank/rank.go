// Package rank 对裁决后的候选配对做展示排序。
package rank

import (
	"sort"

	"pricehunter/internal/model"
)

// Rank 返回新的有序切片：判定为同款的在前、未匹配的在后，
// 两个分区内部各自按目标价格升序；价格缺失的条目落在所属分区末尾。
//
// 稳定排序保证价格相同的条目维持输入相对顺序。
func Rank(judged []model.JudgedMatch) []model.JudgedMatch {
	out := make([]model.JudgedMatch, len(judged))
	copy(out, judged)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Verdict.IsMatch != out[j].Verdict.IsMatch {
			return out[i].Verdict.IsMatch
		}
		return out[i].SortPrice() < out[j].SortPrice()
	})
	return out
}
