// Package export 把抓取结果写成标注用的 CSV。
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"pricehunter/internal/model"
)

// columns 标注数据集的固定 13 列。
var columns = []string{
	"id", "sku", "title", "image", "url", "platform",
	"connect", "price", "uncertainty_problem", "query",
	"annotator", "created_at", "updated_at",
}

const annotator = "model_prediction"

// WriteCSV 将商品写入 CSV 文件。
//
// append=true 且文件已存在时追加写入（不重复表头），id 从现有
// 文件的最大值继续编号；否则覆盖写入并从 1 开始。空列表不落盘。
func WriteCSV(path string, products []model.Product, keyword string, append bool) error {
	if len(products) == 0 {
		return nil
	}

	startID := 1
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if append && exists {
		maxID, err := maxExistingID(path)
		if err != nil {
			return fmt.Errorf("read existing csv: %w", err)
		}
		startID = maxID + 1
	}

	flags := os.O_CREATE | os.O_WRONLY
	if append && exists {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !append || !exists {
		if err := w.Write(columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	now := time.Now().Format("2006-01-02 15:04:05.000")
	for i, p := range products {
		row := []string{
			strconv.Itoa(startID + i),
			p.SKU,
			p.Title,
			p.ImageURL,
			p.URL,
			string(p.Platform),
			"", // connect 留空，供后续人工回填
			fmt.Sprintf("%.2f", p.Price),
			"0",
			keyword,
			annotator,
			now,
			now,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// maxExistingID 读取现有文件里最大的 id；空文件或没有数据行时返回 0。
func maxExistingID(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	maxID := 0
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if first {
			first = false
			continue // 表头
		}
		if len(record) == 0 {
			continue
		}
		id, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}
