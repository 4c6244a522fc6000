package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"pricehunter/internal/model"
)

func sample(id int, sku string, price float64) model.Product {
	return model.Product{
		ID:       id,
		SKU:      sku,
		Title:    "商品 " + sku,
		Price:    price,
		ImageURL: "https://img.example.com/" + sku + ".jpg",
		URL:      "https://example.com/goods/" + sku,
		Platform: model.PlatformMomo,
	}
}

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestWriteCSVFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "momo.csv")
	products := []model.Product{sample(1, "A1", 199), sample(2, "A2", 1250.5)}

	if err := WriteCSV(path, products, "keyboard", true); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != 13 || rows[0][0] != "id" || rows[0][12] != "updated_at" {
		t.Errorf("header wrong: %v", rows[0])
	}
	if rows[1][0] != "1" || rows[2][0] != "2" {
		t.Errorf("ids wrong: %v / %v", rows[1][0], rows[2][0])
	}
	if rows[1][7] != "199.00" || rows[2][7] != "1250.50" {
		t.Errorf("price formatting wrong: %v / %v", rows[1][7], rows[2][7])
	}
	if rows[1][9] != "keyboard" || rows[1][10] != "model_prediction" || rows[1][8] != "0" {
		t.Errorf("static columns wrong: %v", rows[1])
	}
}

func TestWriteCSVAppendRenumbersFromMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "momo.csv")

	if err := WriteCSV(path, []model.Product{sample(1, "A1", 100), sample(2, "A2", 200)}, "kw", true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteCSV(path, []model.Product{sample(1, "B1", 300)}, "kw2", true); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	// 追加行从现有最大 id 续编，不重复表头
	if rows[3][0] != "3" || rows[3][1] != "B1" || rows[3][9] != "kw2" {
		t.Errorf("appended row wrong: %v", rows[3])
	}
	for _, row := range rows[1:] {
		if row[0] == "id" {
			t.Error("duplicate header written on append")
		}
	}
}

func TestWriteCSVOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "momo.csv")

	if err := WriteCSV(path, []model.Product{sample(1, "A1", 100)}, "kw", true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteCSV(path, []model.Product{sample(1, "B1", 300)}, "kw", false); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	rows := readAll(t, path)
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row after overwrite, got %d", len(rows))
	}
	if rows[1][0] != "1" || rows[1][1] != "B1" {
		t.Errorf("overwritten row wrong: %v", rows[1])
	}
}

func TestWriteCSVEmptyProductsNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "momo.csv")

	if err := WriteCSV(path, nil, "kw", true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty product list should not create a file")
	}
}
