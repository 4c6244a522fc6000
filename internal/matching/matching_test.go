package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/logger"
)

func newTestClient(t *testing.T, batch int, handler http.HandlerFunc) (*EmbedClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewEmbedClient(&config.EmbedConfig{
		BaseURL:   srv.URL,
		BatchSize: batch,
		Timeout:   5 * time.Second,
	}, logger.NewNop())
	return client, srv
}

func TestEmbedAppliesRolePrefix(t *testing.T) {
	var received []string
	client, _ := newTestClient(t, 32, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		received = append(received, req.Texts...)
		vecs := make([][]float64, len(req.Texts))
		for i := range vecs {
			vecs[i] = []float64{1, 0}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	})

	if _, err := client.Embed(context.Background(), RoleQuery, []string{"iPhone 15"}); err != nil {
		t.Fatalf("embed query: %v", err)
	}
	if _, err := client.Embed(context.Background(), RolePassage, []string{"iPhone 15"}); err != nil {
		t.Fatalf("embed passage: %v", err)
	}

	if len(received) != 2 {
		t.Fatalf("expected 2 texts, got %d", len(received))
	}
	if received[0] != "query: iPhone 15" {
		t.Errorf("source prefix wrong: %q", received[0])
	}
	if received[1] != "passage: iPhone 15" {
		t.Errorf("target prefix wrong: %q", received[1])
	}
}

func TestEmbedBatchesAndPreservesOrder(t *testing.T) {
	var batches int
	client, _ := newTestClient(t, 2, func(w http.ResponseWriter, r *http.Request) {
		batches++
		var req struct {
			Texts []string `json:"texts"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Texts) > 2 {
			t.Errorf("batch size exceeded: %d", len(req.Texts))
		}
		// 向量带上文本序号，方便校验顺序
		vecs := make([][]float64, len(req.Texts))
		for i, text := range req.Texts {
			var n float64
			fmt.Sscanf(strings.TrimPrefix(text, "passage: t"), "%f", &n)
			vecs[i] = []float64{n, 0}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	})

	texts := []string{"t1", "t2", "t3", "t4", "t5"}
	got, err := client.Embed(context.Background(), RolePassage, texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if batches != 3 {
		t.Errorf("expected 3 batches, got %d", batches)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(got))
	}
	for i, v := range got {
		// 归一化后非零向量首维应为 1
		if math.Abs(v[0]-1) > 1e-9 {
			t.Errorf("vector %d not normalized or out of order: %v", i, v)
		}
	}
}

func TestEmbedCountMismatchFails(t *testing.T) {
	client, _ := newTestClient(t, 32, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{1, 0}}})
	})

	if _, err := client.Embed(context.Background(), RoleQuery, []string{"a", "b"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestEmbedServerErrorFails(t *testing.T) {
	client, _ := newTestClient(t, 32, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	})

	if _, err := client.Embed(context.Background(), RoleQuery, []string{"a"}); err == nil {
		t.Fatal("expected server error")
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float64{3, 4}
	normalizeL2(v)
	if math.Abs(v[0]-0.6) > 1e-9 || math.Abs(v[1]-0.8) > 1e-9 {
		t.Errorf("normalizeL2 = %v, want [0.6 0.8]", v)
	}

	zero := []float64{0, 0}
	normalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestMatchEmbeddingsThresholdInvariant(t *testing.T) {
	sources := []model.Product{
		{ID: 1, Title: "iPhone 15 128G", Platform: model.PlatformMomo},
		{ID: 2, Title: "洗衣機 12kg", Platform: model.PlatformMomo},
	}
	targets := []model.Product{
		{ID: 1, Title: "iPhone 15 128G 黑", Price: 25900, URL: "https://t/1", Platform: model.PlatformPChome},
		{ID: 2, Title: "吸塵器", Price: 3000, URL: "https://t/2", Platform: model.PlatformPChome},
	}

	// 源 1 与目标 1 几乎同向（sim≈0.995），与目标 2 正交；
	// 源 2 与两个目标的相似度都落在阈值之下。
	srcVecs := [][]float64{{1, 0}, {0.5, 0.5}}
	tgtVecs := [][]float64{{0.995, 0.0998}, {0, 1}}

	got := MatchEmbeddings(sources, targets, srcVecs, tgtVecs)

	cands, ok := got["1"]
	if !ok || len(cands) != 1 {
		t.Fatalf("source 1: expected exactly 1 candidate, got %v", got["1"])
	}
	if cands[0].Similarity < Threshold {
		t.Errorf("candidate below threshold: %v", cands[0].Similarity)
	}
	if cands[0].TargetID != "1" || cands[0].TargetPrice != 25900 {
		t.Errorf("candidate fields wrong: %+v", cands[0])
	}

	if _, ok := got["2"]; ok {
		t.Errorf("source 2 should have no candidates, got %v", got["2"])
	}
}

func TestMatchEmbeddingsOrdersBySimilarityDesc(t *testing.T) {
	sources := []model.Product{{ID: 1, Title: "A"}}
	targets := []model.Product{
		{ID: 1, Title: "near", Price: 1},
		{ID: 2, Title: "exact", Price: 2},
		{ID: 3, Title: "close", Price: 3},
	}
	srcVecs := [][]float64{{1, 0}}
	tgtVecs := [][]float64{
		{0.8, 0.6},        // sim 0.8
		{1, 0},            // sim 1.0
		{0.9487, 0.3162},  // sim ≈0.9487
	}

	got := MatchEmbeddings(sources, targets, srcVecs, tgtVecs)
	cands := got["1"]
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Similarity > cands[i-1].Similarity {
			t.Fatalf("candidates not descending by similarity: %+v", cands)
		}
	}
	if cands[0].TargetID != "2" {
		t.Errorf("best candidate should be target 2, got %s", cands[0].TargetID)
	}
}
