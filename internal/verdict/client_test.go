package verdict

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/logger"
	"pricehunter/internal/sink"
)

// geminiReply 把判定数组包进 generateContent 的响应信封。
func geminiReply(t *testing.T, w http.ResponseWriter, verdictsJSON string) {
	t.Helper()
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": verdictsJSON}}}},
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode reply: %v", err)
	}
}

func promptFromRequest(t *testing.T, r *http.Request) string {
	t.Helper()
	var req struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		GenerationConfig struct {
			ResponseMIMEType string `json:"responseMimeType"`
		} `json:"generationConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Errorf("responseMimeType = %q, want application/json", req.GenerationConfig.ResponseMIMEType)
	}
	if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 1 {
		t.Fatalf("unexpected request shape: %+v", req)
	}
	return req.Contents[0].Parts[0].Text
}

func newTestClient(t *testing.T, snk sink.Sink, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&config.GeminiConfig{
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, nil, snk, logger.NewNop())
}

func makeCandidates(n int) []model.CandidateMatch {
	out := make([]model.CandidateMatch, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.CandidateMatch{
			SourceID:    "1",
			TargetID:    fmt.Sprintf("%d", i+1),
			TargetTitle: fmt.Sprintf("candidate %d", i+1),
			TargetPrice: float64(1000 + i),
			Similarity:  0.99 - float64(i)*0.001,
		})
	}
	return out
}

var testSource = model.Product{ID: 1, SKU: "M100", Title: "SONY WH-1000XM5 無線降噪耳機", Price: 8990, Platform: model.PlatformMomo}

func TestVerifyOrderCorrelation(t *testing.T) {
	var prompt string
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		prompt = promptFromRequest(t, r)
		geminiReply(t, w, `[
			{"is_match": true,  "confidence": "high",   "reasoning": "r1"},
			{"is_match": false, "confidence": "medium", "reasoning": "r2"},
			{"is_match": true,  "confidence": "low",    "reasoning": "r3"}
		]`)
	})

	verdicts, truncated := client.Verify(context.Background(), testSource, makeCandidates(3), DirectionMomoToPChome)

	if truncated {
		t.Error("unexpected truncation")
	}
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	wantMatch := []bool{true, false, true}
	wantReason := []string{"r1", "r2", "r3"}
	for i, v := range verdicts {
		if v.IsMatch != wantMatch[i] || v.Reasoning != wantReason[i] {
			t.Errorf("verdict %d = %+v, want match=%v reasoning=%s", i, v, wantMatch[i], wantReason[i])
		}
	}

	if !strings.Contains(prompt, "一個 MOMO 商品") || !strings.Contains(prompt, "多個 PChome 候選商品") {
		t.Error("prompt missing verbatim platform names for momo→pchome direction")
	}
	if !strings.Contains(prompt, "【配對 3】") {
		t.Error("prompt missing third pair block")
	}
	if !strings.Contains(prompt, testSource.Title) {
		t.Error("prompt missing source title")
	}
	if !strings.Contains(prompt, "NT$ 8,990") {
		t.Error("prompt missing formatted source price")
	}
}

func TestVerifyDirectionSwapsPlatformNames(t *testing.T) {
	var prompt string
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		prompt = promptFromRequest(t, r)
		geminiReply(t, w, `[{"is_match": false, "confidence": "high", "reasoning": "r"}]`)
	})

	client.Verify(context.Background(), testSource, makeCandidates(1), DirectionPChomeToMomo)

	if !strings.Contains(prompt, "一個 PChome 商品") || !strings.Contains(prompt, "多個 MOMO 候選商品") {
		t.Error("prompt missing verbatim platform names for pchome→momo direction")
	}
}

func TestVerifyFallbackOnMalformedPayload(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		geminiReply(t, w, `not json at all`)
	})

	verdicts, _ := client.Verify(context.Background(), testSource, makeCandidates(3), DirectionMomoToPChome)

	if len(verdicts) != 3 {
		t.Fatalf("fallback must match input length, got %d", len(verdicts))
	}
	for i, v := range verdicts {
		if v.IsMatch || v.Confidence != model.ConfidenceLow || v.Reasoning == "" {
			t.Errorf("verdict %d is not the conservative fallback: %+v", i, v)
		}
	}
}

func TestVerifyFallbackOnLengthMismatch(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		geminiReply(t, w, `[{"is_match": true, "confidence": "high", "reasoning": "only one"}]`)
	})

	verdicts, _ := client.Verify(context.Background(), testSource, makeCandidates(3), DirectionMomoToPChome)

	if len(verdicts) != 3 {
		t.Fatalf("fallback must match input length, got %d", len(verdicts))
	}
	for _, v := range verdicts {
		// 整批回退，正确的那一条也不能保留
		if v.IsMatch || v.Confidence != model.ConfidenceLow {
			t.Errorf("expected all-or-nothing fallback, got %+v", v)
		}
	}
}

func TestVerifyFallbackOnInvalidConfidence(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		geminiReply(t, w, `[{"is_match": true, "confidence": "very sure", "reasoning": "r"}]`)
	})

	verdicts, _ := client.Verify(context.Background(), testSource, makeCandidates(1), DirectionMomoToPChome)

	if len(verdicts) != 1 || verdicts[0].IsMatch || verdicts[0].Confidence != model.ConfidenceLow {
		t.Errorf("expected fallback on invalid confidence, got %+v", verdicts)
	}
}

func TestVerifyFallbackOnServerError(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	verdicts, _ := client.Verify(context.Background(), testSource, makeCandidates(2), DirectionMomoToPChome)

	if len(verdicts) != 2 {
		t.Fatalf("fallback must match input length, got %d", len(verdicts))
	}
	for _, v := range verdicts {
		if v.IsMatch || v.Confidence != model.ConfidenceLow {
			t.Errorf("expected fallback verdict, got %+v", v)
		}
	}
}

func TestVerifyCapsAtFifty(t *testing.T) {
	var pairCount int
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		prompt := promptFromRequest(t, r)
		pairCount = strings.Count(prompt, "【配對 ")

		items := make([]map[string]any, 50)
		for i := range items {
			items[i] = map[string]any{"is_match": false, "confidence": "high", "reasoning": "r"}
		}
		payload, _ := json.Marshal(items)
		geminiReply(t, w, string(payload))
	})

	verdicts, truncated := client.Verify(context.Background(), testSource, makeCandidates(75), DirectionMomoToPChome)

	if !truncated {
		t.Error("expected truncation to be reported")
	}
	if pairCount != 50 {
		t.Errorf("expected 50 pairs in prompt, got %d", pairCount)
	}
	if len(verdicts) != 50 {
		t.Errorf("expected 50 verdicts, got %d", len(verdicts))
	}
}

func TestVerifyEmptyCandidates(t *testing.T) {
	client := newTestClient(t, nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty candidate list")
	})

	verdicts, truncated := client.Verify(context.Background(), testSource, nil, DirectionMomoToPChome)
	if verdicts != nil || truncated {
		t.Errorf("expected nil verdicts, got %v (truncated=%v)", verdicts, truncated)
	}
}

func TestVerifyRecordsTiming(t *testing.T) {
	mem := sink.NewMemorySink()
	client := newTestClient(t, mem, func(w http.ResponseWriter, r *http.Request) {
		geminiReply(t, w, `[
			{"is_match": true,  "confidence": "high", "reasoning": "r1"},
			{"is_match": false, "confidence": "low",  "reasoning": "r2"}
		]`)
	})

	client.Verify(context.Background(), testSource, makeCandidates(2), DirectionMomoToPChome)

	events := mem.Verifies()
	if len(events) != 1 {
		t.Fatalf("expected 1 verify event, got %d", len(events))
	}
	ev := events[0]
	if ev.SourceProductID != "M100" || ev.BatchSize != 2 || ev.MatchedCount != 1 {
		t.Errorf("verify event fields wrong: %+v", ev)
	}
}

func TestFormatNTD(t *testing.T) {
	cases := []struct {
		price float64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{8990, "8,990"},
		{1259000, "1,259,000"},
	}
	for _, c := range cases {
		if got := formatNTD(c.price); got != c.want {
			t.Errorf("formatNTD(%v) = %q, want %q", c.price, got, c.want)
		}
	}
}
