package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pricehunter/internal/config"
	"pricehunter/internal/model"
	"pricehunter/internal/pkg/logger"
	"pricehunter/internal/pkg/queue"
	"pricehunter/internal/search"
	"pricehunter/internal/sink"
	"pricehunter/internal/verdict"

	"github.com/gin-gonic/gin"
)

type stubRunner struct {
	result   *search.Result
	err      error
	progress []search.Progress
	block    chan struct{} // 非 nil 时先等待，用于测试取消
}

func (r *stubRunner) Run(ctx context.Context, opts search.Options, onProgress func(search.Progress), cancelled func() bool) (*search.Result, error) {
	if r.block != nil {
		<-r.block
	}
	for _, ev := range r.progress {
		if onProgress != nil {
			onProgress(ev)
		}
	}
	if cancelled != nil && cancelled() {
		return &search.Result{Keyword: opts.Keyword, Source: model.PlatformMomo}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	res := *r.result
	res.Keyword = opts.Keyword
	return &res, nil
}

type stubVerifier struct {
	verdicts  []model.Verdict
	truncated bool
	calls     int
	batch     int
	direction verdict.Direction
}

func (v *stubVerifier) Verify(_ context.Context, _ model.Product, candidates []model.CandidateMatch, direction verdict.Direction) ([]model.Verdict, bool) {
	v.calls++
	v.batch = len(candidates)
	v.direction = direction
	return v.verdicts, v.truncated
}

func product(id int, platform model.Platform, price float64) model.Product {
	return model.Product{
		ID:       id,
		SKU:      fmt.Sprintf("%s-%d", platform, id),
		Title:    fmt.Sprintf("商品 %d", id),
		Price:    price,
		URL:      fmt.Sprintf("https://example.com/%d", id),
		Platform: platform,
	}
}

func testServer(t *testing.T, runner SearchRunner, verifier Verifier) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	q := queue.NewQueue(log, 2, 8)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(cancel)

	cfg := config.LoadOrDefault()
	s := &Server{
		cfg:      cfg,
		logger:   log,
		router:   gin.New(),
		pipeline: runner,
		verifier: verifier,
		jobs:     newJobStore(time.Minute),
		queue:    q,
		snk:      sink.NewMemorySink(),
	}
	s.registerRoutes()
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) Job {
	t.Helper()
	var job Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v (body %s)", err, w.Body.String())
	}
	return job
}

// waitForStatus 轮询任务直到进入目标状态。
func waitForStatus(t *testing.T, s *Server, jobID string, want JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := doJSON(t, s, http.MethodGet, "/search/"+jobID, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("poll status %d: %s", w.Code, w.Body.String())
		}
		job := decodeJob(t, w)
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return Job{}
}

func TestSearchJobLifecycle(t *testing.T) {
	runner := &stubRunner{
		result: &search.Result{
			Source: model.PlatformMomo,
			Momo:   []model.Product{product(1, model.PlatformMomo, 100)},
			PChome: []model.Product{product(1, model.PlatformPChome, 90)},
		},
		progress: []search.Progress{
			{Platform: model.PlatformMomo, Current: 1, Total: 1, Message: "collected"},
		},
	}
	s := testServer(t, runner, nil)

	w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "鍵盤"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("bad submit response: %s", w.Body.String())
	}

	job := waitForStatus(t, s, resp.JobID, JobDone)
	if job.Result == nil || len(job.Result.Momo) != 1 || len(job.Result.PChome) != 1 {
		t.Fatalf("done job missing result: %+v", job)
	}
	if job.Result.Keyword != "鍵盤" {
		t.Errorf("keyword = %q", job.Result.Keyword)
	}
	if ev, ok := job.Progress[string(model.PlatformMomo)]; !ok || ev.Current != 1 {
		t.Errorf("progress not recorded: %+v", job.Progress)
	}
}

func TestSearchRejectsBadRequests(t *testing.T) {
	s := testServer(t, &stubRunner{result: &search.Result{}}, nil)

	if w := doJSON(t, s, http.MethodPost, "/search", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing keyword: status %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank keyword: status %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "kw", "source": "amazon"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad source platform: status %d", w.Code)
	}
}

func TestSearchJobFailure(t *testing.T) {
	s := testServer(t, &stubRunner{err: errors.New("browser launch failed")}, nil)

	w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "kw"})
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	job := waitForStatus(t, s, resp.JobID, JobFailed)
	if !strings.Contains(job.Error, "browser launch failed") {
		t.Errorf("error not propagated: %q", job.Error)
	}
}

func TestSearchCancellation(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s := testServer(t, runner, nil)

	w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "kw"})
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if cw := doJSON(t, s, http.MethodPost, "/search/"+resp.JobID+"/cancel", nil); cw.Code != http.StatusOK {
		t.Fatalf("cancel status %d", cw.Code)
	}
	close(runner.block)

	waitForStatus(t, s, resp.JobID, JobCancelled)
}

func TestGetUnknownJob(t *testing.T) {
	s := testServer(t, &stubRunner{result: &search.Result{}}, nil)

	if w := doJSON(t, s, http.MethodGet, "/search/no-such-job", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/search/no-such-job/cancel", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel status = %d, want 404", w.Code)
	}
}

func TestSearchQueueFull(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{}), result: &search.Result{}}
	defer close(runner.block)

	s := testServer(t, runner, nil)
	// 替换成容量 1、无 worker 的队列：第一个任务占满，第二个被拒
	s.queue = queue.NewQueue(s.logger, 1, 1)

	if w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "a"}); w.Code != http.StatusAccepted {
		t.Fatalf("first submit status %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "b"}); w.Code != http.StatusServiceUnavailable {
		t.Errorf("second submit status %d, want 503", w.Code)
	}
}

func compareReadyServer(t *testing.T, verifier Verifier, candidates []model.CandidateMatch) (*Server, string) {
	t.Helper()
	runner := &stubRunner{
		result: &search.Result{
			Source: model.PlatformMomo,
			Momo:   []model.Product{product(1, model.PlatformMomo, 500)},
			PChome: []model.Product{
				product(1, model.PlatformPChome, 450),
				product(2, model.PlatformPChome, 300),
				product(3, model.PlatformPChome, 700),
			},
			Candidates: map[string][]model.CandidateMatch{"1": candidates},
		},
	}
	s := testServer(t, runner, verifier)

	w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "kw"})
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	waitForStatus(t, s, resp.JobID, JobDone)
	return s, resp.JobID
}

func TestCompareRanksVerdicts(t *testing.T) {
	candidates := []model.CandidateMatch{
		{SourceID: "1", TargetID: "1", Similarity: 0.9, TargetTitle: "候選 1", TargetPrice: 450},
		{SourceID: "1", TargetID: "2", Similarity: 0.85, TargetTitle: "候選 2", TargetPrice: 300},
		{SourceID: "1", TargetID: "3", Similarity: 0.8, TargetTitle: "候選 3", TargetPrice: 700},
	}
	verifier := &stubVerifier{
		verdicts: []model.Verdict{
			{IsMatch: true, Confidence: model.ConfidenceHigh, Reasoning: "同型號"},
			{IsMatch: false, Confidence: model.ConfidenceHigh, Reasoning: "容量不同"},
			{IsMatch: true, Confidence: model.ConfidenceMedium, Reasoning: "同型號不同色"},
		},
	}
	s, jobID := compareReadyServer(t, verifier, candidates)

	w := doJSON(t, s, http.MethodPost, "/compare", gin.H{"job_id": jobID, "source_id": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("compare status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Results         []model.JudgedMatch `json:"results"`
		Truncated       bool                `json:"truncated"`
		TotalCandidates int                 `json:"total_candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if verifier.calls != 1 || verifier.batch != 3 {
		t.Fatalf("verifier calls=%d batch=%d", verifier.calls, verifier.batch)
	}
	if verifier.direction != verdict.DirectionMomoToPChome {
		t.Errorf("direction = %s", verifier.direction)
	}
	if resp.TotalCandidates != 3 || resp.Truncated {
		t.Errorf("total=%d truncated=%v", resp.TotalCandidates, resp.Truncated)
	}
	// 匹配的在前且按价格升序：450 的和 700 的匹配，300 的不匹配
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d", len(resp.Results))
	}
	if !resp.Results[0].Verdict.IsMatch || resp.Results[0].Match.TargetPrice != 450 {
		t.Errorf("first result wrong: %+v", resp.Results[0])
	}
	if !resp.Results[1].Verdict.IsMatch || resp.Results[1].Match.TargetPrice != 700 {
		t.Errorf("second result wrong: %+v", resp.Results[1])
	}
	if resp.Results[2].Verdict.IsMatch {
		t.Errorf("unmatched candidate must rank last: %+v", resp.Results[2])
	}
}

func TestCompareMarksOverflowCandidatesUnverified(t *testing.T) {
	candidates := []model.CandidateMatch{
		{SourceID: "1", TargetID: "1", Similarity: 0.9, TargetTitle: "候選 1", TargetPrice: 450},
		{SourceID: "1", TargetID: "2", Similarity: 0.85, TargetTitle: "候選 2", TargetPrice: 300},
	}
	// 验证端只返回第一条的判定并报告截断
	verifier := &stubVerifier{
		verdicts:  []model.Verdict{{IsMatch: true, Confidence: model.ConfidenceHigh, Reasoning: "同型號"}},
		truncated: true,
	}
	s, jobID := compareReadyServer(t, verifier, candidates)

	w := doJSON(t, s, http.MethodPost, "/compare", gin.H{"job_id": jobID, "source_id": "1"})
	var resp struct {
		Results   []model.JudgedMatch `json:"results"`
		Truncated bool                `json:"truncated"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !resp.Truncated {
		t.Error("truncation flag lost")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d", len(resp.Results))
	}
	overflow := resp.Results[1]
	if overflow.Verdict.IsMatch || overflow.Verdict.Confidence != model.ConfidenceLow {
		t.Errorf("overflow candidate must be unmatched low-confidence: %+v", overflow)
	}
}

func TestCompareErrors(t *testing.T) {
	verifier := &stubVerifier{}
	s, jobID := compareReadyServer(t, verifier, nil)

	if w := doJSON(t, s, http.MethodPost, "/compare", gin.H{"job_id": "missing", "source_id": "1"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown job: status %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/compare", gin.H{"job_id": jobID, "source_id": "42"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown source product: status %d", w.Code)
	}
	// 没有候选时返回空结果而不是错误
	w := doJSON(t, s, http.MethodPost, "/compare", gin.H{"job_id": jobID, "source_id": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("no candidates: status %d", w.Code)
	}
	if verifier.calls != 0 {
		t.Errorf("verifier should not run without candidates")
	}
}

func TestExportSearchCSV(t *testing.T) {
	runner := &stubRunner{
		result: &search.Result{
			Source: model.PlatformMomo,
			Momo:   []model.Product{product(1, model.PlatformMomo, 199)},
		},
	}
	s := testServer(t, runner, nil)

	w := doJSON(t, s, http.MethodPost, "/search", gin.H{"keyword": "kw"})
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	waitForStatus(t, s, resp.JobID, JobDone)

	ew := doJSON(t, s, http.MethodGet, "/search/"+resp.JobID+"/export?platform=momo", nil)
	if ew.Code != http.StatusOK {
		t.Fatalf("export status %d: %s", ew.Code, ew.Body.String())
	}
	body := ew.Body.String()
	if !strings.Contains(body, "momo-1") || !strings.Contains(body, "199.00") {
		t.Errorf("csv content wrong: %s", body)
	}

	// pchome 侧没有商品
	if ew := doJSON(t, s, http.MethodGet, "/search/"+resp.JobID+"/export?platform=pchome", nil); ew.Code != http.StatusNotFound {
		t.Errorf("empty platform export: status %d", ew.Code)
	}
}

func TestHealthzAndStats(t *testing.T) {
	s := testServer(t, &stubRunner{result: &search.Result{}}, nil)

	if w := doJSON(t, s, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status %d", w.Code)
	}

	w := doJSON(t, s, http.MethodGet, "/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status %d", w.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if _, ok := stats["queue_cap"]; !ok {
		t.Errorf("stats missing queue_cap: %v", stats)
	}
}
