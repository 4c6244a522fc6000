package api

import (
	"sync"
	"sync/atomic"
	"time"

	"pricehunter/internal/search"

	"github.com/google/uuid"
)

// JobStatus 搜索任务的生命周期状态。
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job 搜索任务的对外快照。
type Job struct {
	ID        string                     `json:"id"`
	Keyword   string                     `json:"keyword"`
	Status    JobStatus                  `json:"status"`
	Progress  map[string]search.Progress `json:"progress"`          // 各平台最近一次进度
	Result    *search.Result             `json:"result,omitempty"`  // 完成后填充
	Error     string                     `json:"error,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
}

// jobEntry 任务的内部状态；cancel 是两个抓取 worker 共享的取消开关。
type jobEntry struct {
	mu     sync.Mutex
	job    Job
	cancel atomic.Bool
	doneAt time.Time
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.job
	out.Progress = make(map[string]search.Progress, len(e.job.Progress))
	for k, v := range e.job.Progress {
		out.Progress[k] = v
	}
	return out
}

func (e *jobEntry) setStatus(status JobStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Status = status
	if status == JobDone || status == JobFailed || status == JobCancelled {
		e.doneAt = time.Now()
	}
}

func (e *jobEntry) setProgress(ev search.Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Progress[string(ev.Platform)] = ev
}

func (e *jobEntry) setResult(res *search.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Result = res
}

func (e *jobEntry) setError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.job.Error = msg
}

// result 返回已完成任务的结果，未完成时返回 nil。
func (e *jobEntry) result() *search.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Result
}

// jobStore 进程内的任务表。完成的任务在 TTL 后被惰性清除。
type jobStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*jobEntry
}

func newJobStore(ttl time.Duration) *jobStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &jobStore{
		ttl:     ttl,
		entries: make(map[string]*jobEntry),
	}
}

func (s *jobStore) create(keyword string) *jobEntry {
	entry := &jobEntry{
		job: Job{
			ID:        uuid.NewString(),
			Keyword:   keyword,
			Status:    JobQueued,
			Progress:  make(map[string]search.Progress),
			CreatedAt: time.Now(),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	s.entries[entry.job.ID] = entry
	return entry
}

func (s *jobStore) get(id string) (*jobEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	e, ok := s.entries[id]
	return e, ok
}

func (s *jobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// purgeLocked 清掉过期的已完成任务，调用方需持锁。
func (s *jobStore) purgeLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for id, e := range s.entries {
		e.mu.Lock()
		expired := !e.doneAt.IsZero() && e.doneAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.entries, id)
		}
	}
}
