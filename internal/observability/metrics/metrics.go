package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type taskKey struct {
	kind   string
	status string
}

type jobKey struct {
	kind    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector 汇总任务与作业的计数和耗时分布。
type Collector struct {
	mu       sync.Mutex
	tasks    map[taskKey]uint64
	jobs     map[jobKey]uint64
	duration map[string]*histogram
}

// NewCollector 创建独立的采集器，测试中使用以避免共享全局状态。
func NewCollector() *Collector {
	return &Collector{
		tasks:    make(map[taskKey]uint64),
		jobs:     make(map[jobKey]uint64),
		duration: make(map[string]*histogram),
	}
}

var defaultCollector = NewCollector()

// Default 返回进程级采集器。
func Default() *Collector { return defaultCollector }

// ObserveTask 记录一次结束的任务。
func ObserveTask(kind, status string, duration time.Duration) {
	defaultCollector.ObserveTask(kind, status, duration)
}

// ObserveJob 记录一次作业处理结果，outcome 取 completed、retried、failed 或 cancelled。
func ObserveJob(kind, outcome string) {
	defaultCollector.ObserveJob(kind, outcome)
}

// ObserveTask 记录一次结束的任务。
func (c *Collector) ObserveTask(kind, status string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks[taskKey{kind: kind, status: status}]++
	hist := c.duration[kind]
	if hist == nil {
		hist = newHistogram()
		c.duration[kind] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveJob 记录一次作业处理结果。
func (c *Collector) ObserveJob(kind, outcome string) {
	c.mu.Lock()
	c.jobs[jobKey{kind: kind, outcome: outcome}]++
	c.mu.Unlock()
}

// TaskCount 返回指定类型与状态的任务数量。
func (c *Collector) TaskCount(kind, status string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks[taskKey{kind: kind, status: status}]
}

// JobCount 返回指定类型与结果的作业数量。
func (c *Collector) JobCount(kind, outcome string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs[jobKey{kind: kind, outcome: outcome}]
}

func newHistogram() *histogram {
	buckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe 更新累积桶；超过最后一个边界的值只计入 +Inf（即 count）。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler 以 Prometheus 文本格式暴露默认采集器。
func Handler() http.Handler {
	return defaultCollector.Handler()
}

// Handler 以 Prometheus 文本格式暴露采集器。
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.render())
	})
}

func (c *Collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	taskKeys := make([]taskKey, 0, len(c.tasks))
	for key := range c.tasks {
		taskKeys = append(taskKeys, key)
	}
	sort.Slice(taskKeys, func(i, j int) bool {
		if taskKeys[i].kind == taskKeys[j].kind {
			return taskKeys[i].status < taskKeys[j].status
		}
		return taskKeys[i].kind < taskKeys[j].kind
	})
	jobKeys := make([]jobKey, 0, len(c.jobs))
	for key := range c.jobs {
		jobKeys = append(jobKeys, key)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].kind == jobKeys[j].kind {
			return jobKeys[i].outcome < jobKeys[j].outcome
		}
		return jobKeys[i].kind < jobKeys[j].kind
	})
	kinds := make([]string, 0, len(c.duration))
	for kind := range c.duration {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP agentd_tasks_total Total number of finished agent tasks.\n")
	builder.WriteString("# TYPE agentd_tasks_total counter\n")
	for _, key := range taskKeys {
		fmt.Fprintf(&builder, "agentd_tasks_total{kind=\"%s\",status=\"%s\"} %d\n",
			escape(key.kind), escape(key.status), c.tasks[key])
	}

	builder.WriteString("# HELP agentd_jobs_total Total number of dispatched job outcomes.\n")
	builder.WriteString("# TYPE agentd_jobs_total counter\n")
	for _, key := range jobKeys {
		fmt.Fprintf(&builder, "agentd_jobs_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.kind), escape(key.outcome), c.jobs[key])
	}

	builder.WriteString("# HELP agentd_task_duration_seconds Agent task execution time in seconds.\n")
	builder.WriteString("# TYPE agentd_task_duration_seconds histogram\n")
	for _, kind := range kinds {
		hist := c.duration[kind]
		label := escape(kind)
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&builder, "agentd_task_duration_seconds_bucket{kind=\"%s\",le=\"%s\"} %d\n",
				label, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(&builder, "agentd_task_duration_seconds_bucket{kind=\"%s\",le=\"+Inf\"} %d\n", label, hist.count)
		fmt.Fprintf(&builder, "agentd_task_duration_seconds_sum{kind=\"%s\"} %s\n", label, formatFloat(hist.sum))
		fmt.Fprintf(&builder, "agentd_task_duration_seconds_count{kind=\"%s\"} %d\n", label, hist.count)
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer 启动独立的 /metrics 服务，ctx 结束时优雅关闭。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
