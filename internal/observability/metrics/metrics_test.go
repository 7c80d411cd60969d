package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRendersPrometheusText(t *testing.T) {
	c := NewCollector()
	c.ObserveTask("chat", "completed", 300*time.Millisecond)
	c.ObserveTask("chat", "failed", 20*time.Second)
	c.ObserveTask("tool", "completed", 400*time.Second)
	c.ObserveJob("chat", "retried")
	c.ObserveJob("chat", "completed")

	if got := c.TaskCount("chat", "completed"); got != 1 {
		t.Fatalf("expected 1 completed chat task, got %d", got)
	}
	if got := c.JobCount("chat", "retried"); got != 1 {
		t.Fatalf("expected 1 retried job, got %d", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`agentd_tasks_total{kind="chat",status="completed"} 1`,
		`agentd_jobs_total{kind="chat",outcome="retried"} 1`,
		`agentd_task_duration_seconds_bucket{kind="chat",le="0.5"} 1`,
		`agentd_task_duration_seconds_bucket{kind="chat",le="30"} 2`,
		`agentd_task_duration_seconds_bucket{kind="tool",le="300"} 0`,
		`agentd_task_duration_seconds_bucket{kind="tool",le="+Inf"} 1`,
		`agentd_task_duration_seconds_count{kind="chat"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
}

func TestEscapeLabelValues(t *testing.T) {
	if got := escape("a\"b\\c\n"); got != `a\"b\\c` {
		t.Fatalf("unexpected escape result %q", got)
	}
}
