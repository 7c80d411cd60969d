package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	xerrors "agent-platform/internal/errors"
)

type failingNotifier struct{}

func (failingNotifier) Channel() Channel { return "pager" }
func (failingNotifier) Notify(context.Context, Event) error {
	return errors.New("pager offline")
}

func TestLogNotifierWritesStructuredAlert(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := notifier.Notify(context.Background(), Event{
		Code:       "JOB_RETRIES_EXHAUSTED",
		Message:    "LLM service unavailable",
		Severity:   xerrors.SeverityCritical,
		JobID:      "job-1",
		AgentID:    "analyst",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["level"] != "ERROR" {
		t.Fatalf("expected critical alert at ERROR, got %v", record["level"])
	}
	if record["job_id"] != "job-1" || record["meta.stage"] != "terminal" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestFanoutCollectsChannelErrors(t *testing.T) {
	var buf bytes.Buffer
	dispatcher := NewFanout(NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil))), failingNotifier{}, nil)

	channels := dispatcher.Channels()
	if len(channels) != 2 || channels[0] != ChannelLog || channels[1] != "pager" {
		t.Fatalf("unexpected channels: %v", channels)
	}

	err := dispatcher.Notify(context.Background(), Event{Code: "JOB_PROCESSING_FAILED", Severity: xerrors.SeverityWarning, JobID: "job-2"})
	if err == nil || !strings.Contains(err.Error(), "channel pager") {
		t.Fatalf("expected pager error, got %v", err)
	}
	if !strings.Contains(buf.String(), "job-2") {
		t.Fatalf("expected log notifier to run despite pager failure")
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var dispatcher *FanoutDispatcher
	if err := dispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil dispatcher to ignore events, got %v", err)
	}
}
