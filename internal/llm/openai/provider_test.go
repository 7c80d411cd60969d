package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdk "github.com/openai/openai-go"

	xerrors "agent-platform/internal/errors"
	"agent-platform/internal/llm"
)

func newTestServer(t *testing.T, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "missing auth", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if captured != nil {
				if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
					t.Errorf("decode body: %v", err)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": time.Now().Unix(),
				"model":   "gpt-4o-mini",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "  你好  "},
				}},
			})
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"model":  "text-embedding-3-small",
				"data": []map[string]any{
					{"object": "embedding", "index": 1, "embedding": []float64{0.3, 0.4}},
					{"object": "embedding", "index": 0, "embedding": []float64{0.1, 0.2}},
				},
				"usage": map[string]any{"prompt_tokens": 2, "total_tokens": 2},
			})
		case strings.HasSuffix(r.URL.Path, "/models"):
			_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": []any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestChatCompletion(t *testing.T) {
	var body map[string]any
	srv := newTestServer(t, &body)

	provider, err := New(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := provider.ChatCompletion(context.Background(), []llm.Message{
		llm.SystemMessage("persona"),
		llm.UserMessage("hi"),
		llm.AssistantMessage("hello"),
		llm.UserMessage("again"),
	})
	if err != nil {
		t.Fatalf("chat completion: %v", err)
	}
	if reply != "你好" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if body["model"] != defaultModelName {
		t.Fatalf("unexpected model: %v", body["model"])
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" {
		t.Fatalf("expected system role first, got %v", first["role"])
	}
}

func TestEmbeddingsKeepInputOrder(t *testing.T) {
	srv := newTestServer(t, nil)
	provider, err := New(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vectors, err := provider.Embeddings(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embeddings: %v", err)
	}
	if len(vectors) != 2 || vectors[0][0] != 0.1 || vectors[1][0] != 0.3 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, nil)
	provider, err := New(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health := provider.HealthCheck(context.Background()); !health.Healthy() {
		t.Fatalf("expected healthy provider, got %+v", health)
	}
}

func TestChatCompletionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	provider, err := New(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = provider.Completion(context.Background(), "hi")
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeProviderFailure {
		t.Fatalf("unexpected code: %s", code)
	}
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected sdk error in chain, got %T", err)
	}
	if got := xerrors.MessageOf(err); got != apiErr.Error() {
		t.Fatalf("expected sdk message to be kept verbatim, got %q", got)
	}
	if health := provider.HealthCheck(context.Background()); health.Healthy() {
		t.Fatalf("expected unhealthy provider")
	}
}
