package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agent-platform/internal/llm"
)

func TestChatCompletionSplitsSystemPrompt(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test" {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"model":       defaultModelName,
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "回答"}},
			"usage":       map[string]any{"input_tokens": 3, "output_tokens": 1},
		})
	}))
	defer srv.Close()

	provider, err := New(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := provider.ChatCompletion(context.Background(), []llm.Message{
		llm.SystemMessage("persona"),
		llm.UserMessage("first"),
		llm.SystemMessage("Relevant context:\nfacts"),
		llm.UserMessage("second"),
	})
	if err != nil {
		t.Fatalf("chat completion: %v", err)
	}
	if reply != "回答" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	system, _ := body["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("expected one system block, got %v", body["system"])
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("adjacent user messages should be merged, got %d", len(messages))
	}
}

func TestEmbeddingsUnsupported(t *testing.T) {
	provider, err := New(Config{APIKey: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := provider.Embeddings(context.Background(), []string{"x"}); !errors.Is(err, ErrEmbeddingsUnsupported) {
		t.Fatalf("expected ErrEmbeddingsUnsupported, got %v", err)
	}
}

func TestMergeTurnsDropsLeadingAssistant(t *testing.T) {
	turns := mergeTurns([]llm.Message{
		llm.AssistantMessage("orphan"),
		llm.UserMessage("q1"),
		llm.AssistantMessage("a1"),
		llm.AssistantMessage("a1 continued"),
		llm.UserMessage("q2"),
	})
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}
