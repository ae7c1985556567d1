package harvest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q, want bearer token", auth)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("messages = %+v, want system then user", req.Messages)
		}
		if req.Temperature != 1.1 || req.MaxTokens != 60 {
			t.Errorf("sampling = {%f, %d}, want defaults {1.1, 60}", req.Temperature, req.MaxTokens)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "  The feed never sleeps.  "}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
	got, err := c.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if got != "The feed never sleeps." {
		t.Errorf("Complete() = %q, want trimmed content", got)
	}
}

func TestClientCompleteHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("Complete() succeeded, want status error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q does not mention the status code", err)
	}
}

func TestClientCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model not found"},
		})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %v, want the endpoint's message", err)
	}
}

func TestClientCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("Complete() succeeded, want empty-choices error")
	}
}
