package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateMessage(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		var req MessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model == "" || len(req.Messages) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(MessagesResponse{
			Content: []ContentBlock{
				{Type: BlockText, Text: "hi"},
				{Type: BlockToolUse, ID: "tu_1", Name: "Bash", Input: map[string]any{"command": "ls"}},
			},
			StopReason: StopToolUse,
			Usage:      Usage{InputTokens: 12, OutputTokens: 34},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	resp, err := c.CreateMessage(context.Background(), MessagesRequest{
		Model:     "claude-test",
		MaxTokens: 128,
		Messages:  []Message{{Role: "user", Content: []ContentBlock{{Type: BlockText, Text: "hello"}}}},
	})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("stop reason: got %s", resp.StopReason)
	}
	if len(resp.Content) != 2 || resp.Content[1].Name != "Bash" {
		t.Errorf("content: got %+v", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 34 {
		t.Errorf("usage: got %+v", resp.Usage)
	}
}

func TestCreateMessage_apiError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	_, err := c.CreateMessage(context.Background(), MessagesRequest{Model: "m", MaxTokens: 1})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestCreateMessage_missingKey(t *testing.T) {
	t.Parallel()
	c := NewClient("", "")
	if _, err := c.CreateMessage(context.Background(), MessagesRequest{}); err == nil {
		t.Fatal("expected error when api key missing")
	}
}
