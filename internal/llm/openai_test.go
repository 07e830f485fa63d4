package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIChat(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{
			"id": "chatcmpl-1", "model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "pwd"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 1}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", nil)
	c.baseURL = srv.URL

	resp, err := c.Chat(context.Background(), "gpt-4o-mini-2024-07-18", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "where am i"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// System stays inline for OpenAI.
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Errorf("request messages = %+v", got.Messages)
	}
	if got.MaxTokens != DefaultMaxTokens {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
	if resp.Message.Content != "pwd" || resp.InputTokens != 20 || resp.OutputTokens != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", nil)
	c.baseURL = srv.URL

	if _, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIPing_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient("bad", nil)
	c.baseURL = srv.URL

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
