package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/troupe/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		name    string
		msg     llm.Message
		check   func(t *testing.T, raw map[string]any)
		wantErr bool
	}{
		{
			name: "system",
			msg:  llm.Message{Role: llm.RoleSystem, Content: "be brief"},
			check: func(t *testing.T, raw map[string]any) {
				if raw["role"] != "system" || raw["content"] != "be brief" {
					t.Errorf("got %v", raw)
				}
			},
		},
		{
			name: "user with name",
			msg:  llm.Message{Role: llm.RoleUser, Content: "hi", Name: "Vex"},
			check: func(t *testing.T, raw map[string]any) {
				if raw["role"] != "user" || raw["name"] != "Vex" {
					t.Errorf("got %v", raw)
				}
			},
		},
		{
			name: "assistant",
			msg:  llm.Message{Role: llm.RoleAssistant, Content: "hello"},
			check: func(t *testing.T, raw map[string]any) {
				if raw["role"] != "assistant" || raw["content"] != "hello" {
					t.Errorf("got %v", raw)
				}
				if _, ok := raw["name"]; ok {
					t.Error("name must be omitted when empty")
				}
			},
		},
		{name: "unknown role", msg: llm.Message{Role: "tool"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertMessage(tt.msg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("convertMessage: %v", err)
			}
			data, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var raw map[string]any
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			tt.check(t, raw)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "gpt-4o-mini", WithOrganization("org"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Capabilities().MaxOutputTokens; got != 16_384 {
		t.Errorf("MaxOutputTokens = %d, want 16384", got)
	}
}

func TestComplete_AgainstFakeServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"logprobs": null,
				"message": {"role": "assistant", "content": "Vex: The door creaks open.", "refusal": null}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are Vex.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "GM: What do you do?"}},
		Temperature:  0.7,
		MaxTokens:    200,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Vex: The door creaks open." || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Errorf("TotalTokens = %d, want 19", resp.Usage.TotalTokens)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want system + user", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v, want the system prompt", first)
	}
	if body["model"] != "gpt-4o" || body["max_completion_tokens"] != float64(200) {
		t.Errorf("model/max tokens = %v/%v", body["model"], body["max_completion_tokens"])
	}
}

func TestComplete_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o", WithBaseURL(srv.URL))
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}); err == nil {
		t.Error("expected error for 400 response")
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty request")
	}
}
