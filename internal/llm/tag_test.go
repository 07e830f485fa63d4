package llm

import (
	"errors"
	"testing"
)

func TestParseModelTag(t *testing.T) {
	tests := []struct {
		tag       string
		wantHost  Host
		wantModel string
		wantErr   bool
	}{
		{"anthr-claude-3.5", HostAnthropic, "claude-3-5-sonnet-20240620", false},
		{"openai-gpt-4o-mini", HostOpenAI, "gpt-4o-mini-2024-07-18", false},
		{"local-llama-3", HostLocal, "llama3", false},
		{"local-mistral", HostLocal, "mistral", false},
		{"anthr-claude-3-opus-20240229", HostAnthropic, "claude-3-opus-20240229", false},
		{"gemini-pro", "", "", true},
		{"local", "", "", true},
		{"local-", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			id, err := ParseModelTag(tt.tag)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedTag) {
					t.Errorf("ParseModelTag(%q) error = %v, want ErrUnsupportedTag", tt.tag, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseModelTag(%q): %v", tt.tag, err)
			}
			if id.Host != tt.wantHost || id.Model != tt.wantModel {
				t.Errorf("ParseModelTag(%q) = %+v", tt.tag, id)
			}
			if id.String() != tt.tag {
				t.Errorf("String() = %q, want %q", id.String(), tt.tag)
			}
		})
	}
}

func TestNewBackend(t *testing.T) {
	anthr, _ := ParseModelTag("anthr-claude-3.5")
	openai, _ := ParseModelTag("openai-gpt-4o-mini")
	local, _ := ParseModelTag(DefaultModelTag)

	if _, err := NewBackend(anthr, BackendConfig{}, nil); err == nil {
		t.Error("anthropic without key should fail")
	}
	if _, err := NewBackend(openai, BackendConfig{}, nil); err == nil {
		t.Error("openai without key should fail")
	}

	c, err := NewBackend(anthr, BackendConfig{AnthropicAPIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if _, ok := c.(*AnthropicClient); !ok {
		t.Errorf("got %T, want *AnthropicClient", c)
	}

	c, err = NewBackend(local, BackendConfig{OllamaURL: "http://ollama:11434"}, nil)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if oc, ok := c.(*OllamaClient); !ok || oc.baseURL != "http://ollama:11434" {
		t.Errorf("got %T %+v", c, c)
	}
}
