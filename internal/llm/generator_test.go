package llm

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubClient struct {
	got  []Message
	resp *ChatResponse
	err  error
}

func (s *stubClient) Chat(_ context.Context, _ string, messages []Message) (*ChatResponse, error) {
	s.got = messages
	return s.resp, s.err
}

func (s *stubClient) Ping(context.Context) error { return nil }

func TestChatGenerator_MessageLayout(t *testing.T) {
	stub := &stubClient{resp: &ChatResponse{Message: Message{Content: "ok"}}}
	g := NewChatGenerator(stub, "test", "m")

	out, err := g.Generate(context.Background(), "now", []Turn{{User: "q1", Assistant: "a1"}}, "hdr")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}

	want := []Message{
		{Role: RoleSystem, Content: "hdr"},
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "now"},
	}
	if !reflect.DeepEqual(stub.got, want) {
		t.Errorf("messages = %+v, want %+v", stub.got, want)
	}
}

func TestChatGenerator_NoHeader(t *testing.T) {
	stub := &stubClient{resp: &ChatResponse{Message: Message{Content: "ok"}}}
	g := NewChatGenerator(stub, "test", "m")

	if _, err := g.Generate(context.Background(), "now", nil, ""); err != nil {
		t.Fatal(err)
	}
	if len(stub.got) != 1 || stub.got[0].Role != RoleUser {
		t.Errorf("messages = %+v", stub.got)
	}
}

func TestChatGenerator_Errors(t *testing.T) {
	backendErr := errors.New("connection refused")
	g := NewChatGenerator(&stubClient{err: backendErr}, "ollama", "m")
	if _, err := g.Generate(context.Background(), "x", nil, ""); !errors.Is(err, backendErr) {
		t.Errorf("err = %v, want wrapped backend error", err)
	}

	g = NewChatGenerator(&stubClient{resp: &ChatResponse{}}, "ollama", "m")
	if _, err := g.Generate(context.Background(), "x", nil, ""); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestChatGenerator_Usage(t *testing.T) {
	type key struct{}
	stub := &stubClient{resp: &ChatResponse{Message: Message{Content: "ok"}, InputTokens: 5, OutputTokens: 2}}
	g := NewChatGenerator(stub, "anthropic", "claude")

	var got Usage
	var sawValue bool
	g.OnUsage(func(ctx context.Context, u Usage) {
		got = u
		sawValue = ctx.Value(key{}) == "req"
	})

	ctx := context.WithValue(context.Background(), key{}, "req")
	if _, err := g.Generate(ctx, "x", nil, ""); err != nil {
		t.Fatal(err)
	}
	want := Usage{Provider: "anthropic", Model: "claude", InputTokens: 5, OutputTokens: 2}
	if got != want {
		t.Errorf("usage = %+v, want %+v", got, want)
	}
	if !sawValue {
		t.Error("usage hook did not receive the generation context")
	}
}

func TestSingletonProvider(t *testing.T) {
	g := NewChatGenerator(&stubClient{}, "p", "m")
	p := NewSingletonProvider(g)

	a, err := p.Generator()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.Generator()
	if a != b {
		t.Error("SingletonProvider returned different generators")
	}

	if _, err := NewSingletonProvider(nil).Generator(); err == nil {
		t.Error("nil generator should error")
	}
}
