package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/hermitd/internal/llm"
	"github.com/nugget/hermitd/internal/prompts"
	"github.com/nugget/hermitd/internal/protocol"
)

type call struct {
	message string
	history []llm.Turn
	header  string
}

// fakeGenerator records every call and answers with reply.
type fakeGenerator struct {
	mu    sync.Mutex
	calls []call
	reply string
	err   error
	delay time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, message string, history []llm.Turn, header string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{message, append([]llm.Turn(nil), history...), header})
	return f.reply, f.err
}

func (f *fakeGenerator) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestGenerateCommand_Header(t *testing.T) {
	gen := &fakeGenerator{reply: "Run this:\n```sh\nls -la\n```\n"}
	s := newSession(0, "max", gen, Options{})

	s.SaveContext(protocol.KindInput, "cd /tmp")
	s.SaveContext(protocol.KindOutput, "")

	reply, err := s.GenerateCommand(context.Background(), "list everything")
	if err != nil {
		t.Fatalf("GenerateCommand: %v", err)
	}

	c := gen.last()
	if c.message != "list everything" {
		t.Errorf("message = %q", c.message)
	}
	if !strings.HasPrefix(c.header, prompts.GenerateCommandSystem()) {
		t.Errorf("header missing system preamble:\n%s", c.header)
	}
	if !strings.Contains(c.header, `User Input: \"cd /tmp\"`) {
		t.Errorf("header missing shell history:\n%s", c.header)
	}
	if len(c.history) != 0 {
		t.Errorf("history = %v, want none by default", c.history)
	}

	if reply.Text != gen.reply {
		t.Errorf("Text = %q", reply.Text)
	}
	if len(reply.Commands) != 1 || reply.Commands[0] != "ls -la" {
		t.Errorf("Commands = %q", reply.Commands)
	}
}

func TestGenerateCommand_EmptyHistoryHeader(t *testing.T) {
	gen := &fakeGenerator{reply: "pwd"}
	s := newSession(0, "max", gen, Options{})

	if _, err := s.GenerateCommand(context.Background(), "where"); err != nil {
		t.Fatal(err)
	}
	if got := gen.last().header; got != prompts.GenerateCommandSystem() {
		t.Errorf("header with no history = %q, want bare preamble", got)
	}
}

func TestGenerateCommand_PropagatesError(t *testing.T) {
	backendErr := errors.New("backend exploded")
	s := newSession(0, "max", &fakeGenerator{err: backendErr}, Options{})

	_, err := s.GenerateCommand(context.Background(), "x")
	if !errors.Is(err, backendErr) {
		t.Errorf("err = %v, want backend error", err)
	}
}

func TestGenerateCommand_HistoryTurns(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	s := newSession(0, "max", gen, Options{HistoryTurns: 2})

	for _, p := range []string{"one", "two", "three"} {
		if _, err := s.GenerateCommand(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}

	h := gen.last().history
	if len(h) != 2 || h[0].User != "one" || h[1].User != "two" {
		t.Errorf("replayed history = %+v, want turns one and two", h)
	}

	if _, err := s.GenerateCommand(context.Background(), "four"); err != nil {
		t.Fatal(err)
	}
	h = gen.last().history
	if len(h) != 2 || h[0].User != "two" || h[1].User != "three" {
		t.Errorf("history not capped: %+v", h)
	}
}

func TestGenerateCommand_FailedTurnNotRemembered(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("nope")}
	s := newSession(0, "max", gen, Options{HistoryTurns: 4})

	_, _ = s.GenerateCommand(context.Background(), "lost")
	gen.err = nil
	gen.reply = "ok"
	if _, err := s.GenerateCommand(context.Background(), "kept"); err != nil {
		t.Fatal(err)
	}
	if h := gen.last().history; len(h) != 0 {
		t.Errorf("history = %+v, want failed turn dropped", h)
	}
}

func TestSession_SaveDuringGenerateWaits(t *testing.T) {
	gen := &fakeGenerator{reply: "ok", delay: 50 * time.Millisecond}
	s := newSession(0, "max", gen, Options{})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = s.GenerateCommand(context.Background(), "slow")
		close(done)
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	s.SaveContext(protocol.KindOutput, "late")
	select {
	case <-done:
	default:
		t.Error("SaveContext returned while generation still held the session")
	}
}
