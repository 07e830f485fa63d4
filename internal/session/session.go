// Package session owns hermitd's live shell sessions: a fixed-capacity
// table of sessions keyed by small integer ids, and the per-session state
// each one carries between requests.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/hermitd/internal/codeblock"
	"github.com/nugget/hermitd/internal/llm"
	"github.com/nugget/hermitd/internal/prompts"
	"github.com/nugget/hermitd/internal/protocol"
	"github.com/nugget/hermitd/internal/shellctx"
)

// Options configures every session a [Manager] creates.
type Options struct {
	// MaxChunkLength caps each session's undecided buffer, in bytes.
	MaxChunkLength int
	// MaxHistory caps the closed dialogue units each session retains.
	MaxHistory int
	// Window is how many recent dialogue units are rendered into the
	// generation header.
	Window int
	// HistoryTurns is how many prior prompt/response pairs are replayed to
	// the model. Zero sends each prompt without conversation history.
	HistoryTurns int
}

// Reply is the outcome of one generation.
type Reply struct {
	// Text is the full model response.
	Text string
	// Commands holds the fenced code blocks found in Text, in order.
	Commands []string
}

// Session is one connected shell. Its methods are safe for concurrent use;
// generation and context saves on the same session never overlap.
type Session struct {
	ID      int
	User    string
	Created time.Time

	gen          llm.Generator
	window       int
	historyTurns int

	mu    sync.Mutex
	acc   *shellctx.Accumulator
	turns []llm.Turn
}

func newSession(id int, user string, gen llm.Generator, opts Options) *Session {
	window := opts.Window
	if window == 0 {
		window = shellctx.DefaultWindow
	}
	return &Session{
		ID:           id,
		User:         user,
		Created:      time.Now(),
		gen:          gen,
		window:       window,
		historyTurns: opts.HistoryTurns,
		acc: shellctx.New(shellctx.Options{
			MaxChunkLength: opts.MaxChunkLength,
			MaxHistory:     opts.MaxHistory,
		}),
	}
}

// GenerateCommand asks the generator for a command satisfying prompt,
// with the session's recent shell history as context. The session lock is
// held for the whole call. Generator errors are returned unchanged.
func (s *Session) GenerateCommand(ctx context.Context, prompt string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header := prompts.GenerateCommandSystem() + s.acc.RenderPrompt(s.window)

	text, err := s.gen.Generate(ctx, prompt, s.turns, header)
	if err != nil {
		return nil, err
	}

	if s.historyTurns > 0 {
		s.turns = append(s.turns, llm.Turn{User: prompt, Assistant: text})
		if over := len(s.turns) - s.historyTurns; over > 0 {
			s.turns = append([]llm.Turn(nil), s.turns[over:]...)
		}
	}

	return &Reply{Text: text, Commands: codeblock.Extract(text)}, nil
}

// SaveContext folds one captured shell event into the session history.
func (s *Session) SaveContext(kind protocol.ShellEventKind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acc.Record(kind, text)
}

// Units returns a snapshot of the session's dialogue history.
func (s *Session) Units() []shellctx.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Units()
}
