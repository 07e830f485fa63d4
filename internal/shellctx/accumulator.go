// Package shellctx accumulates one shell session's interaction history
// and renders it into a bounded prompt context for the model.
//
// Events arrive from llmsh as they are captured. Streaming output comes
// in arbitrarily sized partial chunks that are staged in an "undecided"
// buffer until a terminal event (Input, InputAborted or Output) arrives
// and tells us what they were. The buffer is capped at a fixed number of
// bytes; once a chunk would push it past the cap, the fitting prefix is
// kept, a single [TruncationMarker] is appended and everything else
// until the next terminal event is dropped.
//
// An Output event closes the current dialogue unit. Rendering looks only
// at the most recent units.
package shellctx

import (
	"fmt"
	"strings"

	"github.com/nugget/hermitd/internal/protocol"
)

// Defaults applied when [Options] fields are zero.
const (
	DefaultMaxChunkLength = 4096
	DefaultMaxHistory     = 64
	DefaultWindow         = 3
)

// TruncationMarker is appended once to the undecided buffer when partial
// chunks exceed the byte budget. It is not counted toward the budget.
const TruncationMarker = "<...truncated...>"

// preamble introduces the rendered history to the model.
const preamble = `For context, here is some of the user's shell usage history. The user's inputs to the shell come after
"User Input:", and the shell's output in response to user input comes after "Shell Output:". Sometimes
the user aborts their shell prompt using control C; that likely means the aborted command is
relevant to their intentions but is not exactly what they want. Here is the user's shell history:`

// lineTemplates render one event per line. Header and partial events
// never reach a dialogue unit, so they have no template.
var lineTemplates = map[protocol.ShellEventKind]string{
	protocol.KindInput:        `User Input: \"%s\"`,
	protocol.KindInputAborted: `User Aborted Input: \"%s\"`,
	protocol.KindOutput:       `Shell Output: \"%s\"`,
}

// Event is one classified piece of shell I/O.
type Event struct {
	Kind protocol.ShellEventKind
	Text string
}

// Unit is one dialogue turn: zero or more inputs followed by the output
// that closed it. The open unit may lack the output.
type Unit []Event

// Options configures an [Accumulator].
type Options struct {
	// MaxChunkLength caps the undecided buffer, in bytes.
	MaxChunkLength int
	// MaxHistory caps the number of closed units retained. Units beyond
	// the cap are dropped oldest first.
	MaxHistory int
}

// Accumulator holds one session's shell history. It is not safe for
// concurrent use; the owning session serializes access.
type Accumulator struct {
	maxChunk   int
	maxHistory int

	history []Unit
	open    Unit

	// Undecided buffer. pendingLen counts the bytes of pending that came
	// from chunks, excluding the marker.
	pending    []string
	pendingLen int
	truncated  bool
}

// New creates an empty Accumulator.
func New(opts Options) *Accumulator {
	if opts.MaxChunkLength <= 0 {
		opts.MaxChunkLength = DefaultMaxChunkLength
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	return &Accumulator{
		maxChunk:   opts.MaxChunkLength,
		maxHistory: opts.MaxHistory,
	}
}

// Record folds one event into the history. Kinds outside the protocol
// enumeration are ignored.
func (a *Accumulator) Record(kind protocol.ShellEventKind, text string) {
	switch kind {
	case protocol.KindHeader:
		a.resetPending()
	case protocol.KindPartial:
		a.stage(text)
	case protocol.KindInput, protocol.KindInputAborted, protocol.KindOutput:
		a.pending = append(a.pending, text)
		a.open = append(a.open, Event{Kind: kind, Text: strings.Join(a.pending, "")})
		a.resetPending()
		if kind == protocol.KindOutput {
			a.closeUnit()
		}
	}
}

// stage appends a partial chunk to the undecided buffer within budget.
func (a *Accumulator) stage(chunk string) {
	if a.truncated {
		return
	}

	room := a.maxChunk - a.pendingLen
	if len(chunk) <= room {
		a.pending = append(a.pending, chunk)
		a.pendingLen += len(chunk)
		return
	}

	// Byte-exact cut; a multi-byte rune may be split.
	if room > 0 {
		a.pending = append(a.pending, chunk[:room])
		a.pendingLen += room
	}
	a.pending = append(a.pending, TruncationMarker)
	a.truncated = true
}

func (a *Accumulator) resetPending() {
	a.pending = nil
	a.pendingLen = 0
	a.truncated = false
}

func (a *Accumulator) closeUnit() {
	a.history = append(a.history, a.open)
	a.open = nil
	if over := len(a.history) - a.maxHistory; over > 0 {
		a.history = append([]Unit(nil), a.history[over:]...)
	}
}

// candidates returns history plus the open unit when it has events.
func (a *Accumulator) candidates() []Unit {
	if len(a.open) == 0 {
		return a.history
	}
	units := make([]Unit, 0, len(a.history)+1)
	units = append(units, a.history...)
	return append(units, a.open)
}

// RenderPrompt formats the last window units as prompt context. It
// returns "" when there is nothing to show (including window <= 0), so
// callers can append the result unconditionally.
func (a *Accumulator) RenderPrompt(window int) string {
	if window <= 0 {
		return ""
	}
	units := a.candidates()
	if len(units) > window {
		units = units[len(units)-window:]
	}
	if len(units) == 0 {
		return ""
	}

	var lines []string
	for _, u := range units {
		for _, ev := range u {
			lines = append(lines, fmt.Sprintf(lineTemplates[ev.Kind], ev.Text))
		}
	}
	return preamble + "\n" + strings.Join(lines, "\n")
}

// Units returns a copy of the closed history followed by the open unit,
// if it has events.
func (a *Accumulator) Units() []Unit {
	src := a.candidates()
	out := make([]Unit, len(src))
	for i, u := range src {
		out[i] = append(Unit(nil), u...)
	}
	return out
}

// Pending returns the counted byte length of the undecided buffer.
func (a *Accumulator) Pending() int {
	return a.pendingLen
}
