package protocol

import (
	"encoding/json"
	"fmt"
)

// ShellEventKind classifies a piece of captured shell I/O.
type ShellEventKind string

const (
	// KindPartial is an unterminated streaming chunk. It is never sent on
	// the wire; an absent context_type decodes to it.
	KindPartial ShellEventKind = ""
	// KindHeader cancels any in-flight partial capture.
	KindHeader ShellEventKind = "Header"
	// KindInput is a command the user typed and executed.
	KindInput ShellEventKind = "Input"
	// KindInputAborted is a command the user cancelled (Ctrl-C).
	KindInputAborted ShellEventKind = "InputAborted"
	// KindOutput is shell output; it ends a dialogue unit.
	KindOutput ShellEventKind = "Output"
)

// Valid reports whether k is one of the four wire kinds.
func (k ShellEventKind) Valid() bool {
	switch k {
	case KindHeader, KindInput, KindInputAborted, KindOutput:
		return true
	}
	return false
}

// String returns the wire name, or "partial" for [KindPartial].
func (k ShellEventKind) String() string {
	if k == KindPartial {
		return "partial"
	}
	return string(k)
}

// UnmarshalJSON rejects strings outside the closed enumeration.
func (k *ShellEventKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("context_type: %w", err)
	}
	kind := ShellEventKind(s)
	if !kind.Valid() {
		return fmt.Errorf("context_type: unknown kind %q", s)
	}
	*k = kind
	return nil
}
