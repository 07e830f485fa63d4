package prompts

import (
	"strings"
	"testing"
)

func TestGenerateCommandSystem(t *testing.T) {
	got := GenerateCommandSystem()
	if !strings.Contains(got, "posix shell") {
		t.Errorf("missing shell framing: %q", got)
	}
	// History is appended directly, so the header must end on a blank line.
	if !strings.HasSuffix(got, "\n\n") {
		t.Errorf("header should end with a blank line: %q", got)
	}
}

func TestMOTD(t *testing.T) {
	if got := MOTD(""); !strings.HasPrefix(got, "Welcome to llmsh!") {
		t.Errorf("default MOTD = %q", got)
	}
	if got := MOTD("custom"); got != "custom" {
		t.Errorf("override MOTD = %q", got)
	}
}
