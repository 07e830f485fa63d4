package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Host identifies which backend serves a model tag.
type Host string

// Supported hosts.
const (
	HostAnthropic Host = "anthr"
	HostOpenAI    Host = "openai"
	HostLocal     Host = "local"
)

// DefaultModelTag is used when no tag is configured or the configured tag
// cannot be parsed.
const DefaultModelTag = "local-llama-3"

// ErrUnsupportedTag is returned by [ParseModelTag] for tags that name no
// known host or carry no model.
var ErrUnsupportedTag = errors.New("unsupported model tag")

// modelAliases maps the short names accepted in tags to the model ids the
// backends expect. Names not listed pass through unchanged.
var modelAliases = map[Host]map[string]string{
	HostAnthropic: {"claude-3.5": "claude-3-5-sonnet-20240620"},
	HostOpenAI:    {"gpt-4o-mini": "gpt-4o-mini-2024-07-18"},
	HostLocal:     {"llama-3": "llama3"},
}

// ModelID is a parsed model tag.
type ModelID struct {
	Host Host
	// Name is the model as written in the tag.
	Name string
	// Model is the id sent to the backend.
	Model string
}

// String returns the tag form, host-name.
func (m ModelID) String() string {
	return string(m.Host) + "-" + m.Name
}

// Remote reports whether the model is served by a hosted API.
func (m ModelID) Remote() bool {
	return m.Host != HostLocal
}

// ParseModelTag splits a tag of the form host-model on the first hyphen,
// e.g. "anthr-claude-3.5" or "local-llama-3".
func ParseModelTag(tag string) (ModelID, error) {
	host, name, ok := strings.Cut(strings.TrimSpace(tag), "-")
	if !ok || name == "" {
		return ModelID{}, fmt.Errorf("%w: %q", ErrUnsupportedTag, tag)
	}

	aliases, known := modelAliases[Host(host)]
	if !known {
		return ModelID{}, fmt.Errorf("%w: unknown host %q", ErrUnsupportedTag, host)
	}

	model := name
	if alias, ok := aliases[name]; ok {
		model = alias
	}
	return ModelID{Host: Host(host), Name: name, Model: model}, nil
}
