package prompts

// commandSystemTemplate opens every generation header. The rendered shell
// history, when there is any, is appended directly after it.
const commandSystemTemplate = `You are an assistant for our user using a posix shell.
Your job is to generate a shell command satisfying the USER's prompt.
When you give a command, put it in a fenced code block so it can be copied.

`

// GenerateCommandSystem returns the instruction that precedes the shell
// history in a generation header.
func GenerateCommandSystem() string {
	return commandSystemTemplate
}

// defaultMOTD is greeted to every new llmsh session unless overridden in
// config.
const defaultMOTD = `Welcome to llmsh! I am the llm-powered hermit living in your shell, here to assist you.
llmsh is simply a wrapper around your favorite shell specified in $SHELL, and is intended to work just like your shell.
If you want to ask for my help, type ` + "`:`" + ` as the first character on the prompt line.
`

// MOTD returns the greeting sent in SetupSuccess. A non-empty override
// replaces the default.
func MOTD(override string) string {
	if override != "" {
		return override
	}
	return defaultMOTD
}
