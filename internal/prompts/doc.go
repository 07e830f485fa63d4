// Package prompts contains the prompt text hermitd sends to models and
// shows to shell users.
//
// Prompt text is Go code rather than config because it is program logic
// and can be validated by tests. Each prompt gets an exported function
// returning the finished string.
package prompts
