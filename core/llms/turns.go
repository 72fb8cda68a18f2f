// Package llms holds the types shared between the conversation session layer
// and the backend adapters: transcript turns, streaming chunks, usage
// accounting, and the per-model capability registry.
package llms

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the running transcript. One conversational exchange
// is a user turn followed by its assistant reply.
type Turn struct {
	ID      string
	Role    Role
	Content string
}
