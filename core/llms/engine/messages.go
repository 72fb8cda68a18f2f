package engine

import (
	"github.com/lectern-ai/lectern-core/core/llms"
)

// Frame types exchanged with the engine process. Request-scoped frames echo
// the id of the request that triggered them, so concurrent sessions can
// share one socket.
const (
	msgSessionOpen   = "session.open"
	msgSessionOpened = "session.opened"
	msgSessionSend   = "session.send"
	msgSessionClose  = "session.close"
	msgSessionClosed = "session.closed"
	msgSessionUsage  = "session.usage"
	msgResponseDelta = "response.delta"
	msgResponseDone  = "response.done"
	msgEngineStatus  = "engine.status"
	msgError         = "error"
)

type envelope struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// session.open
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Context      string   `json:"context,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`

	// session.send
	Message string `json:"message,omitempty"`

	// response.delta and response.done
	Content      string  `json:"content,omitempty"`
	FinishReason *string `json:"finish_reason,omitempty"`

	// session.usage
	CumulativeTokens *int `json:"cumulative_tokens,omitempty"`

	// engine.status
	State    string   `json:"state,omitempty"`
	Fraction *float64 `json:"fraction,omitempty"`
	Detail   string   `json:"detail,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func openMsg(id string, seed llms.Seed) envelope {
	var temperature *float64
	if seed.Temperature != 0 {
		temperature = &seed.Temperature
	}
	return envelope{
		Type:         msgSessionOpen,
		ID:           id,
		Model:        seed.Model,
		SystemPrompt: seed.SystemPrompt,
		Context:      seed.ContextText,
		Temperature:  temperature,
	}
}

func sendMsg(id, sessionID, message string) envelope {
	return envelope{Type: msgSessionSend, ID: id, SessionID: sessionID, Message: message}
}

func usageMsg(id, sessionID string) envelope {
	return envelope{Type: msgSessionUsage, ID: id, SessionID: sessionID}
}

func closeMsg(id, sessionID string) envelope {
	return envelope{Type: msgSessionClose, ID: id, SessionID: sessionID}
}
