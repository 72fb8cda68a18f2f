package llms

import "context"

// Stream is one streaming completion in flight. Chunks yields chunks in
// emission order and stops early if the consumer returns false.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

type StreamChunk interface {
	FinishReason() *string
}

type StreamContentChunk interface {
	StreamChunk
	Content() string
}

type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage carries one call's token accounting as reported by the backend.
type Usage struct {
	// InputTokens represents the number of input tokens.
	InputTokens int
	// InputTokensDetails represents a detailed breakdown of the input tokens.
	InputTokensDetails *InputTokensDetails
	// OutputTokens represents the number of output tokens.
	OutputTokens int
	// TotalTokens represents the total number of tokens used.
	TotalTokens int
}

// InputTokensDetails represents a detailed breakdown of the input tokens.
type InputTokensDetails struct {
	// CachedTokens represents the number of input tokens served from the
	// backend's prefix cache rather than reprocessed.
	CachedTokens int
}
