package llms

import "context"

// ReplayBackend is the stateless-replay call shape: every completion carries
// the full transcript and the backend keeps nothing between calls.
type ReplayBackend interface {
	Complete(ctx context.Context, turns []Turn, opts ...CompletionOption) Stream
}

// HandleBackend is the stateful-session call shape: the runtime keeps
// conversation state behind a handle and callers send only the new message.
type HandleBackend interface {
	OpenHandle(ctx context.Context, seed Seed) (Handle, error)
}

// Seed is the initial state a stateful handle is created with.
type Seed struct {
	Model        string
	SystemPrompt string
	ContextText  string
	Temperature  float64
}

// Handle is one runtime-side conversation. Closing it releases the runtime
// state; a closed handle rejects further sends.
type Handle interface {
	Send(ctx context.Context, message string) Stream
	// CumulativeTokens reads the runtime's running token counter for this
	// handle. Callers derive per-turn figures by differencing their own
	// last known value, never by subtracting around a single call.
	CumulativeTokens(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

type CompletionOptions struct {
	Model       string
	Temperature *float64
}

type CompletionOption func(*CompletionOptions)

// WithModel overrides the backend's default model for one call.
func WithModel(model string) CompletionOption {
	return func(o *CompletionOptions) { o.Model = model }
}

// WithTemperature sets the sampling temperature for one call.
func WithTemperature(temperature float64) CompletionOption {
	return func(o *CompletionOptions) { o.Temperature = &temperature }
}
