package sessions

import (
	"github.com/jinzhu/copier"

	"github.com/lectern-ai/lectern-core/core/grounding"
	"github.com/lectern-ai/lectern-core/core/llms"
)

const (
	// MinTokensForExchange is the smallest remaining window considered
	// enough for another meaningful question and answer.
	MinTokensForExchange = 500

	// DefaultReservedResponseTokens is the slice of the window held back
	// for the model's next response.
	DefaultReservedResponseTokens = 1024

	// DefaultTemperature matches the providers' usual chat default.
	DefaultTemperature = 0.7
)

// LimitPolicy decides what happens when a session hits its conversation
// limit.
type LimitPolicy string

const (
	// LimitPolicyFail rejects further turns with a ConversationLimitError.
	LimitPolicyFail LimitPolicy = "fail"
	// LimitPolicyWarn logs a warning and lets the turn proceed; the
	// provider's own overflow error surfaces if the window truly runs out.
	LimitPolicyWarn LimitPolicy = "warn"
)

// Option configures a Session at creation.
type Option func(*Session)

// WithCapabilityRegistry replaces the builtin model catalog. The registry is
// consulted exactly once, inside New.
func WithCapabilityRegistry(registry *llms.Registry) Option {
	return func(s *Session) {
		s.registry = registry
	}
}

// WithReplayBackend wires the backend used by stateless-replay models.
func WithReplayBackend(backend llms.ReplayBackend) Option {
	return func(s *Session) {
		s.replayBackend = backend
	}
}

// WithHandleBackend wires the backend used by stateful models.
func WithHandleBackend(backend llms.HandleBackend) Option {
	return func(s *Session) {
		s.handleBackend = backend
	}
}

// WithSystemPrompt sets the base instructions sent ahead of every
// conversation.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) {
		s.systemPrompt = prompt
	}
}

// WithGroundingContext attaches the retrieved reference context the session
// answers from. The context is copied; later mutations by the caller do not
// reach the session.
func WithGroundingContext(groundingContext *grounding.Context) Option {
	return func(s *Session) {
		if groundingContext == nil {
			return
		}
		copied := grounding.Context{}
		copier.Copy(&copied, groundingContext)
		s.groundingContext = &copied
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(s *Session) {
		s.temperature = temperature
	}
}

// WithReservedResponseTokens overrides how much of the window is held back
// for the model's response.
func WithReservedResponseTokens(reserved int) Option {
	return func(s *Session) {
		s.reservedResponseTokens = reserved
	}
}

// WithLimitPolicy overrides how conversation limits are enforced.
func WithLimitPolicy(policy LimitPolicy) Option {
	return func(s *Session) {
		s.limitPolicy = policy
	}
}

// WithWindowPolicy overrides how the usable window evolves across turns for
// stateless-replay models. Stateful models always erode: their server-side
// context grows whatever the policy says.
func WithWindowPolicy(policy WindowPolicy) Option {
	return func(s *Session) {
		s.windowPolicy = policy
	}
}
