package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern-core/core/grounding"
	"github.com/lectern-ai/lectern-core/core/llms"
)

// releaseTimeout bounds how long a destroyed session waits for the engine
// to acknowledge the handle release.
const releaseTimeout = 5 * time.Second

// Session is one conversation against one provider/model pair. Sessions are
// safe for concurrent use, but only one turn may stream at a time; a second
// SendMessage while one is in flight is rejected with ErrTurnInFlight.
type Session struct {
	id           string
	provider     string
	model        string
	capabilities llms.Capabilities

	// registry is only consulted inside New; capability changes made to it
	// afterwards never reach a live session.
	registry *llms.Registry

	replayBackend llms.ReplayBackend
	handleBackend llms.HandleBackend

	systemPrompt     string
	groundingContext *grounding.Context
	temperature      float64

	reservedResponseTokens int
	limitPolicy            LimitPolicy
	windowPolicy           WindowPolicy

	transcript transcript

	mu                  sync.Mutex
	destroyed           bool
	turnInFlight        bool
	handle              llms.Handle
	exchanges           int
	cumulative          int
	lastKnownCumulative int
	lastReport          llms.UsageReport
}

// New creates a session for the given provider/model pair. The capability
// registry is consulted here, once; a model it does not know is an error,
// as is a known model without a backend wired for its family.
func New(provider, model string, opts ...Option) (*Session, error) {
	s := &Session{
		id:                     uuid.NewString(),
		provider:               provider,
		model:                  model,
		temperature:            DefaultTemperature,
		reservedResponseTokens: DefaultReservedResponseTokens,
		limitPolicy:            LimitPolicyFail,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = llms.NewRegistry()
	}

	capabilities, err := s.registry.CapabilitiesFor(provider, model)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model capabilities: %w", err)
	}
	s.capabilities = capabilities

	switch capabilities.Family {
	case llms.FamilyStatelessReplay:
		if s.replayBackend == nil {
			return nil, fmt.Errorf("model %s/%s needs a replay backend", provider, model)
		}
		if s.windowPolicy == "" {
			s.windowPolicy = RefreshedWindow
		}
	case llms.FamilyStatefulSession:
		if s.handleBackend == nil {
			return nil, fmt.Errorf("model %s/%s needs a handle backend", provider, model)
		}
		s.windowPolicy = ErodingWindow
	default:
		return nil, fmt.Errorf("unsupported model family %q for %s/%s", capabilities.Family, provider, model)
	}

	s.lastReport = llms.UsageReport{
		Limit:     capabilities.MaxContextTokens,
		Available: max(0, capabilities.MaxContextTokens-s.reservedResponseTokens),
		Breakdown: s.breakdown(0),
	}

	return s, nil
}

// ID returns the session's identifier, for logging and UI correlation.
func (s *Session) ID() string {
	return s.id
}

// Capabilities returns the capability record the session was created with.
func (s *Session) Capabilities() llms.Capabilities {
	return s.capabilities
}

// History returns a copy of the committed history. Staged turns of an
// in-flight exchange are not visible.
func (s *Session) History() []llms.Turn {
	return s.transcript.committedTurns()
}

// TokenUsage returns the usage snapshot from the most recent turn, or the
// session's starting snapshot before any turn ran.
func (s *Session) TokenUsage() llms.UsageReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// CanContinue reports whether the session can accept another exchange.
func (s *Session) CanContinue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return false
	}
	if !s.capabilities.SupportsMultiTurn && s.exchanges >= 1 {
		return false
	}
	return s.canContinueLocked()
}

// Destroy ends the session: the engine handle, if any, is released and any
// later SendMessage fails with ErrSessionDestroyed. History and the last
// usage report stay readable. A turn already streaming is not interrupted;
// its handle is released once it finishes. Destroying twice is a no-op.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.turnInFlight {
		// endTurn releases the handle once the stream completes.
		s.mu.Unlock()
		return
	}
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()

	s.releaseHandle(handle)
}

// ensureHandle returns the session's engine handle, opening and seeding one
// on the first stateful turn. Handles for single-exchange models are not
// persisted; the caller releases them after the exchange.
func (s *Session) ensureHandle(ctx context.Context) (llms.Handle, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle != nil {
		return handle, nil
	}

	seed := llms.Seed{
		Model:        s.model,
		SystemPrompt: s.systemPrompt,
		Temperature:  s.temperature,
	}
	if s.groundingContext != nil {
		seed.ContextText = s.groundingContext.Text
	}

	handle, err := s.handleBackend.OpenHandle(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to open model session: %w", err)
	}

	if s.capabilities.SupportsMultiTurn {
		s.mu.Lock()
		s.handle = handle
		s.mu.Unlock()
	}
	return handle, nil
}

func (s *Session) releaseHandle(handle llms.Handle) {
	if handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := handle.Close(ctx); err != nil {
		logger.Warn("failed to release model session handle",
			"session_id", s.id, "error", err)
	}
}
