package llms

// UsageReport is the per-turn usage snapshot handed back to callers. The
// meaning of Used and Available differs by provider family: stateless-replay
// backends report turn-local figures against a window treated as refreshed
// each call, stateful backends report a conventional cumulative accounting.
type UsageReport struct {
	Used       int
	Available  int
	Limit      int
	TurnNumber int

	// TurnInputTokens and TurnOutputTokens are this turn's figures as
	// reported by the backend (or estimated, when the backend does not
	// track tokens). Stateful backends report only a per-turn total, so
	// for them the input/output split stays zero.
	TurnInputTokens  int
	TurnOutputTokens int
	TurnTotalTokens  int
	// CumulativeTokens is the running total across the session.
	CumulativeTokens int

	// EstimatedFullContextTokens is a locally estimated size of the full
	// resent context. Informational only: for the stateless-replay family
	// it is not the constraint the backend actually enforces.
	EstimatedFullContextTokens int

	Breakdown TokenBreakdown
}

// TokenBreakdown splits the prompt-side estimate for developer-facing
// display.
type TokenBreakdown struct {
	BasePromptTokens int
	ContextTokens    int
	QueryTokens      int
}
