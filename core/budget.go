package sessions

import (
	"github.com/lectern-ai/lectern-core/core/llms"
	"github.com/lectern-ai/lectern-core/core/tokens"
)

// WindowPolicy names how the usable context window evolves across turns for
// stateless-replay models.
type WindowPolicy string

const (
	// RefreshedWindow treats the full window as usable every turn. Replay
	// providers re-read the transcript on each call, and measured prefix
	// caching means re-read history does not erode the window the way a
	// server-side session would.
	RefreshedWindow WindowPolicy = "refreshed-window"

	// ErodingWindow subtracts cumulative usage from the window, the
	// conservative accounting for deployments without prefix caching.
	ErodingWindow WindowPolicy = "eroding-window"
)

// turnNumber is derived from the working history length while the user turn
// is staged: turn N spans history entries 2N-1 and 2N.
func turnNumber(historyLen int) int {
	return (historyLen + 1) / 2
}

func (s *Session) canContinueLocked() bool {
	switch s.capabilities.Family {
	case llms.FamilyStatelessReplay:
		if s.windowPolicy == RefreshedWindow {
			return true
		}
		return s.lastReport.Available > MinTokensForExchange
	case llms.FamilyStatefulSession:
		return s.lastReport.Available > MinTokensForExchange
	}
	return false
}

// breakdown estimates the prompt-side composition for display. The
// grounding context keeps the estimate it was built with; prompt and query
// are plain text and estimated without markup overhead.
func (s *Session) breakdown(queryTokens int) llms.TokenBreakdown {
	b := llms.TokenBreakdown{
		BasePromptTokens: tokens.Estimate(s.systemPrompt),
		QueryTokens:      queryTokens,
	}
	if s.groundingContext != nil {
		b.ContextTokens = s.groundingContext.TokenEstimate
	}
	return b
}

// recordUsage folds a finished turn into the session's token accounting and
// returns the report for the turn's usage event. Called while the user turn
// is still staged, so the turn number comes out odd-length ceil'd.
func (s *Session) recordUsage(result *turnResult, queryTokens int) llms.UsageReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	breakdown := s.breakdown(queryTokens)
	report := llms.UsageReport{
		Limit:      s.capabilities.MaxContextTokens,
		TurnNumber: turnNumber(s.transcript.workingLen()),
		Breakdown:  breakdown,
	}

	switch s.capabilities.Family {
	case llms.FamilyStatelessReplay:
		var turnInput, turnOutput, turnTotal int
		if result.usage != nil {
			turnInput = result.usage.InputTokens
			turnOutput = result.usage.OutputTokens
			turnTotal = result.usage.TotalTokens
			if turnTotal == 0 {
				turnTotal = turnInput + turnOutput
			}
		} else {
			// No usage frame from the provider; fall back to estimates.
			turnInput = breakdown.BasePromptTokens + breakdown.ContextTokens +
				s.historyEstimateLocked()
			turnOutput = tokens.Estimate(result.content)
			turnTotal = turnInput + turnOutput
		}
		s.cumulative += turnTotal

		report.TurnInputTokens = turnInput
		report.TurnOutputTokens = turnOutput
		report.TurnTotalTokens = turnTotal
		report.CumulativeTokens = s.cumulative

		if s.windowPolicy == ErodingWindow {
			report.Used = s.cumulative
			report.Available = max(0, report.Limit-s.reservedResponseTokens-s.cumulative)
		} else {
			report.Used = turnTotal
			report.Available = max(0, report.Limit-s.reservedResponseTokens)
		}

	case llms.FamilyStatefulSession:
		var cumulative int
		if result.trackedCumulative {
			cumulative = result.cumulative
		} else {
			// The model cannot report usage; advance a local estimate.
			turnEstimate := queryTokens + tokens.Estimate(result.content)
			if s.cumulative == 0 {
				turnEstimate += breakdown.BasePromptTokens + breakdown.ContextTokens
			}
			cumulative = s.cumulative + turnEstimate
		}

		// Per-turn consumption is the cumulative delta, never an in-call
		// before/after subtraction: the engine's count may include seed
		// work that a paired read would misattribute.
		turnTotal := max(0, cumulative-s.lastKnownCumulative)
		s.lastKnownCumulative = cumulative
		s.cumulative = cumulative

		report.TurnTotalTokens = turnTotal
		report.CumulativeTokens = cumulative
		report.Used = cumulative
		report.Available = max(0, report.Limit-s.reservedResponseTokens-cumulative)
	}

	report.EstimatedFullContextTokens = breakdown.BasePromptTokens +
		breakdown.ContextTokens + s.historyEstimateLocked() +
		tokens.Estimate(result.content)

	s.lastReport = report
	return report
}

// historyEstimateLocked sums plain estimates over the working history,
// staged turn included.
func (s *Session) historyEstimateLocked() int {
	total := 0
	for _, turn := range s.transcript.snapshot() {
		total += tokens.Estimate(turn.Content)
	}
	return total
}
