package events

import "github.com/lectern-ai/lectern-core/core/llms"

const (
	// KindTurnUsage identifies the turn's normalized token usage report.
	KindTurnUsage Kind = "turn.usage"
	// KindTurnCommitted identifies the terminal event of a turn.
	KindTurnCommitted Kind = "turn.committed"
)

// TurnUsage carries the turn's usage report: this-turn figures, cumulative
// figures where meaningful, and the prompt-side breakdown for display.
// Exactly one per successful turn.
type TurnUsage struct {
	Base
	Report llms.UsageReport
}

// NewTurnUsage creates a turn usage event.
func NewTurnUsage(report llms.UsageReport) TurnUsage {
	return TurnUsage{Base: NewBase(KindTurnUsage), Report: report}
}

// TurnCommitted signals that the turn is fully committed to history. Exactly
// one per successful turn, always last.
type TurnCommitted struct{ Base }

// NewTurnCommitted creates a turn committed event.
func NewTurnCommitted() TurnCommitted {
	return TurnCommitted{Base: NewBase(KindTurnCommitted)}
}
