// Package events defines the typed event contract a conversation session
// emits while a turn streams.
//
// Event kinds are grouped by namespace:
//
//   - response.*
//   - turn.*
//
// Per-turn ordering contract:
//
//   - ResponseSegment (response.segment): zero or more incremental response
//     text deltas, in emission order.
//   - ResponseFinished (response.finished): at most one, the backend's stop
//     reason ("stop", "length", ...), used to detect truncation.
//   - TurnUsage (turn.usage): exactly one, carrying the normalized usage
//     report for the turn.
//   - TurnCommitted (turn.committed): exactly one, always last, signaling
//     the turn is fully committed to history.
//
// Failed turns yield an error through the stream instead of completing the
// sequence; no TurnUsage or TurnCommitted is emitted for them.
package events
