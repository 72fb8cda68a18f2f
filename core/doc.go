// Package sessions holds the conversation state machine that sits between a
// chat surface and the model providers.
//
// A Session is created for one provider/model pair, carries an optional
// system prompt and grounding context, and then moves through turns: each
// SendMessage streams typed events (response segments, a finish reason, a
// usage report, a commit marker) while the session keeps history and token
// accounting consistent.
//
// Provider differences are absorbed here. Stateless-replay models get the
// full transcript resent every turn; stateful models are seeded once through
// a session handle and receive only the new message afterwards;
// single-exchange models refuse follow-ups. Callers observe one uniform
// surface regardless of which family serves them.
package sessions
