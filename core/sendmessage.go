package sessions

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lectern-ai/lectern-core/core/events"
	"github.com/lectern-ai/lectern-core/core/llms"
	"github.com/lectern-ai/lectern-core/core/tokens"
)

// errConsumerGone marks a turn whose consumer stopped iterating mid-stream.
var errConsumerGone = errors.New("consumer stopped consuming")

// turnResult is what a family-specific turn runner hands back once the
// backend stream has completed.
type turnResult struct {
	content      string
	finishReason *string

	// usage is the replay provider's report for this call, when it sent one.
	usage *llms.Usage

	// cumulative is the engine-reported running total for stateful models;
	// trackedCumulative distinguishes a real report from a zero.
	cumulative        int
	trackedCumulative bool
}

// SendMessage runs one conversation turn and streams it as typed events:
// zero or more response segments, at most one finish reason, exactly one
// usage report, and a terminal commit marker once the exchange has entered
// history. Failures surface as the iterator's error value; the staged user
// turn is rolled back first, so history never records a failed exchange.
func (s *Session) SendMessage(ctx context.Context, text string) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "send message")
		defer span.End()
		span.SetAttributes(
			attribute.String("session.id", s.id),
			attribute.String("request.provider", s.provider),
			attribute.String("request.model", s.model),
		)

		if err := s.beginTurn(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}
		defer s.endTurn()

		emit := func(event events.Event) bool {
			return yield(event, nil)
		}

		queryTokens := tokens.Estimate(text)
		s.transcript.stage(llms.Turn{
			ID:      uuid.NewString(),
			Role:    llms.RoleUser,
			Content: text,
		})

		var result *turnResult
		var err error
		switch s.capabilities.Family {
		case llms.FamilyStatelessReplay:
			result, err = s.runReplayTurn(ctx, emit)
		case llms.FamilyStatefulSession:
			result, err = s.runStatefulTurn(ctx, emit, text)
		}
		if err != nil {
			s.transcript.rollback()
			if errors.Is(err, errConsumerGone) {
				// Nobody is listening; there is no one to deliver an
				// error to either.
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
			return
		}

		report := s.recordUsage(result, queryTokens)
		span.SetAttributes(
			attribute.Int("turn.number", report.TurnNumber),
			attribute.Int("usage.turn_total", report.TurnTotalTokens),
			attribute.Int("usage.cumulative", report.CumulativeTokens),
		)

		// The response streamed to completion, so the exchange is committed
		// even if the consumer stops listening between the closing events.
		delivered := true
		if result.finishReason != nil {
			delivered = emit(events.NewResponseFinished(*result.finishReason))
		}
		if delivered {
			delivered = emit(events.NewTurnUsage(report))
		}

		s.transcript.commit(llms.Turn{
			ID:      uuid.NewString(),
			Role:    llms.RoleAssistant,
			Content: result.content,
		})
		s.mu.Lock()
		s.exchanges++
		s.mu.Unlock()

		if delivered {
			emit(events.NewTurnCommitted())
		}
	}
}

// beginTurn runs the gate checks and claims the in-flight slot.
func (s *Session) beginTurn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.turnInFlight {
		return ErrTurnInFlight
	}
	if !s.capabilities.SupportsMultiTurn && s.exchanges >= 1 {
		return ErrFollowUpNotSupported
	}
	if !s.canContinueLocked() {
		if s.limitPolicy != LimitPolicyWarn {
			return &ConversationLimitError{
				Available: s.lastReport.Available,
				Required:  MinTokensForExchange,
			}
		}
		logger.WarnContext(ctx, "conversation limit reached, proceeding under warn policy",
			"session_id", s.id,
			"available", s.lastReport.Available,
			"required", MinTokensForExchange,
		)
	}

	s.turnInFlight = true
	return nil
}

// endTurn frees the in-flight slot and finishes a destroy that arrived
// while the turn was streaming.
func (s *Session) endTurn() {
	s.mu.Lock()
	s.turnInFlight = false
	var handle llms.Handle
	if s.destroyed {
		handle = s.handle
		s.handle = nil
	}
	s.mu.Unlock()

	s.releaseHandle(handle)
}

// runReplayTurn resends the full working transcript to the replay backend
// and streams the response.
func (s *Session) runReplayTurn(ctx context.Context, emit func(events.Event) bool) (*turnResult, error) {
	stream := s.replayBackend.Complete(ctx, s.replayPrompt(),
		llms.WithModel(s.model),
		llms.WithTemperature(s.temperature),
	)

	var message strings.Builder
	var finishReason *string
	var usage *llms.Usage
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to stream model response: %w", err)
		}

		if reason := chunk.FinishReason(); reason != nil {
			finishReason = reason
		}

		switch chunk := chunk.(type) {
		case llms.StreamContentChunk:
			if chunk.Content() == "" {
				continue
			}
			message.WriteString(chunk.Content())
			if !emit(events.NewResponseSegment(chunk.Content())) {
				return nil, errConsumerGone
			}
		case llms.StreamUsageChunk:
			chunkUsage := chunk.Usage()
			usage = &chunkUsage
		}
	}

	return &turnResult{
		content:      message.String(),
		finishReason: finishReason,
		usage:        usage,
	}, nil
}

// replayPrompt assembles the full prompt a replay model needs every call:
// base instructions and grounding context as the system turn, then the
// working history including the staged user turn.
func (s *Session) replayPrompt() []llms.Turn {
	history := s.transcript.snapshot()
	turns := make([]llms.Turn, 0, len(history)+1)
	if base := s.basePrompt(); base != "" {
		turns = append(turns, llms.Turn{Role: llms.RoleSystem, Content: base})
	}
	return append(turns, history...)
}

func (s *Session) basePrompt() string {
	parts := make([]string, 0, 2)
	if s.systemPrompt != "" {
		parts = append(parts, s.systemPrompt)
	}
	if s.groundingContext != nil && s.groundingContext.Text != "" {
		parts = append(parts, s.groundingContext.Text)
	}
	return strings.Join(parts, "\n\n")
}

// runStatefulTurn sends only the new message through the engine handle; the
// engine already holds the seeded context and prior turns.
func (s *Session) runStatefulTurn(ctx context.Context, emit func(events.Event) bool, text string) (*turnResult, error) {
	handle, err := s.ensureHandle(ctx)
	if err != nil {
		return nil, err
	}
	if !s.capabilities.SupportsMultiTurn {
		// Single-exchange models never keep their handle past the turn.
		defer s.releaseHandle(handle)
	}

	stream := handle.Send(ctx, text)

	var message strings.Builder
	var finishReason *string
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to stream model response: %w", err)
		}

		if reason := chunk.FinishReason(); reason != nil {
			finishReason = reason
		}

		if chunk, ok := chunk.(llms.StreamContentChunk); ok && chunk.Content() != "" {
			message.WriteString(chunk.Content())
			if !emit(events.NewResponseSegment(chunk.Content())) {
				return nil, errConsumerGone
			}
		}
	}

	result := &turnResult{
		content:      message.String(),
		finishReason: finishReason,
	}

	if s.capabilities.SupportsTokenTracking {
		cumulative, err := handle.CumulativeTokens(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query cumulative usage: %w", err)
		}
		result.cumulative = cumulative
		result.trackedCumulative = true
	}

	return result, nil
}
