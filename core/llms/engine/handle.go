package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lectern-ai/lectern-core/core/llms"
)

// sessionHandle is one live engine session. The engine already holds the
// seeded context, so Send carries only the new message.
type sessionHandle struct {
	client    *Client
	sessionID string

	closeOnce sync.Once
	closeErr  error
}

func (h *sessionHandle) Send(ctx context.Context, message string) llms.Stream {
	return &handleStream{handle: h, message: message}
}

func (h *sessionHandle) CumulativeTokens(ctx context.Context) (int, error) {
	req, cancel, err := h.client.request(usageMsg(uuid.NewString(), h.sessionID))
	if err != nil {
		return 0, err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-h.client.done:
			return 0, h.client.closedErr()
		case msg := <-req.frames:
			switch msg.Type {
			case msgSessionUsage:
				if msg.CumulativeTokens == nil {
					return 0, fmt.Errorf("engine usage report carried no cumulative tokens")
				}
				return *msg.CumulativeTokens, nil
			case msgError:
				return 0, fmt.Errorf("engine rejected usage query: %s", msg.Error)
			}
		}
	}
}

// Close releases the server-side session. It is safe to call more than
// once; only the first call talks to the engine.
func (h *sessionHandle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		req, cancel, err := h.client.request(closeMsg(uuid.NewString(), h.sessionID))
		if err != nil {
			h.closeErr = err
			return
		}
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				h.closeErr = ctx.Err()
				return
			case <-h.client.done:
				// Connection already gone, nothing left to release.
				return
			case msg := <-req.frames:
				switch msg.Type {
				case msgSessionClosed:
					return
				case msgError:
					h.closeErr = fmt.Errorf("engine rejected close: %s", msg.Error)
					return
				}
			}
		}
	})
	return h.closeErr
}

// handleStream is one pending engine turn. The message is sent when Chunks
// is first consumed; a stream is not reusable.
type handleStream struct {
	handle  *sessionHandle
	message string
}

func (s *handleStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "stream engine response")
		defer span.End()
		span.SetAttributes(attribute.String("session.id", s.handle.sessionID))

		req, cancel, err := s.handle.client.request(sendMsg(uuid.NewString(), s.handle.sessionID, s.message))
		if err != nil {
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				yield(nil, ctx.Err())
				return
			case <-s.handle.client.done:
				err := s.handle.client.closedErr()
				span.RecordError(err)
				yield(nil, err)
				return
			case msg := <-req.frames:
				switch msg.Type {
				case msgResponseDelta:
					if !yield(StreamContentChunk{content: msg.Content}, nil) {
						return
					}
				case msgResponseDone:
					if msg.FinishReason != nil {
						span.SetAttributes(attribute.String("response.finish_reason", *msg.FinishReason))
					}
					yield(StreamContentChunk{finishReason: msg.FinishReason}, nil)
					return
				case msgError:
					err := fmt.Errorf("engine rejected message: %s", msg.Error)
					span.RecordError(err)
					yield(nil, err)
					return
				}
			}
		}
	}
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}
