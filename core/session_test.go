package sessions

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/lectern-ai/lectern-core/core/events"
	"github.com/lectern-ai/lectern-core/core/grounding"
	"github.com/lectern-ai/lectern-core/core/llms"
)

type testContentChunk struct {
	finish  *string
	content string
}

func (c testContentChunk) FinishReason() *string { return c.finish }
func (c testContentChunk) Content() string       { return c.content }

type testUsageChunk struct {
	usage llms.Usage
}

func (c testUsageChunk) FinishReason() *string { return nil }
func (c testUsageChunk) Usage() llms.Usage     { return c.usage }

// scriptedStream replays a fixed chunk sequence, optionally ending in an
// error.
type scriptedStream struct {
	chunks []llms.StreamChunk
	err    error
}

func (s scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

// replayResponse scripts a two-segment response with finish reason and a
// provider usage frame.
func replayResponse(first, second string, input, output int) scriptedStream {
	reason := "stop"
	return scriptedStream{chunks: []llms.StreamChunk{
		testContentChunk{content: first},
		testContentChunk{content: second},
		testContentChunk{finish: &reason},
		testUsageChunk{usage: llms.Usage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		}},
	}}
}

// engineResponse scripts a stateful response: deltas and a finish reason,
// no usage frame (stateful usage travels via CumulativeTokens).
func engineResponse(segments ...string) scriptedStream {
	reason := "stop"
	chunks := make([]llms.StreamChunk, 0, len(segments)+1)
	for _, segment := range segments {
		chunks = append(chunks, testContentChunk{content: segment})
	}
	chunks = append(chunks, testContentChunk{finish: &reason})
	return scriptedStream{chunks: chunks}
}

type fakeReplayBackend struct {
	mu      sync.Mutex
	prompts [][]llms.Turn
	queue   []llms.Stream
}

func (b *fakeReplayBackend) Complete(ctx context.Context, turns []llms.Turn, opts ...llms.CompletionOption) llms.Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, append([]llms.Turn(nil), turns...))
	if len(b.queue) == 0 {
		return scriptedStream{}
	}
	stream := b.queue[0]
	b.queue = b.queue[1:]
	return stream
}

func (b *fakeReplayBackend) promptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

func (b *fakeReplayBackend) prompt(i int) []llms.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompts[i]
}

type fakeHandle struct {
	mu          sync.Mutex
	sent        []string
	queue       []llms.Stream
	cumulatives []int
	usageErr    error
	closed      int
}

func (h *fakeHandle) Send(ctx context.Context, message string) llms.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, message)
	if len(h.queue) == 0 {
		return scriptedStream{}
	}
	stream := h.queue[0]
	h.queue = h.queue[1:]
	return stream
}

func (h *fakeHandle) CumulativeTokens(ctx context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.usageErr != nil {
		return 0, h.usageErr
	}
	if len(h.cumulatives) == 0 {
		return 0, nil
	}
	cumulative := h.cumulatives[0]
	if len(h.cumulatives) > 1 {
		h.cumulatives = h.cumulatives[1:]
	}
	return cumulative, nil
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeHandleBackend struct {
	mu     sync.Mutex
	opens  []llms.Seed
	handle *fakeHandle
	err    error
}

func (b *fakeHandleBackend) OpenHandle(ctx context.Context, seed llms.Seed) (llms.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.opens = append(b.opens, seed)
	return b.handle, nil
}

func (b *fakeHandleBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.opens)
}

// collectTurn drains one SendMessage iterator.
func collectTurn(t *testing.T, seq iter.Seq2[events.Event, error]) ([]events.Event, error) {
	t.Helper()
	var collected []events.Event
	for event, err := range seq {
		if err != nil {
			return collected, err
		}
		collected = append(collected, event)
	}
	return collected, nil
}

func eventKinds(collected []events.Event) []events.Kind {
	kinds := make([]events.Kind, 0, len(collected))
	for _, event := range collected {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func usageReport(t *testing.T, collected []events.Event) llms.UsageReport {
	t.Helper()
	for _, event := range collected {
		if usage, ok := event.(events.TurnUsage); ok {
			return usage.Report
		}
	}
	t.Fatalf("expected a turn usage event, got %v", eventKinds(collected))
	return llms.UsageReport{}
}

func joinedSegments(collected []events.Event) string {
	var b strings.Builder
	for _, event := range collected {
		if segment, ok := event.(events.ResponseSegment); ok {
			b.WriteString(segment.Segment)
		}
	}
	return b.String()
}

func TestNewRejectsUnknownModel(t *testing.T) {
	_, err := New("openai", "made-up-model", WithReplayBackend(&fakeReplayBackend{}))
	if !errors.Is(err, llms.ErrUnknownModel) {
		t.Fatalf("expected an unknown model error, got %v", err)
	}
}

func TestNewRequiresBackendForFamily(t *testing.T) {
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatalf("expected an error for a replay model without a replay backend")
	}
	if _, err := New("local", "phi-3.5-mini-instruct"); err == nil {
		t.Fatalf("expected an error for a stateful model without a handle backend")
	}
}

func TestNewSeedsInitialUsage(t *testing.T) {
	session, err := New("openai", "gpt-4o-mini", WithReplayBackend(&fakeReplayBackend{}))
	if err != nil {
		t.Fatalf("expected the session to be created, got %v", err)
	}
	defer session.Destroy()

	report := session.TokenUsage()
	if report.Limit != 128000 {
		t.Fatalf("expected limit 128000, got %d", report.Limit)
	}
	if report.Available != 128000-DefaultReservedResponseTokens {
		t.Fatalf("expected the full window minus the response reserve, got %d", report.Available)
	}
	if report.TurnNumber != 0 {
		t.Fatalf("expected turn number 0 before any turn, got %d", report.TurnNumber)
	}
}

func TestNewConsultsRegistryOnce(t *testing.T) {
	registry := llms.NewRegistry()
	registry.Register("test", "custom", llms.Capabilities{
		Family:            llms.FamilyStatelessReplay,
		SupportsMultiTurn: true,
		MaxContextTokens:  10000,
	})

	session, err := New("test", "custom",
		WithCapabilityRegistry(registry),
		WithReplayBackend(&fakeReplayBackend{}),
	)
	if err != nil {
		t.Fatalf("expected the session to be created, got %v", err)
	}
	defer session.Destroy()

	// Later registry changes must not reach the live session.
	registry.Register("test", "custom", llms.Capabilities{
		Family:           llms.FamilyStatefulSession,
		MaxContextTokens: 1,
	})

	if got := session.Capabilities().MaxContextTokens; got != 10000 {
		t.Fatalf("expected the creation-time window of 10000, got %d", got)
	}
	if !session.CanContinue() {
		t.Fatalf("expected a replay session to always be continuable")
	}
}

func TestHistoryReturnsACopy(t *testing.T) {
	backend := &fakeReplayBackend{queue: []llms.Stream{replayResponse("Hi", ".", 10, 5)}}
	session, err := New("openai", "gpt-4o-mini", WithReplayBackend(backend))
	if err != nil {
		t.Fatalf("expected the session to be created, got %v", err)
	}
	defer session.Destroy()

	if _, err := collectTurn(t, session.SendMessage(context.Background(), "hello")); err != nil {
		t.Fatalf("expected the turn to succeed, got %v", err)
	}

	history := session.History()
	if len(history) != 2 {
		t.Fatalf("expected one committed exchange, got %d turns", len(history))
	}
	history[0].Content = "tampered"

	if session.History()[0].Content != "hello" {
		t.Fatalf("expected the session's history to be unaffected by caller mutation")
	}
}

func TestDestroyIsIdempotentAndClosesHandle(t *testing.T) {
	handle := &fakeHandle{
		queue:       []llms.Stream{engineResponse("hi")},
		cumulatives: []int{600},
	}
	backend := &fakeHandleBackend{handle: handle}
	session, err := New("local", "phi-3.5-mini-instruct", WithHandleBackend(backend))
	if err != nil {
		t.Fatalf("expected the session to be created, got %v", err)
	}

	if _, err := collectTurn(t, session.SendMessage(context.Background(), "hello")); err != nil {
		t.Fatalf("expected the turn to succeed, got %v", err)
	}

	session.Destroy()
	session.Destroy()

	if got := handle.closeCount(); got != 1 {
		t.Fatalf("expected the handle to be released exactly once, got %d", got)
	}

	if _, err := collectTurn(t, session.SendMessage(context.Background(), "again")); !errors.Is(err, ErrSessionDestroyed) {
		t.Fatalf("expected ErrSessionDestroyed, got %v", err)
	}
	if session.CanContinue() {
		t.Fatalf("expected a destroyed session to report not continuable")
	}
	if len(session.History()) != 2 {
		t.Fatalf("expected history to stay readable after destroy")
	}
}

func TestGroundingContextIsCopied(t *testing.T) {
	groundingContext := &grounding.Context{
		Text:          "<reference source=\"A\">tides</reference>",
		UsedChunks:    []grounding.Chunk{{SourceID: "A"}},
		EntryCount:    1,
		TokenEstimate: 12,
	}
	backend := &fakeReplayBackend{queue: []llms.Stream{replayResponse("Hi", ".", 10, 5)}}
	session, err := New("openai", "gpt-4o-mini",
		WithReplayBackend(backend),
		WithGroundingContext(groundingContext),
	)
	if err != nil {
		t.Fatalf("expected the session to be created, got %v", err)
	}
	defer session.Destroy()

	groundingContext.Text = "tampered"
	groundingContext.UsedChunks[0].SourceID = "B"

	if _, err := collectTurn(t, session.SendMessage(context.Background(), "hello")); err != nil {
		t.Fatalf("expected the turn to succeed, got %v", err)
	}

	system := backend.prompt(0)[0]
	if system.Role != llms.RoleSystem || !strings.Contains(system.Content, "tides") {
		t.Fatalf("expected the original grounding text in the system turn, got %q", system.Content)
	}
	if strings.Contains(system.Content, "tampered") {
		t.Fatalf("expected caller mutations not to reach the session")
	}
}
