package grounding

import (
	"context"
	"strings"
	"testing"
)

func TestBuildSkipIgnoresRepeatedSource(t *testing.T) {
	resolver := &fakeResolver{passages: map[string]string{
		"A": elevenWords("alpha"),
		"B": elevenWords("beta"),
	}}
	builder := NewBuilder(resolver, WithBaseOverhead(0))

	result, err := builder.Build(context.Background(), "q",
		[]Chunk{{SourceID: "A"}, {SourceID: "A", StartOffset: 5}, {SourceID: "B"}},
		Params{ModelMaxTokens: 1000, Dedup: DedupSkip},
	)
	if err != nil {
		t.Fatalf("expected build to succeed, got %v", err)
	}

	if len(result.UsedChunks) != 2 {
		t.Fatalf("expected the repeated source to be skipped, got %d admitted chunks", len(result.UsedChunks))
	}
	if result.EntryCount != 2 {
		t.Fatalf("expected 2 entries, got %d", result.EntryCount)
	}
	if got := strings.Count(result.Text, `source="A"`); got != 1 {
		t.Fatalf("expected exactly one entry for source A, found %d", got)
	}
}

func TestBuildCombineMergesRepeatedSource(t *testing.T) {
	resolver := &fakeResolver{passages: map[string]string{
		"A#0-1": "first fragment from alpha",
		"A#1-2": "second fragment from alpha",
	}}
	builder := NewBuilder(resolver, WithBaseOverhead(0))

	result, err := builder.Build(context.Background(), "q",
		[]Chunk{
			{SourceID: "A", StartOffset: 0, EndOffset: 1},
			{SourceID: "A", StartOffset: 1, EndOffset: 2},
		},
		Params{ModelMaxTokens: 200, Dedup: DedupCombine},
	)
	if err != nil {
		t.Fatalf("expected build to succeed, got %v", err)
	}

	if len(result.UsedChunks) != 2 {
		t.Fatalf("expected both fragments admitted, got %d", len(result.UsedChunks))
	}
	if result.EntryCount != 1 {
		t.Fatalf("expected a single combined entry, got %d", result.EntryCount)
	}
	joined := "first fragment from alpha" + combineSeparator + "second fragment from alpha"
	if !strings.Contains(result.Text, joined) {
		t.Fatalf("expected fragments joined by the separator, got %q", result.Text)
	}
	if got := strings.Count(result.Text, `source="A"`); got != 1 {
		t.Fatalf("expected exactly one entry for source A, found %d", got)
	}
}

func TestBuildCombineMayFillBudgetExactly(t *testing.T) {
	resolver := &fakeResolver{passages: map[string]string{
		"A#0-1": "first fragment from alpha",
		"A#1-2": "second fragment from alpha",
	}}
	builder := NewBuilder(resolver, WithBaseOverhead(0))

	// The entry costs 15 and the combined fragment 10; after the 2-token
	// query a budget of exactly 25 admits both.
	result, err := builder.Build(context.Background(), "q",
		[]Chunk{
			{SourceID: "A", StartOffset: 0, EndOffset: 1},
			{SourceID: "A", StartOffset: 1, EndOffset: 2},
		},
		Params{ModelMaxTokens: 27, Dedup: DedupCombine},
	)
	if err != nil {
		t.Fatalf("expected build to succeed, got %v", err)
	}

	if len(result.UsedChunks) != 2 {
		t.Fatalf("expected a combine to legally fill the budget, got %d chunks", len(result.UsedChunks))
	}
	if result.TokenEstimate != 25 {
		t.Fatalf("expected token estimate 25, got %d", result.TokenEstimate)
	}
}

func TestBuildDuplicateAddsIndependentEntries(t *testing.T) {
	resolver := &fakeResolver{passages: map[string]string{"A": elevenWords("alpha")}}
	builder := NewBuilder(resolver, WithBaseOverhead(0))

	result, err := builder.Build(context.Background(), "q",
		[]Chunk{{SourceID: "A"}, {SourceID: "A", StartOffset: 5}},
		Params{ModelMaxTokens: 1000, Dedup: DedupDuplicate},
	)
	if err != nil {
		t.Fatalf("expected build to succeed, got %v", err)
	}

	if len(result.UsedChunks) != 2 {
		t.Fatalf("expected both chunks admitted, got %d", len(result.UsedChunks))
	}
	if result.EntryCount != 2 {
		t.Fatalf("expected independent entries, got %d", result.EntryCount)
	}
	if got := strings.Count(result.Text, `source="A"`); got != 2 {
		t.Fatalf("expected two entries for source A, found %d", got)
	}
}
