// Package grounding assembles ranked reference passages into a single
// bounded-size context blob that honors a token budget and a duplicate-source
// policy. The retrieval engine that produced the passages stays external;
// this package only resolves, deduplicates, and bounds them.
package grounding

import (
	"context"
	"fmt"
	"strings"

	"github.com/lectern-ai/lectern-core/core/tokens"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// MinContextChunks is the floor applied when shrinking context; a
	// rebuilt context keeps at least this many chunks.
	MinContextChunks = 1

	// DefaultBaseOverhead is the token allowance reserved for base
	// instructions and the structural wrapper around the context.
	DefaultBaseOverhead = 200

	combineSeparator = "\n\n"
	entrySeparator   = "\n\n"
)

// Params bound a single build.
type Params struct {
	// ModelMaxTokens is the model's full context window.
	ModelMaxTokens int
	// Cushion is reserved out of the window for the response and fixed
	// overhead; context never eats into it.
	Cushion int
	// Dedup selects the duplicate-source policy. Defaults to DedupSkip.
	Dedup DedupMode
	// MaxChunks caps how many chunks may be admitted. Zero means no cap.
	MaxChunks int
}

// Context is an assembled, budget-respecting reference context. Immutable
// once built; shrinking it produces a new instance.
type Context struct {
	// Text is the concatenated context blob, one tagged entry per source
	// (or per chunk, under DedupDuplicate).
	Text string
	// UsedChunks lists the admitted chunks in their original order.
	UsedChunks []Chunk
	// EntryCount counts distinct entries in Text. Under DedupCombine this
	// can be lower than len(UsedChunks).
	EntryCount int
	// TokenEstimate is the estimated token cost of Text, markup included.
	TokenEstimate int
}

// Builder assembles context blobs out of retrieved chunks, resolving each
// chunk's text through the configured resolver.
type Builder struct {
	resolver     PassageResolver
	baseOverhead int
}

type BuilderOption func(*Builder)

// WithBaseOverhead overrides the token allowance reserved for base
// instructions and wrapper structure.
func WithBaseOverhead(overhead int) BuilderOption {
	return func(b *Builder) { b.baseOverhead = overhead }
}

func NewBuilder(resolver PassageResolver, opts ...BuilderOption) *Builder {
	builder := &Builder{resolver: resolver, baseOverhead: DefaultBaseOverhead}
	for _, opt := range opts {
		opt(builder)
	}
	return builder
}

// Build assembles a context for query out of ranked chunks. Chunks are
// admitted in their given order until the budget or the chunk cap is
// reached; a chunk whose estimated cost would exceed the budget stops the
// build (passages are never partially truncated, the cutoff is
// chunk-granular). Returns a *QueryTooLongError when the query plus base
// overhead leave no room for any context at all.
func (b *Builder) Build(ctx context.Context, query string, chunks []Chunk, params Params) (*Context, error) {
	ctx, span := tracer.Start(ctx, "build context")
	defer span.End()

	queryTokens := tokens.Estimate(query)
	if b.baseOverhead+queryTokens > params.ModelMaxTokens-params.Cushion {
		err := &QueryTooLongError{
			QueryTokens:  queryTokens,
			BaseOverhead: b.baseOverhead,
			Budget:       params.ModelMaxTokens - params.Cushion,
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	budget := params.ModelMaxTokens - params.Cushion - b.baseOverhead - queryTokens

	dedup := params.Dedup
	if dedup == "" {
		dedup = DedupSkip
	}

	var (
		entries  []*contextEntry
		bySource = map[string]*contextEntry{}
		used     []Chunk
		estimate int
	)

admission:
	for _, chunk := range chunks {
		if params.MaxChunks > 0 && len(used) >= params.MaxChunks {
			break
		}

		existing := bySource[chunk.SourceID]
		if existing != nil && dedup == DedupSkip {
			continue
		}

		passage, err := b.resolver.ResolvePassage(ctx, chunk.SourceID, chunk.StartOffset, chunk.EndOffset)
		if err != nil {
			err = fmt.Errorf("failed to resolve passage for %s: %w", chunk.SourceID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		switch {
		case existing != nil && dedup == DedupCombine:
			cost := tokens.EstimateWithMarkup(passage)
			if estimate+cost > budget {
				break admission
			}
			existing.fragments = append(existing.fragments, passage)
			estimate += cost

		default:
			entry := &contextEntry{sourceID: chunk.SourceID, fragments: []string{passage}}
			cost := tokens.EstimateWithMarkup(entry.render())
			if estimate+cost > budget {
				break admission
			}
			entries = append(entries, entry)
			if bySource[chunk.SourceID] == nil {
				bySource[chunk.SourceID] = entry
			}
			estimate += cost
		}

		used = append(used, chunk)
	}

	rendered := make([]string, 0, len(entries))
	for _, entry := range entries {
		rendered = append(rendered, entry.render())
	}

	result := &Context{
		Text:          strings.Join(rendered, entrySeparator),
		UsedChunks:    used,
		EntryCount:    len(entries),
		TokenEstimate: estimate,
	}

	span.SetAttributes(
		attribute.Int("grounding.chunks.offered", len(chunks)),
		attribute.Int("grounding.chunks.used", len(result.UsedChunks)),
		attribute.Int("grounding.entries", result.EntryCount),
		attribute.Int("grounding.token_estimate", result.TokenEstimate),
	)
	return result, nil
}

// RebuildWithLimit re-runs the same build capped at max(targetChunkCount,
// MinContextChunks) admitted chunks. Used for context shrinkage; the
// admitted set is always a prefix of what an uncapped build would admit,
// never a reordering.
func (b *Builder) RebuildWithLimit(ctx context.Context, query string, chunks []Chunk, params Params, targetChunkCount int) (*Context, error) {
	params.MaxChunks = max(targetChunkCount, MinContextChunks)
	return b.Build(ctx, query, chunks, params)
}

type contextEntry struct {
	sourceID  string
	fragments []string
}

func (e *contextEntry) render() string {
	return fmt.Sprintf("<reference source=%q>\n%s\n</reference>",
		e.sourceID, strings.Join(e.fragments, combineSeparator))
}
