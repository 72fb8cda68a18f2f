package grounding

import "context"

// Chunk identifies a retrieved passage fragment and its relevance rank.
// Chunks are produced by the retrieval engine, already sorted by relevance,
// and are read-only to this package.
type Chunk struct {
	SourceID        string
	StartOffset     int
	EndOffset       int
	SimilarityScore float64
}

// PassageResolver resolves a chunk back to its underlying passage text.
// Implemented by the retrieval collaborator that produced the chunks.
type PassageResolver interface {
	ResolvePassage(ctx context.Context, sourceID string, startOffset, endOffset int) (string, error)
}

// DedupMode selects the duplicate-source policy applied while assembling
// context from ranked chunks.
type DedupMode string

const (
	// DedupSkip ignores any chunk whose source was already included.
	DedupSkip DedupMode = "skip"
	// DedupCombine appends a repeated source's text to that source's
	// existing entry, counted normally against the budget.
	DedupCombine DedupMode = "combine"
	// DedupDuplicate adds a repeated source as an independent new entry.
	DedupDuplicate DedupMode = "duplicate"
)
