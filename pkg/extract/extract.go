// Package extract finds the code a model reply proposes for each edit target.
// Strategies run in a fixed order and are pure; the first strategy that
// produces a candidate for a target claims that target. When nothing matches
// the result is empty: the caller surfaces the ambiguity instead of guessing.
package extract

import (
	"sidekick/pkg/chunks"
	"sidekick/pkg/logx"
	"sidekick/pkg/metrics"
)

// Origin says how a candidate was derived from the reply.
type Origin string

const (
	// OriginExplicitMarker covers replies that name their target outright,
	// either with a REPLACE marker or a chunk ordinal.
	OriginExplicitMarker Origin = "explicit-marker"
	// OriginSingleChunkInference covers the biggest compatible fenced block
	// when exactly one target is attached.
	OriginSingleChunkInference Origin = "single-chunk-inference"
	// OriginHeuristicExtraction covers the conservative prose fallback.
	OriginHeuristicExtraction Origin = "heuristic-extraction"
)

// Target is one place extracted code could land. Whole-file targets carry
// zero lines; chunk and selection targets carry their 1-based inclusive
// range. Ordinal is the chunk's 1-based position in the attachment context,
// zero for non-chunk targets.
type Target struct {
	Path      string
	Chunk     *chunks.Chunk
	Content   string
	StartLine int
	EndLine   int
	Ordinal   int
}

// Candidate is a proposed replacement bound to its target.
type Candidate struct {
	TargetPath  string
	TargetChunk *chunks.Chunk
	Proposed    string
	Origin      Origin
}

// Strategy is one named, pure extraction pass.
type Strategy struct {
	Name string
	Fn   func(resp string, targets []Target) []Candidate
}

// Extractor runs the strategy chain.
type Extractor struct {
	strategies []Strategy
	logger     *logx.Logger
	rec        *metrics.Recorder
}

// NewExtractor returns an extractor with the standard strategy order:
// explicit markers, chunk ordinals, the single-target heuristic, then the
// prose fallback.
func NewExtractor(rec *metrics.Recorder) *Extractor {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Extractor{
		strategies: []Strategy{
			{Name: "explicit-marker", Fn: explicitMarker},
			{Name: "numbered-chunk", Fn: numberedChunk},
			{Name: "single-target-heuristic", Fn: singleTargetHeuristic},
			{Name: "prose-extraction", Fn: proseExtraction},
		},
		logger: logx.NewLogger("extract"),
		rec:    rec,
	}
}

// Extract runs the strategies in order. Each target is claimed by the first
// strategy that produces a candidate for it; later strategies only see the
// targets still unclaimed. An empty result means no strategy was confident.
func (e *Extractor) Extract(resp string, targets []Target) []Candidate {
	if resp == "" || len(targets) == 0 {
		return nil
	}

	var out []Candidate
	claimed := make(map[string]bool, len(targets))

	for _, strategy := range e.strategies {
		remaining := make([]Target, 0, len(targets))
		for _, t := range targets {
			if !claimed[targetKey(t.Path, t.Chunk)] {
				remaining = append(remaining, t)
			}
		}
		if len(remaining) == 0 {
			break
		}

		for _, cand := range strategy.Fn(resp, remaining) {
			if cand.Proposed == "" {
				continue
			}
			key := targetKey(cand.TargetPath, cand.TargetChunk)
			if claimed[key] {
				continue
			}
			claimed[key] = true
			e.rec.IncExtractionCandidate(strategy.Name)
			e.logger.Debug("strategy %s claimed %s", strategy.Name, key)
			out = append(out, cand)
		}
	}

	if len(out) == 0 {
		e.logger.Debug("no strategy produced a candidate for %d target(s)", len(targets))
	}
	return out
}

func targetKey(path string, chunk *chunks.Chunk) string {
	if chunk != nil {
		return "chunk:" + chunk.ID
	}
	return "path:" + path
}
