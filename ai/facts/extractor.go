// Package facts extracts structured facts from user utterances. The
// primary path asks the LLM for JSON candidates; when that is unreachable
// or unparsable a deterministic rule set takes over at lower confidence.
package facts

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lembraai/lembra/ai/core/llm"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/store"
)

// Confidence defaults per path. A relationship pattern that captured a
// proper name is a direct statement and scores close to the LLM path;
// looser heuristics (occupation, health, preferences) stay lower.
const (
	nameRuleConfidence   float32 = 0.9
	ruleConfidence       float32 = 0.7
	correctionConfidence float32 = 0.85
)

// Candidate is one extracted fact candidate, not yet persisted.
type Candidate struct {
	Category   string
	FactType   string
	Attribute  string
	Value      string
	Confidence float32
	Method     store.ExtractionMethod
}

// ResultKind tags how the extraction concluded.
type ResultKind int

const (
	// ResultOk means the primary path produced valid candidates.
	ResultOk ResultKind = iota
	// ResultParseError means the LLM answered but the payload failed
	// validation; the candidates come from the rule fallback.
	ResultParseError
	// ResultServiceError means the LLM was unreachable or timed out; the
	// candidates come from the rule fallback.
	ResultServiceError
)

// Result is the outcome of one extraction. Candidates are always usable
// regardless of Kind; Err carries the primary-path failure for logging.
type Result struct {
	Kind       ResultKind
	Candidates []Candidate
	Err        error
}

// Extractor turns utterances into fact candidates.
type Extractor struct {
	llm     llm.Service // nil disables the primary path
	metrics *metrics.Exporter
}

// NewExtractor creates an extractor. A nil LLM service is allowed; the
// extractor then always runs the rule path.
func NewExtractor(llmService llm.Service, exporter *metrics.Exporter) *Extractor {
	return &Extractor{llm: llmService, metrics: exporter}
}

// Extract produces fact candidates for one utterance. Correction phrases
// are resolved first so that "na verdade..." statements become updates of
// the referenced fact; the remaining text goes through the primary path.
// Extraction is idempotent: identical input yields identical candidates,
// and the store's upsert semantics absorb re-runs without new versions.
func (e *Extractor) Extract(ctx context.Context, ownerID, utterance string) Result {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Result{Kind: ResultOk}
	}

	corrections := detectCorrections(utterance)

	if e.llm == nil {
		return Result{Kind: ResultOk, Candidates: finalize(corrections, applyRules(utterance))}
	}

	candidates, err := e.extractLLM(ctx, utterance)
	if err != nil {
		kind := ResultServiceError
		if isParseError(err) {
			kind = ResultParseError
		}
		slog.WarnContext(ctx, "fact extraction falling back to rules",
			"owner_id", ownerID,
			"error", err,
		)
		if e.metrics != nil {
			e.metrics.ExtractionFallback()
		}
		return Result{Kind: kind, Candidates: finalize(corrections, applyRules(utterance)), Err: err}
	}

	return Result{Kind: ResultOk, Candidates: finalize(corrections, candidates)}
}

// finalize merges correction candidates with extracted ones and applies
// the shared post-processing. Corrections win: an extracted candidate for
// a key a correction already covers is dropped, so "na verdade..." never
// produces two competing values for one key in a single pass.
func finalize(corrections, extracted []Candidate) []Candidate {
	covered := map[string]bool{}
	for _, c := range corrections {
		covered[candidateKey(c)] = true
	}
	merged := append([]Candidate{}, corrections...)
	for _, c := range extracted {
		if covered[candidateKey(c)] {
			continue
		}
		merged = append(merged, c)
	}
	return disambiguate(dedupeExact(merged))
}

func candidateKey(c Candidate) string {
	return c.Category + "\x00" + c.FactType + "\x00" + c.Attribute
}

// dedupeExact drops candidates that repeat both key and value, keeping
// the first occurrence. Same-key different-value candidates survive; the
// disambiguation pass assigns them distinct types.
func dedupeExact(candidates []Candidate) []Candidate {
	seen := map[string]bool{}
	out := candidates[:0]
	for _, c := range candidates {
		key := candidateKey(c) + "\x00" + strings.ToLower(strings.TrimSpace(c.Value))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
