// Package synthesis turns aggregated evidence into the final answer.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/retrieval"
	"deepresearch/internal/types"
)

// NoEvidenceMessage is returned verbatim (with the query) when there is
// nothing to synthesize.
const NoEvidenceMessage = "No evidence found for this query: %q"

// ErrEmptyCompletion means the completion service returned no text.
var ErrEmptyCompletion = errors.New("completion service returned empty text")

// Config holds synthesis settings.
type Config struct {
	MaxRecordChars  int // per-record summary budget in the prompt
	MaxContextChars int // total evidence budget; 0 means unlimited
}

// Synthesizer frames evidence for the completion service.
type Synthesizer struct {
	llm types.LLMClient
	cfg Config
}

// New creates a synthesizer.
func New(llm types.LLMClient, cfg Config) *Synthesizer {
	if cfg.MaxRecordChars <= 0 {
		cfg.MaxRecordChars = 1500
	}
	return &Synthesizer{llm: llm, cfg: cfg}
}

// NoEvidence returns the explicit no-evidence answer for query.
func NoEvidence(query string) string {
	return fmt.Sprintf(NoEvidenceMessage, query)
}

// Synthesize produces the answer text. Without specialist records it returns
// the no-evidence message and never calls the completion service. Any
// completion failure is a *types.SynthesisError.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, evidence types.Evidence) (string, error) {
	if len(evidence.Specialist()) == 0 {
		logging.Synthesis("No specialist records, returning no-evidence answer")
		return NoEvidence(query), nil
	}
	if s.llm == nil {
		return "", &types.SynthesisError{Err: errors.New("no completion service configured")}
	}

	timer := logging.StartTimer(logging.CategorySynthesis, "Synthesize")
	defer timer.Stop()

	prompt := BuildPrompt(query, evidence, s.cfg)
	logging.SynthesisDebug("Prompt built: %d chars from %d records", len(prompt), len(evidence))

	text, err := s.llm.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		logging.SynthesisError("Completion failed: %v", err)
		return "", &types.SynthesisError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logging.SynthesisError("Completion returned empty text")
		return "", &types.SynthesisError{Err: ErrEmptyCompletion}
	}

	logging.Synthesis("Synthesized %d chars", len(text))
	return text, nil
}

const systemPrompt = `You are a deep research synthesis specialist.
You combine findings from multiple sources into a clear, well structured markdown report that answers the user's query with depth and accuracy.
Only use facts present in the research context. Cite sources by their number and URL.`

// BuildPrompt frames the evidence as numbered sources. Error records become
// notes about unavailable platforms so the answer can mention the gap.
func BuildPrompt(query string, evidence types.Evidence, cfg Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Original Query: %q\n\n", query)
	sb.WriteString("Research Context:\n")

	used := 0
	n := 0
	for _, r := range evidence.Specialist() {
		summary := retrieval.Truncate(strings.TrimSpace(r.Summary), cfg.MaxRecordChars)
		if cfg.MaxContextChars > 0 && used+len(summary) > cfg.MaxContextChars && n > 0 {
			fmt.Fprintf(&sb, "\n[%d more sources omitted for length]\n", len(evidence.Specialist())-n)
			break
		}
		n++
		used += len(summary)

		fmt.Fprintf(&sb, "\n[%d] (%s) %s\n", n, r.Category, r.Source)
		if title, ok := r.Metadata["title"].(string); ok && title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", title)
		}
		sb.WriteString(summary)
		sb.WriteString("\n")
	}

	if errs := evidence.Errors(); len(errs) > 0 {
		sb.WriteString("\nUnavailable sources:\n")
		for _, r := range errs {
			fmt.Fprintf(&sb, "- %s: %s (%s)\n", r.Category, r.ErrorKind, r.Detail)
		}
	}

	sb.WriteString(`
Your Task:
Write a comprehensive, well structured markdown response that:
1. Directly answers the query with clear, actionable insights
2. Synthesizes findings from all available sources into coherent themes
3. Provides specific details with supporting evidence from the sources
4. Includes source links for every claim

Structure the response with:
- Executive Summary (2-3 key points)
- Detailed Findings (organized by topic)
- Key Insights & Implications
- Sources & References
`)
	return sb.String()
}
