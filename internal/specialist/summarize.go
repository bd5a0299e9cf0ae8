package specialist

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

func summarizerSystemPrompt(category types.Category) string {
	name := strings.ToUpper(string(category[:1])) + string(category[1:])
	return fmt.Sprintf(`You are a %s deep content analysis specialist.
You extract high-signal facts, insights and key information from the content you are given.
Never speculate or infer beyond what the content states.
Output is always strictly valid JSON with no code fences and no commentary.`, name)
}

func buildSummarizerPrompt(category types.Category, raws []types.RawRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Process these %s sources.\n\n", category)
	for i, raw := range raws {
		fmt.Fprintf(&sb, "--- SOURCE %d ---\nurl: %s\n", i+1, raw.Source)
		if raw.Title != "" {
			fmt.Fprintf(&sb, "title: %s\n", raw.Title)
		}
		fmt.Fprintf(&sb, "content:\n%s\n\n", raw.Content)
	}
	sb.WriteString("Requirements:\n")
	sb.WriteString("- Summarize each source in bullet points, avoid fluff.\n")
	sb.WriteString("- Do not fabricate fields; leave unknowns out of metadata.\n")
	sb.WriteString("- One object per source, using the exact url given.\n\n")
	sb.WriteString("Return ONLY a JSON array of objects with EXACT keys:\n")
	fmt.Fprintf(&sb, `[{"category": %q, "source": "<url>", "summary": "<summary>", "metadata": {...}}]`, category)
	sb.WriteString("\n")
	return sb.String()
}

// summarize asks the completion service for records and keeps only those
// that name an extracted identifier, in bucket order.
func (p *Processor) summarize(ctx context.Context, category types.Category, bucket types.CategoryBucket, raws []types.RawRecord) ([]types.Record, error) {
	resp, err := p.summarizer.CompleteWithSystem(ctx, summarizerSystemPrompt(category), buildSummarizerPrompt(category, raws))
	if err != nil {
		if isContextErr(err) || ctx.Err() != nil {
			return nil, contextCause(ctx, err)
		}
		return nil, &types.ExtractionError{Category: category, Err: fmt.Errorf("summarizer: %w", err)}
	}

	decoded, err := schema.DecodeRecords(resp, category)
	if err != nil {
		return nil, &types.ParseError{Category: category, Detail: "summarizer output", Err: err}
	}

	extracted := make(map[string]types.RawRecord, len(raws))
	for _, raw := range raws {
		extracted[raw.Source] = raw
	}

	bySource := make(map[string]types.Record, len(decoded))
	for _, r := range decoded {
		raw, ok := extracted[r.Source]
		if !ok {
			logging.SpecialistDebug("%s: summarizer invented %s, dropped", category, r.Source)
			continue
		}
		if _, dup := bySource[r.Source]; dup {
			continue
		}
		if raw.Title != "" {
			if _, has := r.Metadata["title"]; !has {
				r.Metadata["title"] = raw.Title
			}
		}
		bySource[r.Source] = r
	}

	out := make([]types.Record, 0, len(bySource))
	for _, id := range bucket {
		if r, ok := bySource[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
