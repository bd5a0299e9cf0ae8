package discovery

import (
	"fmt"
	"strings"

	"deepresearch/internal/types"
)

const classifierSystemPrompt = `You are a multiplatform web discovery specialist.
You select public, directly relevant links for a research query and group them by platform.
You never fabricate links and never include duplicates.
Your output is always pure JSON with no code fences and no commentary.`

// buildClassifierPrompt asks for a BucketSet over the candidate list.
func buildClassifierPrompt(query string, candidates []types.SearchResult, bucketCap int) string {
	keys := make([]string, 0, len(types.AllCategories()))
	for _, c := range types.AllCategories() {
		keys = append(keys, fmt.Sprintf("%q", c))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %q\n\n", query)
	sb.WriteString("Candidate links:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s", i+1, c.URL)
		if c.Title != "" {
			fmt.Fprintf(&sb, " | %s", c.Title)
		}
		if c.Snippet != "" {
			fmt.Fprintf(&sb, " | %s", c.Snippet)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nReturn ONLY a JSON object with EXACT keys [")
	sb.WriteString(strings.Join(keys, ","))
	sb.WriteString("], each a list of HTTPS URLs taken from the candidates.\n\n")
	sb.WriteString("Classification rules:\n")
	for _, rule := range rules {
		fmt.Fprintf(&sb, "- %s: %s\n", rule.category, strings.Join(rule.domains, " or "))
	}
	fmt.Fprintf(&sb, "- %s: article or blog pages on any other domain, no landing pages\n\n", types.CatchAll)
	sb.WriteString("Rules:\n")
	sb.WriteString("- No duplicates within or across lists.\n")
	fmt.Fprintf(&sb, "- At most %d URLs per list, most useful first.\n", bucketCap)
	sb.WriteString("- Use [] for a platform with nothing relevant.\n")
	return sb.String()
}
