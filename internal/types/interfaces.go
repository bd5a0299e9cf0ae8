package types

import (
	"context"
)

// LLMClient defines the interface for completion service interactions.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// SearchResult is one candidate returned by a search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"` // backend name
}

// Searcher issues one search query against the content retrieval service.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// RawRecord is what an extractor returns for one identifier before validation.
type RawRecord struct {
	Source   string         `json:"source"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentExtractor performs one batch extraction call for a category bucket.
// Identifiers it cannot serve may be omitted from the result.
type ContentExtractor interface {
	Extract(ctx context.Context, bucket CategoryBucket) ([]RawRecord, error)
}
