package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/retrieval"
	"deepresearch/internal/types"
)

// WebExtractor fetches open-web pages and converts them to markdown.
type WebExtractor struct {
	fetcher  *retrieval.Fetcher
	maxChars int
}

// NewWebExtractor creates the catch-all extractor.
func NewWebExtractor(fetcher *retrieval.Fetcher, maxChars int) *WebExtractor {
	return &WebExtractor{fetcher: fetcher, maxChars: maxChars}
}

// Extract fetches every identifier in the bucket. Pages that fail are
// omitted; the batch fails only when nothing could be fetched.
func (w *WebExtractor) Extract(ctx context.Context, bucket types.CategoryBucket) ([]types.RawRecord, error) {
	var (
		out  []types.RawRecord
		errs []error
	)
	for _, id := range bucket {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := w.fetcher.Fetch(ctx, id, nil)
		if err != nil {
			logging.SpecialistWarn("web fetch %s failed: %v", id, err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}

		content, title := page.Body, ""
		if isHTML(page.ContentType) {
			md, t, err := retrieval.ToMarkdown(page.Body, false)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				continue
			}
			content, title = md, t
		}
		content = strings.TrimSpace(content)
		if content == "" {
			logging.SpecialistDebug("web page %s had no text", id)
			continue
		}

		meta := map[string]any{"content_type": page.ContentType}
		if title != "" {
			meta["title"] = title
		}
		out = append(out, types.RawRecord{
			Source:   id,
			Title:    title,
			Content:  retrieval.Truncate(content, w.maxChars),
			Metadata: meta,
		})
	}

	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html")
}
