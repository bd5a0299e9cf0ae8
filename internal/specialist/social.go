package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/retrieval"
	"deepresearch/internal/types"

	"github.com/PuerkitoBio/goquery"
)

// SocialExtractor reads a platform page's OpenGraph and schema.org metadata.
// Platforms that render client side need a renderer to expose that metadata.
type SocialExtractor struct {
	category types.Category
	fetcher  *retrieval.Fetcher
	renderer retrieval.Renderer
	maxChars int
}

// NewSocialExtractor creates an extractor for one platform category.
// renderer may be nil.
func NewSocialExtractor(category types.Category, fetcher *retrieval.Fetcher, renderer retrieval.Renderer, maxChars int) *SocialExtractor {
	return &SocialExtractor{category: category, fetcher: fetcher, renderer: renderer, maxChars: maxChars}
}

// Extract fetches each post and reads its metadata. Posts without any
// readable text are omitted.
func (s *SocialExtractor) Extract(ctx context.Context, bucket types.CategoryBucket) ([]types.RawRecord, error) {
	var (
		out  []types.RawRecord
		errs []error
	)
	for _, id := range bucket {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := s.fetcher.Fetch(ctx, id, s.renderer)
		if err != nil {
			logging.SpecialistWarn("%s fetch %s failed: %v", s.category, id, err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}

		rec, err := parseSocialPage(s.category, id, page.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if rec.Content == "" {
			logging.SpecialistDebug("%s page %s exposed no text", s.category, id)
			continue
		}
		rec.Content = retrieval.Truncate(rec.Content, s.maxChars)
		if page.Rendered {
			rec.Metadata["rendered"] = true
		}
		out = append(out, rec)
	}

	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// parseSocialPage builds a raw record from page metadata.
func parseSocialPage(category types.Category, source, body string) (types.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return types.RawRecord{}, fmt.Errorf("parse html: %w", err)
	}

	meta := map[string]any{"platform": string(category)}
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			meta[key] = value
		}
	}

	title := firstMeta(doc, "og:title", "twitter:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	description := firstMeta(doc, "og:description", "twitter:description", "description")

	set("title", title)
	set("site_name", firstMeta(doc, "og:site_name"))
	set("media_type", firstMeta(doc, "og:type"))
	set("image", firstMeta(doc, "og:image", "twitter:image"))
	set("author", firstMeta(doc, "author", "article:author", "twitter:creator"))
	set("published", firstMeta(doc, "article:published_time", "og:published_time"))

	switch category {
	case types.CategoryYouTube:
		set("channel", doc.Find(`[itemprop="author"] [itemprop="name"]`).AttrOr("content", ""))
		set("duration", itempropContent(doc, "duration"))
		set("published", itempropContent(doc, "uploadDate"))
		set("views", itempropContent(doc, "interactionCount"))
	case types.CategoryX:
		set("handle", firstMeta(doc, "twitter:site"))
	}

	var parts []string
	if title != "" {
		parts = append(parts, title)
	}
	if description != "" && description != title {
		parts = append(parts, description)
	}
	if len(parts) == 0 {
		doc.Find("script, style, nav, header, footer, noscript, iframe").Remove()
		if text := strings.Join(strings.Fields(doc.Find("body").Text()), " "); text != "" {
			parts = append(parts, text)
		}
	}

	return types.RawRecord{
		Source:   source,
		Title:    title,
		Content:  strings.Join(parts, "\n\n"),
		Metadata: meta,
	}, nil
}

// firstMeta returns the first non-empty meta content among the given
// property or name keys.
func firstMeta(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

func itempropContent(doc *goquery.Document, prop string) string {
	return strings.TrimSpace(doc.Find(fmt.Sprintf(`meta[itemprop=%q]`, prop)).First().AttrOr("content", ""))
}
