package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/logging"
	"deepresearch/internal/retrieval"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

// Processor runs the specialist for one category bucket.
type Processor struct {
	registry   *Registry
	summarizer types.LLMClient
	maxChars   int
}

// Option configures a Processor.
type Option func(*Processor)

// WithSummarizer routes extracted content through the completion service,
// which rewrites the batch into specialist record JSON.
func WithSummarizer(llm types.LLMClient) Option {
	return func(p *Processor) { p.summarizer = llm }
}

// WithMaxContentChars caps the summary text of records built without a
// summarizer.
func WithMaxContentChars(n int) Option {
	return func(p *Processor) { p.maxChars = n }
}

// NewProcessor creates a processor over the registry.
func NewProcessor(registry *Registry, opts ...Option) *Processor {
	p := &Processor{registry: registry, maxChars: 4000}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process makes one batch extraction call for the bucket and returns one
// validated record per identifier the extractor actually returned, in
// bucket order. Errors are *types.ExtractionError, *types.ParseError,
// types.ErrUnsupportedCategory or a context error.
func (p *Processor) Process(ctx context.Context, category types.Category, bucket types.CategoryBucket) ([]types.Record, error) {
	if len(bucket) == 0 {
		return nil, nil
	}

	extractor, ok := p.registry.Get(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedCategory, category)
	}

	timer := logging.StartTimer(logging.CategorySpecialist, "Process "+string(category))
	defer timer.Stop()

	raws, err := extractor.Extract(ctx, bucket)
	if err != nil {
		if isContextErr(err) || ctx.Err() != nil {
			return nil, contextCause(ctx, err)
		}
		return nil, &types.ExtractionError{Category: category, Err: err}
	}

	selected, err := selectRaw(category, bucket, raws)
	if err != nil {
		return nil, err
	}
	logging.SpecialistDebug("%s: %d of %d identifiers returned content", category, len(selected), len(bucket))
	if len(selected) == 0 {
		return nil, nil
	}

	var records []types.Record
	if p.summarizer != nil {
		records, err = p.summarize(ctx, category, bucket, selected)
		if err != nil {
			return nil, err
		}
	} else {
		records = make([]types.Record, 0, len(selected))
		for _, raw := range selected {
			records = append(records, p.fromRaw(category, raw))
		}
	}

	for _, r := range records {
		if err := schema.ValidateRecord(r); err != nil {
			return nil, &types.ParseError{Category: category, Detail: "record failed validation", Err: err}
		}
	}

	logging.Specialist("%s: produced %d records", category, len(records))
	return records, nil
}

// selectRaw validates raw records against the bucket. Records for unknown
// identifiers are dropped, duplicates keep the first, output follows bucket
// order.
func selectRaw(category types.Category, bucket types.CategoryBucket, raws []types.RawRecord) ([]types.RawRecord, error) {
	inBucket := make(map[string]bool, len(bucket))
	for _, id := range bucket {
		inBucket[id] = true
	}

	byID := make(map[string]types.RawRecord, len(raws))
	for i, raw := range raws {
		if strings.TrimSpace(raw.Source) == "" {
			return nil, &types.ParseError{Category: category, Detail: fmt.Sprintf("raw record %d has no source", i)}
		}
		id, err := schema.NormalizeIdentifier(raw.Source)
		if err != nil {
			return nil, &types.ParseError{Category: category, Detail: fmt.Sprintf("raw record %d", i), Err: err}
		}
		if strings.TrimSpace(raw.Content) == "" {
			return nil, &types.ParseError{Category: category, Detail: fmt.Sprintf("raw record %d (%s) has no content", i, id)}
		}
		if !inBucket[id] {
			logging.SpecialistDebug("%s: dropping %s, not in bucket", category, id)
			continue
		}
		if _, dup := byID[id]; dup {
			continue
		}
		raw.Source = id
		byID[id] = raw
	}

	out := make([]types.RawRecord, 0, len(byID))
	for _, id := range bucket {
		if raw, ok := byID[id]; ok {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (p *Processor) fromRaw(category types.Category, raw types.RawRecord) types.Record {
	meta := make(map[string]any, len(raw.Metadata)+1)
	for k, v := range raw.Metadata {
		meta[k] = v
	}
	if raw.Title != "" {
		meta["title"] = raw.Title
	}
	summary := retrieval.Truncate(strings.TrimSpace(raw.Content), p.maxChars)
	return types.NewSpecialistRecord(category, raw.Source, summary, meta)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// contextCause prefers the context's own error so deadline and cancel stay
// distinguishable after wrapping.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
