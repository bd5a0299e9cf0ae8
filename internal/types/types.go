// Package types provides the shared data model for the research pipeline.
// Types in this package are plain data with no dependencies on other internal packages.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Category is one content source class. The set is fixed at build time.
type Category string

const (
	CategoryWeb       Category = "web" // catch-all
	CategoryYouTube   Category = "youtube"
	CategoryInstagram Category = "instagram"
	CategoryLinkedIn  Category = "linkedin"
	CategoryX         Category = "x"
)

// CatchAll receives every identifier no other rule claims.
const CatchAll = CategoryWeb

var allCategories = []Category{
	CategoryWeb,
	CategoryYouTube,
	CategoryInstagram,
	CategoryLinkedIn,
	CategoryX,
}

// AllCategories returns every category in declaration order.
// Aggregation and serialization follow this order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Index returns the declaration position of c, or -1 if c is unknown.
func (c Category) Index() int {
	for i, k := range allCategories {
		if k == c {
			return i
		}
	}
	return -1
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c.Index() >= 0
}

// ParseCategory converts a string into a known Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// =============================================================================
// BUCKETS
// =============================================================================

// CategoryBucket is an ordered list of canonical source identifiers.
type CategoryBucket []string

// BucketSet holds one bucket per known category. Every category is always
// present; undiscovered categories hold an empty bucket.
type BucketSet struct {
	buckets map[Category]CategoryBucket

	// Diagnostic explains why discovery degraded. Not part of the wire format.
	Diagnostic string
}

// NewBucketSet returns a BucketSet with every category present and empty.
func NewBucketSet() BucketSet {
	bs := BucketSet{buckets: make(map[Category]CategoryBucket, len(allCategories))}
	for _, c := range allCategories {
		bs.buckets[c] = CategoryBucket{}
	}
	return bs
}

// EmptyBucketSet returns an all-empty BucketSet carrying a diagnostic.
func EmptyBucketSet(diagnostic string) BucketSet {
	bs := NewBucketSet()
	bs.Diagnostic = diagnostic
	return bs
}

// Get returns the bucket for c. Unknown categories yield an empty bucket.
func (b BucketSet) Get(c Category) CategoryBucket {
	if b.buckets == nil {
		return CategoryBucket{}
	}
	bucket, ok := b.buckets[c]
	if !ok {
		return CategoryBucket{}
	}
	return bucket
}

// Set replaces the bucket for a known category.
func (b *BucketSet) Set(c Category, bucket CategoryBucket) error {
	if !c.Valid() {
		return fmt.Errorf("unknown category %q", c)
	}
	if b.buckets == nil {
		*b = NewBucketSet()
	}
	if bucket == nil {
		bucket = CategoryBucket{}
	}
	b.buckets[c] = bucket
	return nil
}

// Has reports whether the set carries an entry for c.
func (b BucketSet) Has(c Category) bool {
	if b.buckets == nil {
		return false
	}
	_, ok := b.buckets[c]
	return ok
}

// Total returns the number of identifiers across all buckets.
func (b BucketSet) Total() int {
	n := 0
	for _, bucket := range b.buckets {
		n += len(bucket)
	}
	return n
}

// IsEmpty reports whether no category holds any identifier.
func (b BucketSet) IsEmpty() bool {
	return b.Total() == 0
}

// Degraded reports whether discovery fell back to empty buckets.
func (b BucketSet) Degraded() bool {
	return b.Diagnostic != ""
}

// MarshalJSON writes every category key in declaration order.
func (b BucketSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range allCategories {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(c))
		buf.Write(key)
		buf.WriteByte(':')
		items, err := json.Marshal([]string(b.Get(c)))
		if err != nil {
			return nil, err
		}
		buf.Write(items)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON performs a lenient decode. Strict shape checking lives in
// the schema package.
func (b *BucketSet) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = NewBucketSet()
	for k, v := range raw {
		c, err := ParseCategory(k)
		if err != nil {
			return err
		}
		b.buckets[c] = CategoryBucket(v)
	}
	return nil
}

// =============================================================================
// RECORDS
// =============================================================================

// RecordKind discriminates the two record shapes.
type RecordKind string

const (
	RecordKindEvidence RecordKind = "evidence"
	RecordKindError    RecordKind = "error"
)

// Record is either a SpecialistRecord (evidence) or an ErrorRecord.
// Records are produced by exactly one specialist invocation and never mutated.
type Record struct {
	Kind     RecordKind
	Category Category

	// Evidence fields
	Source   string
	Summary  string
	Metadata map[string]any

	// Error fields
	ErrorKind ErrorKind
	Detail    string
}

// NewSpecialistRecord builds an evidence record.
func NewSpecialistRecord(category Category, source, summary string, metadata map[string]any) Record {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Record{
		Kind:     RecordKindEvidence,
		Category: category,
		Source:   source,
		Summary:  summary,
		Metadata: metadata,
	}
}

// NewErrorRecord builds the single failure record for a category branch.
func NewErrorRecord(category Category, kind ErrorKind, detail string) Record {
	return Record{
		Kind:      RecordKindError,
		Category:  category,
		ErrorKind: kind,
		Detail:    detail,
	}
}

// IsError reports whether r is an ErrorRecord.
func (r Record) IsError() bool {
	return r.Kind == RecordKindError
}

type specialistWire struct {
	Category Category       `json:"category"`
	Source   string         `json:"source"`
	Summary  string         `json:"summary"`
	Metadata map[string]any `json:"metadata"`
}

type errorWire struct {
	Category  Category  `json:"category"`
	ErrorKind ErrorKind `json:"error_kind"`
	Detail    string    `json:"detail"`
}

// MarshalJSON emits {category, source, summary, metadata} for evidence and
// {category, error_kind, detail} for errors.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.IsError() {
		return json.Marshal(errorWire{Category: r.Category, ErrorKind: r.ErrorKind, Detail: r.Detail})
	}
	md := r.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return json.Marshal(specialistWire{Category: r.Category, Source: r.Source, Summary: r.Summary, Metadata: md})
}

// UnmarshalJSON uses the presence of error_kind to pick the shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if _, ok := probe["error_kind"]; ok {
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*r = NewErrorRecord(w.Category, w.ErrorKind, w.Detail)
		return nil
	}
	var w specialistWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = NewSpecialistRecord(w.Category, w.Source, w.Summary, w.Metadata)
	return nil
}

// Evidence is the flat, ordered sequence of records handed to synthesis.
type Evidence []Record

// Counts returns the number of evidence records and error records.
func (e Evidence) Counts() (evidence, errors int) {
	for _, r := range e {
		if r.IsError() {
			errors++
		} else {
			evidence++
		}
	}
	return evidence, errors
}

// Specialist returns only the evidence records, preserving order.
func (e Evidence) Specialist() []Record {
	out := make([]Record, 0, len(e))
	for _, r := range e {
		if !r.IsError() {
			out = append(out, r)
		}
	}
	return out
}

// Errors returns only the error records, preserving order.
func (e Evidence) Errors() []Record {
	var out []Record
	for _, r := range e {
		if r.IsError() {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// RESULT
// =============================================================================

// FlowResult is the terminal output of one pipeline run.
type FlowResult struct {
	RunID           string        `json:"run_id"`
	Query           string        `json:"query"`
	SynthesizedText string        `json:"synthesized_text"`
	EvidenceCount   int           `json:"evidence_count"`
	ErrorCount      int           `json:"error_count"`
	Evidence        Evidence      `json:"evidence,omitempty"`
	Diagnostics     []string      `json:"diagnostics,omitempty"`
	Duration        time.Duration `json:"-"`
	DurationMS      int64         `json:"duration_ms"`
}

// NewFlowResult derives the counters from the evidence.
func NewFlowResult(runID, query, text string, evidence Evidence, elapsed time.Duration) *FlowResult {
	ev, errs := evidence.Counts()
	return &FlowResult{
		RunID:           runID,
		Query:           query,
		SynthesizedText: text,
		EvidenceCount:   ev,
		ErrorCount:      errs,
		Evidence:        evidence,
		Duration:        elapsed,
		DurationMS:      elapsed.Milliseconds(),
	}
}
