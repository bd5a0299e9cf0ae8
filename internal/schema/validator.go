// Package schema enforces the shape contracts between pipeline stages.
// Completion-service output is never trusted: it is cleaned, extracted and
// checked here before any stage consumes it.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"deepresearch/internal/types"
)

// ErrNoJSON is returned when a response holds no JSON value at all.
var ErrNoJSON = errors.New("no JSON value found in response")

// ValidationError describes the first contract violation found.
type ValidationError struct {
	Schema  string // "bucket_set" or "specialist_record"
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Schema, e.Problem)
	}
	return fmt.Sprintf("%s.%s: %s", e.Schema, e.Field, e.Problem)
}

func violation(schemaName, field, format string, args ...interface{}) error {
	return &ValidationError{Schema: schemaName, Field: field, Problem: fmt.Sprintf(format, args...)}
}

// CleanJSONResponse strips markdown code fences from a response.
func CleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```JSON")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// ExtractJSONObject returns the first balanced {...} value in s.
func ExtractJSONObject(s string) string {
	return extractBalanced(s, '{', '}')
}

// ExtractJSONArray returns the first balanced [...] value in s.
func ExtractJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

// extractBalanced matches delimiters while skipping string literals.
func extractBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// =============================================================================
// BUCKET SET
// =============================================================================

const bucketSetSchema = "bucket_set"

// DecodeBucketSet parses classifier output into a BucketSet.
// Shape rules are strict: every category key present, no extra keys, every
// value an array of valid identifiers. Identifiers come back canonicalized.
// Duplicates and over-cap buckets are left for the caller to repair.
func DecodeBucketSet(text string) (types.BucketSet, error) {
	obj := ExtractJSONObject(CleanJSONResponse(text))
	if obj == "" {
		return types.BucketSet{}, ErrNoJSON
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return types.BucketSet{}, violation(bucketSetSchema, "", "invalid JSON object: %v", err)
	}

	var extra []string
	for key := range raw {
		if !types.Category(key).Valid() {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return types.BucketSet{}, violation(bucketSetSchema, extra[0], "unexpected key")
	}

	bs := types.NewBucketSet()
	for _, cat := range types.AllCategories() {
		value, ok := raw[string(cat)]
		if !ok {
			return types.BucketSet{}, violation(bucketSetSchema, string(cat), "missing key")
		}

		var items []interface{}
		if err := json.Unmarshal(value, &items); err != nil || items == nil {
			return types.BucketSet{}, violation(bucketSetSchema, string(cat), "must be an array of strings")
		}

		bucket := make(types.CategoryBucket, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return types.BucketSet{}, violation(bucketSetSchema, fmt.Sprintf("%s[%d]", cat, i), "must be a string")
			}
			id, err := NormalizeIdentifier(s)
			if err != nil {
				return types.BucketSet{}, violation(bucketSetSchema, fmt.Sprintf("%s[%d]", cat, i), "%v", err)
			}
			bucket = append(bucket, id)
		}
		_ = bs.Set(cat, bucket)
	}
	return bs, nil
}

// ValidateBucketSet checks every BucketSet invariant: all categories present,
// canonical identifiers, no duplicates within or across categories, and no
// bucket longer than bucketCap.
func ValidateBucketSet(bs types.BucketSet, bucketCap int) error {
	seen := make(map[string]types.Category)
	for _, cat := range types.AllCategories() {
		if !bs.Has(cat) {
			return violation(bucketSetSchema, string(cat), "missing key")
		}
		bucket := bs.Get(cat)
		if len(bucket) > bucketCap {
			return violation(bucketSetSchema, string(cat), "has %d identifiers, cap is %d", len(bucket), bucketCap)
		}
		for i, id := range bucket {
			canonical, err := NormalizeIdentifier(id)
			if err != nil {
				return violation(bucketSetSchema, fmt.Sprintf("%s[%d]", cat, i), "%v", err)
			}
			if canonical != id {
				return violation(bucketSetSchema, fmt.Sprintf("%s[%d]", cat, i), "identifier %q is not canonical", id)
			}
			if prev, dup := seen[id]; dup {
				return violation(bucketSetSchema, fmt.Sprintf("%s[%d]", cat, i), "duplicate identifier %q (first in %s)", id, prev)
			}
			seen[id] = cat
		}
	}
	return nil
}

// =============================================================================
// SPECIALIST RECORDS
// =============================================================================

const recordSchema = "specialist_record"

var recordKeys = []string{"category", "source", "summary", "metadata"}

// DecodeRecords parses specialist output for one category. The text may be
// a JSON array of records or an object with a "records" array.
func DecodeRecords(text string, category types.Category) ([]types.Record, error) {
	cleaned := CleanJSONResponse(text)

	var payload string
	arrayAt := strings.IndexByte(cleaned, '[')
	objectAt := strings.IndexByte(cleaned, '{')
	switch {
	case arrayAt >= 0 && (objectAt == -1 || arrayAt < objectAt):
		payload = ExtractJSONArray(cleaned)
	case objectAt >= 0:
		obj := ExtractJSONObject(cleaned)
		if obj != "" {
			var wrapper struct {
				Records json.RawMessage `json:"records"`
			}
			if err := json.Unmarshal([]byte(obj), &wrapper); err != nil {
				return nil, violation(recordSchema, "", "invalid JSON object: %v", err)
			}
			if wrapper.Records == nil {
				return nil, violation(recordSchema, "records", "missing key")
			}
			payload = string(wrapper.Records)
		}
	}
	if payload == "" {
		return nil, ErrNoJSON
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, violation(recordSchema, "", "must be an array of objects: %v", err)
	}

	records := make([]types.Record, 0, len(items))
	for i, item := range items {
		rec, err := decodeRecord(item, category)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("[%d].%s", i, ve.Field)
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(item map[string]json.RawMessage, category types.Category) (types.Record, error) {
	for key := range item {
		known := false
		for _, k := range recordKeys {
			if key == k {
				known = true
				break
			}
		}
		if !known {
			return types.Record{}, violation(recordSchema, key, "unexpected key")
		}
	}
	for _, k := range recordKeys {
		if _, ok := item[k]; !ok {
			return types.Record{}, violation(recordSchema, k, "missing key")
		}
	}

	var cat, source, summary string
	if err := json.Unmarshal(item["category"], &cat); err != nil {
		return types.Record{}, violation(recordSchema, "category", "must be a string")
	}
	if types.Category(cat) != category {
		return types.Record{}, violation(recordSchema, "category", "expected %q, got %q", category, cat)
	}
	if err := json.Unmarshal(item["source"], &source); err != nil {
		return types.Record{}, violation(recordSchema, "source", "must be a string")
	}
	canonical, err := NormalizeIdentifier(source)
	if err != nil {
		return types.Record{}, violation(recordSchema, "source", "%v", err)
	}
	if err := json.Unmarshal(item["summary"], &summary); err != nil {
		return types.Record{}, violation(recordSchema, "summary", "must be a string")
	}

	var metadata map[string]any
	if err := json.Unmarshal(item["metadata"], &metadata); err != nil || metadata == nil {
		return types.Record{}, violation(recordSchema, "metadata", "must be an object")
	}

	rec := types.NewSpecialistRecord(category, canonical, strings.TrimSpace(summary), metadata)
	if err := ValidateRecord(rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

var validErrorKinds = map[types.ErrorKind]bool{
	types.ErrorKindTimeout:     true,
	types.ErrorKindCanceled:    true,
	types.ErrorKindExtraction:  true,
	types.ErrorKindParse:       true,
	types.ErrorKindPanic:       true,
	types.ErrorKindUnsupported: true,
}

// ValidateRecord checks a single evidence or error record.
func ValidateRecord(r types.Record) error {
	if !r.Category.Valid() {
		return violation(recordSchema, "category", "unknown category %q", r.Category)
	}
	switch r.Kind {
	case types.RecordKindEvidence:
		if strings.TrimSpace(r.Source) == "" {
			return violation(recordSchema, "source", "must not be empty")
		}
		if strings.TrimSpace(r.Summary) == "" {
			return violation(recordSchema, "summary", "must not be empty")
		}
		if r.Metadata == nil {
			return violation(recordSchema, "metadata", "must be an object")
		}
	case types.RecordKindError:
		if !validErrorKinds[r.ErrorKind] {
			return violation(recordSchema, "error_kind", "unknown error kind %q", r.ErrorKind)
		}
		if strings.TrimSpace(r.Detail) == "" {
			return violation(recordSchema, "detail", "must not be empty")
		}
	default:
		return violation(recordSchema, "kind", "unknown record kind %q", r.Kind)
	}
	return nil
}
