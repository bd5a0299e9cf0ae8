package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed specialist branch.
type ErrorKind string

const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindCanceled    ErrorKind = "canceled"
	ErrorKindExtraction  ErrorKind = "extraction"
	ErrorKindParse       ErrorKind = "parse"
	ErrorKindPanic       ErrorKind = "panic"
	ErrorKindUnsupported ErrorKind = "unsupported"
)

// ErrUnsupportedCategory means no extractor serves a category.
var ErrUnsupportedCategory = errors.New("no extractor registered for category")

// FailureKind classifies a pipeline-level failure.
type FailureKind string

const (
	FailureDiscoveryDegraded   FailureKind = "discovery_degraded"          // non-fatal
	FailureClassificationError FailureKind = "classification_schema_error" // non-fatal, folded into degraded discovery
	FailureSynthesis           FailureKind = "synthesis_error"             // fatal
	FailurePipelineAbort       FailureKind = "pipeline_abort"              // fatal
	FailureCanceled            FailureKind = "canceled"                    // fatal, caller abort
)

// DiscoveryError reports why discovery fell back to empty buckets.
type DiscoveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery %s: %v", e.Kind, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ExtractionError means the retrieval capability failed for a whole batch.
type ExtractionError struct {
	Category Category
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Category, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ParseError means a specialist result did not fit the record schema.
type ParseError struct {
	Category Category
	Detail   string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse failed for %s: %s: %v", e.Category, e.Detail, e.Err)
	}
	return fmt.Sprintf("parse failed for %s: %s", e.Category, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SynthesisError is fatal: the completion service failed to produce an answer.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// FlowError is the structured hard-failure result of a run.
type FlowError struct {
	Kind   FailureKind `json:"kind"`
	Stage  string      `json:"stage,omitempty"`
	Detail string      `json:"detail"`
	Err    error       `json:"-"`
}

func (e *FlowError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s at stage %s: %s", e.Kind, e.Stage, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *FlowError) Unwrap() error { return e.Err }

// AsFlowError extracts a FlowError from err's chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
