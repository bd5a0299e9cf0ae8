// Package dispatch fans a BucketSet out to one specialist branch per
// non-empty category and isolates every branch failure as an ErrorRecord.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"deepresearch/internal/aggregate"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"golang.org/x/sync/errgroup"
)

// Processor runs the specialist for one category bucket.
type Processor interface {
	Process(ctx context.Context, category types.Category, bucket types.CategoryBucket) ([]types.Record, error)
}

// Dispatcher owns the fan-out and the per-branch result slots.
type Dispatcher struct {
	processor     Processor
	branchTimeout time.Duration
}

// New creates a dispatcher. A non-positive branchTimeout disables the
// per-branch deadline.
func New(processor Processor, branchTimeout time.Duration) *Dispatcher {
	return &Dispatcher{processor: processor, branchTimeout: branchTimeout}
}

// branchOutcome is what a processor goroutine hands back to its branch.
type branchOutcome struct {
	records []types.Record
	err     error
}

// Dispatch runs every non-empty bucket concurrently, waits for all of them,
// and returns the aggregated evidence. Branch failures never surface as an
// error; the only error is the caller's own cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, bs types.BucketSet) (types.Evidence, error) {
	timer := logging.StartTimer(logging.CategoryDispatch, "Dispatch")
	defer timer.Stop()

	categories := types.AllCategories()

	// One slot per category, each written by exactly one branch.
	slots := make([][]types.Record, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(categories))

	spawned := 0
	for i, cat := range categories {
		bucket := bs.Get(cat)
		if len(bucket) == 0 {
			continue
		}
		spawned++
		i, cat := i, cat
		g.Go(func() error {
			slots[i] = d.runBranch(gctx, cat, bucket)
			return nil
		})
	}
	logging.Dispatch("Dispatched %d branches", spawned)

	_ = g.Wait()

	results := make(map[types.Category][]types.Record, spawned)
	for i, cat := range categories {
		if slots[i] != nil {
			results[cat] = slots[i]
		}
	}
	evidence := aggregate.Aggregate(results)

	if err := ctx.Err(); err != nil {
		logging.DispatchWarn("Dispatch canceled by caller: %v", err)
		return evidence, err
	}

	n, e := evidence.Counts()
	logging.Dispatch("All branches terminal: %d records, %d errors", n, e)
	return evidence, nil
}

// runBranch executes one specialist invocation under its own deadline and
// converts every failure into a single ErrorRecord.
func (d *Dispatcher) runBranch(ctx context.Context, cat types.Category, bucket types.CategoryBucket) []types.Record {
	start := time.Now()

	bctx := ctx
	cancel := context.CancelFunc(func() {})
	if d.branchTimeout > 0 {
		bctx, cancel = context.WithTimeout(ctx, d.branchTimeout)
	}
	defer cancel()

	done := make(chan branchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.DispatchError("Branch %s panicked: %v\n%s", cat, r, debug.Stack())
				done <- branchOutcome{err: &panicError{value: r}}
			}
		}()
		records, err := d.processor.Process(bctx, cat, bucket)
		done <- branchOutcome{records: records, err: err}
	}()

	var out branchOutcome
	select {
	case out = <-done:
	case <-bctx.Done():
		// The processor ignored its context. Its goroutine finishes on its
		// own; the buffered channel keeps it from blocking.
		out = branchOutcome{err: bctx.Err()}
	}

	if out.err != nil {
		kind := classify(ctx, out.err)
		logging.DispatchWarn("Branch %s failed after %v (%s): %v", cat, time.Since(start), kind, out.err)
		return []types.Record{types.NewErrorRecord(cat, kind, detail(out.err))}
	}

	logging.DispatchDebug("Branch %s finished in %v with %d records", cat, time.Since(start), len(out.records))
	if out.records == nil {
		return []types.Record{}
	}
	return out.records
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// classify maps a branch failure to its error kind. parent is the context
// shared by all branches; a deadline that fired only on the branch is a
// timeout, a done parent is a cancellation.
func classify(parent context.Context, err error) types.ErrorKind {
	var (
		pe  *panicError
		per *types.ParseError
		xe  *types.ExtractionError
	)
	switch {
	case errors.As(err, &pe):
		return types.ErrorKindPanic
	case errors.Is(err, types.ErrUnsupportedCategory):
		return types.ErrorKindUnsupported
	case parent.Err() != nil && errors.Is(err, parent.Err()):
		return types.ErrorKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return types.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return types.ErrorKindCanceled
	case errors.As(err, &per):
		return types.ErrorKindParse
	case errors.As(err, &xe):
		return types.ErrorKindExtraction
	default:
		return types.ErrorKindExtraction
	}
}

func detail(err error) string {
	msg := err.Error()
	if msg == "" {
		return fmt.Sprintf("%T", err)
	}
	return msg
}
