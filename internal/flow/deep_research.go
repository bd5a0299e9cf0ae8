package flow

import (
	"context"
	"errors"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names of the deep research graph.
const (
	StageStart      = "start"
	StageDiscover   = "discover"
	StageDispatch   = "dispatch"
	StageSynthesize = "synthesize"
)

// Discoverer produces the bucket set for a query.
type Discoverer interface {
	Discover(ctx context.Context, query string) (types.BucketSet, error)
}

// Dispatcher fans buckets out to specialists and aggregates the result.
type Dispatcher interface {
	Dispatch(ctx context.Context, bs types.BucketSet) (types.Evidence, error)
}

// Synthesizer writes the final answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, evidence types.Evidence) (string, error)
}

// DeepResearch runs start -> discover -> dispatch -> synthesize, where
// synthesize joins the query from start with the evidence from dispatch.
type DeepResearch struct {
	discovery  Discoverer
	dispatcher Dispatcher
	synth      Synthesizer
	timeout    time.Duration
	observers  []Observer
}

// Option configures a DeepResearch flow.
type Option func(*DeepResearch)

// WithRunTimeout bounds a whole run.
func WithRunTimeout(d time.Duration) Option {
	return func(r *DeepResearch) { r.timeout = d }
}

// WithObserver registers a stage observer on every run.
func WithObserver(o Observer) Option {
	return func(r *DeepResearch) { r.observers = append(r.observers, o) }
}

// NewDeepResearch wires the pipeline.
func NewDeepResearch(d Discoverer, disp Dispatcher, s Synthesizer, opts ...Option) (*DeepResearch, error) {
	if d == nil || disp == nil || s == nil {
		return nil, errors.New("discovery, dispatcher and synthesizer are required")
	}
	r := &DeepResearch{discovery: d, dispatcher: disp, synth: s}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one research run. Discovery failures and specialist failures
// degrade the result; only synthesis failures, engine defects and caller
// cancellation return an error, always a *types.FlowError.
func (r *DeepResearch) Run(ctx context.Context, query string) (*types.FlowResult, error) {
	runID := uuid.NewString()
	log := logging.WithRunID(logging.CategoryFlow, runID)
	start := time.Now()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var diagnostics []string

	engine, err := New(
		Stage{
			Name: StageStart,
			Run: func(ctx context.Context, in Inputs) (any, error) {
				return Output[string](in, SeedKey)
			},
		},
		Stage{
			Name:  StageDiscover,
			After: []string{StageStart},
			Run: func(ctx context.Context, in Inputs) (any, error) {
				q, err := Output[string](in, StageStart)
				if err != nil {
					return nil, err
				}
				bs, err := r.discovery.Discover(ctx, q)
				if err != nil {
					if ctx.Err() != nil {
						return nil, err
					}
					var derr *types.DiscoveryError
					if !errors.As(err, &derr) {
						derr = &types.DiscoveryError{Kind: types.FailureDiscoveryDegraded, Err: err}
					}
					log.Warn("Discovery degraded (%s): %v", derr.Kind, derr.Err)
					diagnostics = append(diagnostics, derr.Error())
					if !bs.IsEmpty() || bs.Diagnostic == "" {
						bs = types.EmptyBucketSet(derr.Error())
					}
				}
				return bs, nil
			},
		},
		Stage{
			Name:  StageDispatch,
			After: []string{StageDiscover},
			Run: func(ctx context.Context, in Inputs) (any, error) {
				bs, err := Output[types.BucketSet](in, StageDiscover)
				if err != nil {
					return nil, err
				}
				return r.dispatcher.Dispatch(ctx, bs)
			},
		},
		Stage{
			Name:  StageSynthesize,
			After: []string{StageStart, StageDispatch},
			Run: func(ctx context.Context, in Inputs) (any, error) {
				q, err := Output[string](in, StageStart)
				if err != nil {
					return nil, err
				}
				ev, err := Output[types.Evidence](in, StageDispatch)
				if err != nil {
					return nil, err
				}
				return r.synth.Synthesize(ctx, q, ev)
			},
		},
	)
	if err != nil {
		return nil, &types.FlowError{Kind: types.FailurePipelineAbort, Detail: err.Error(), Err: err}
	}

	engine.Observe(func(ev StageEvent) {
		if ev.State.Terminal() {
			log.With(zap.String("stage", ev.Stage), zap.Duration("elapsed", ev.Duration)).
				Info("Stage %s %s", ev.Stage, ev.State)
		}
	})
	for _, o := range r.observers {
		engine.Observe(o)
	}

	log.Info("Run started: %q", query)
	x, err := engine.Execute(ctx, query)
	if err != nil {
		fe, _ := types.AsFlowError(err)
		log.Error("Run failed: %v", fe)
		return nil, fe
	}

	q, _ := x.Output(StageStart)
	text, _ := x.Output(StageSynthesize)
	evidence, _ := x.Output(StageDispatch)

	result := types.NewFlowResult(runID, q.(string), text.(string), evidence.(types.Evidence), time.Since(start))
	result.Diagnostics = diagnostics
	for _, rec := range result.Evidence.Errors() {
		result.Diagnostics = append(result.Diagnostics, string(rec.Category)+": "+string(rec.ErrorKind)+": "+rec.Detail)
	}

	log.Info("Run finished in %v: %d evidence, %d errors", result.Duration, result.EvidenceCount, result.ErrorCount)
	return result, nil
}
