// Package flow executes research stages as an explicit DAG and wires the
// deep research pipeline on top of it.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// SeedKey is the input key under which root stages receive the seed value.
const SeedKey = "seed"

// Inputs holds the outputs of a stage's predecessors keyed by stage name.
type Inputs map[string]any

// RunFunc executes one stage.
type RunFunc func(ctx context.Context, in Inputs) (any, error)

// Stage is one node in the graph. It runs only after every stage in After
// has completed.
type Stage struct {
	Name  string
	After []string
	Run   RunFunc
}

// StageEvent reports a stage state change.
type StageEvent struct {
	Stage    string
	State    StageState
	Duration time.Duration
	Err      error
}

// Observer receives stage events in execution order.
type Observer func(StageEvent)

// Engine runs a validated stage graph.
type Engine struct {
	stages    map[string]Stage
	order     []string
	observers []Observer
}

// New validates the graph and fixes its execution order.
func New(stages ...Stage) (*Engine, error) {
	if len(stages) == 0 {
		return nil, errors.New("flow has no stages")
	}

	byName := make(map[string]Stage, len(stages))
	declared := make([]string, 0, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, errors.New("stage name must not be empty")
		}
		if s.Run == nil {
			return nil, fmt.Errorf("stage %s has no run function", s.Name)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %s", s.Name)
		}
		byName[s.Name] = s
		declared = append(declared, s.Name)
	}

	roots := 0
	for _, s := range stages {
		if len(s.After) == 0 {
			roots++
		}
		for _, dep := range s.After {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", s.Name, dep)
			}
		}
	}
	if roots == 0 {
		return nil, errors.New("flow has no root stage")
	}
	if err := validateAcyclic(byName, declared); err != nil {
		return nil, err
	}

	return &Engine{stages: byName, order: topoOrder(byName, declared)}, nil
}

// Observe registers an observer for stage events.
func (e *Engine) Observe(o Observer) {
	e.observers = append(e.observers, o)
}

// Order returns the execution order.
func (e *Engine) Order() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Execution is the record of one run through the graph.
type Execution struct {
	outputs map[string]any
	states  map[string]StageState
}

// Output returns a completed stage's output.
func (x *Execution) Output(stage string) (any, bool) {
	v, ok := x.outputs[stage]
	return v, ok
}

// State returns a stage's current state.
func (x *Execution) State(stage string) StageState {
	return x.states[stage]
}

func (x *Execution) transition(stage string, to StageState) error {
	from := x.states[stage]
	if err := ValidateTransition(from, to); err != nil {
		return fmt.Errorf("stage %s: %w", stage, err)
	}
	x.states[stage] = to
	return nil
}

// Execute runs every stage once, in order. The first failing stage aborts
// the run; the returned error is always a *types.FlowError. The Execution is
// returned in both cases so callers can inspect what completed.
func (e *Engine) Execute(ctx context.Context, seed any) (*Execution, error) {
	x := &Execution{
		outputs: make(map[string]any, len(e.order)),
		states:  make(map[string]StageState, len(e.order)),
	}
	for _, name := range e.order {
		x.states[name] = StatePending
	}

	for _, name := range e.order {
		stage := e.stages[name]

		if err := ctx.Err(); err != nil {
			return x, &types.FlowError{Kind: types.FailureCanceled, Stage: name, Detail: err.Error(), Err: err}
		}

		in := make(Inputs, len(stage.After)+1)
		if len(stage.After) == 0 {
			in[SeedKey] = seed
		}
		for _, dep := range stage.After {
			if x.states[dep] != StateCompleted {
				return x, e.abort(x, name, fmt.Errorf("predecessor %s is %s", dep, x.states[dep]))
			}
			in[dep] = x.outputs[dep]
		}

		if err := x.transition(name, StateRunning); err != nil {
			return x, e.abort(x, name, err)
		}
		e.emit(StageEvent{Stage: name, State: StateRunning})
		logging.FlowDebug("Stage %s running", name)

		start := time.Now()
		out, err := runStage(ctx, stage, in)
		elapsed := time.Since(start)

		if err != nil {
			ferr := toFlowError(ctx, name, err)
			_ = x.transition(name, StateFailed)
			e.emit(StageEvent{Stage: name, State: StateFailed, Duration: elapsed, Err: ferr})
			logging.FlowError("Stage %s failed after %v: %v", name, elapsed, ferr)
			return x, ferr
		}

		if err := x.transition(name, StateCompleted); err != nil {
			return x, e.abort(x, name, err)
		}
		x.outputs[name] = out
		e.emit(StageEvent{Stage: name, State: StateCompleted, Duration: elapsed})
		logging.FlowDebug("Stage %s completed in %v", name, elapsed)
	}
	return x, nil
}

// abort reports an engine defect.
func (e *Engine) abort(x *Execution, stage string, err error) error {
	if x.states[stage] == StateRunning {
		_ = x.transition(stage, StateFailed)
	}
	ferr := &types.FlowError{Kind: types.FailurePipelineAbort, Stage: stage, Detail: err.Error(), Err: err}
	e.emit(StageEvent{Stage: stage, State: StateFailed, Err: ferr})
	logging.FlowError("Engine defect at %s: %v", stage, err)
	return ferr
}

func (e *Engine) emit(ev StageEvent) {
	for _, o := range e.observers {
		o(ev)
	}
}

// runStage converts a stage panic into an error.
func runStage(ctx context.Context, stage Stage, in Inputs) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stagePanic{stage: stage.Name, value: r}
		}
	}()
	return stage.Run(ctx, in)
}

type stagePanic struct {
	stage string
	value any
}

func (p *stagePanic) Error() string {
	return fmt.Sprintf("panic in stage %s: %v", p.stage, p.value)
}

// toFlowError assigns the failure kind for a stage error.
func toFlowError(ctx context.Context, stage string, err error) *types.FlowError {
	if fe, ok := types.AsFlowError(err); ok {
		if fe.Stage == "" {
			fe.Stage = stage
		}
		return fe
	}

	kind := types.FailurePipelineAbort
	var serr *types.SynthesisError
	switch {
	case errors.As(err, &serr):
		kind = types.FailureSynthesis
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		kind = types.FailureCanceled
	}
	return &types.FlowError{Kind: kind, Stage: stage, Detail: err.Error(), Err: err}
}

func validateAcyclic(stages map[string]Stage, declared []string) error {
	visiting := map[string]bool{}
	visited := map[string]bool{}
	var dfs func(string) error
	dfs = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("cycle detected at stage %s", name)
		}
		visiting[name] = true
		for _, dep := range stages[name].After {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		return nil
	}
	for _, name := range declared {
		if err := dfs(name); err != nil {
			return err
		}
	}
	return nil
}

// topoOrder picks, at every step, the first declared stage whose
// predecessors are all placed.
func topoOrder(stages map[string]Stage, declared []string) []string {
	placed := make(map[string]bool, len(declared))
	order := make([]string, 0, len(declared))
	for len(order) < len(declared) {
		for _, name := range declared {
			if placed[name] {
				continue
			}
			ready := true
			for _, dep := range stages[name].After {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				placed[name] = true
				order = append(order, name)
				break
			}
		}
	}
	return order
}

// Output extracts a predecessor's output with its expected type.
func Output[T any](in Inputs, stage string) (T, error) {
	var zero T
	v, ok := in[stage]
	if !ok {
		return zero, &types.FlowError{
			Kind:   types.FailurePipelineAbort,
			Detail: fmt.Sprintf("no input from stage %s", stage),
		}
	}
	t, ok := v.(T)
	if !ok {
		return zero, &types.FlowError{
			Kind:   types.FailurePipelineAbort,
			Detail: fmt.Sprintf("stage %s produced %T, want %T", stage, v, zero),
		}
	}
	return t, nil
}
