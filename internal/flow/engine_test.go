package flow

import (
	"context"
	"errors"
	"testing"

	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func constant(v any) RunFunc {
	return func(ctx context.Context, in Inputs) (any, error) { return v, nil }
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
		errMsg string
	}{
		{"no stages", nil, "no stages"},
		{"empty name", []Stage{{Run: constant(1)}}, "must not be empty"},
		{"no run", []Stage{{Name: "a"}}, "no run function"},
		{"duplicate", []Stage{{Name: "a", Run: constant(1)}, {Name: "a", Run: constant(1)}}, "duplicate stage"},
		{"unknown dep", []Stage{{Name: "a", After: []string{"zz"}, Run: constant(1)}}, "unknown stage zz"},
		{"no root", []Stage{
			{Name: "a", After: []string{"b"}, Run: constant(1)},
			{Name: "b", After: []string{"a"}, Run: constant(1)},
		}, "no root"},
		{"cycle", []Stage{
			{Name: "root", Run: constant(1)},
			{Name: "a", After: []string{"root", "c"}, Run: constant(1)},
			{Name: "b", After: []string{"a"}, Run: constant(1)},
			{Name: "c", After: []string{"b"}, Run: constant(1)},
		}, "cycle detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.stages...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEngine_OrderAndJoin(t *testing.T) {
	var ran []string
	record := func(name string) RunFunc {
		return func(ctx context.Context, in Inputs) (any, error) {
			ran = append(ran, name)
			return name, nil
		}
	}

	// Declared out of order on purpose: join must wait for both branches.
	e, err := New(
		Stage{Name: "join", After: []string{"left", "right"}, Run: func(ctx context.Context, in Inputs) (any, error) {
			ran = append(ran, "join")
			l, err := Output[string](in, "left")
			if err != nil {
				return nil, err
			}
			r, err := Output[string](in, "right")
			if err != nil {
				return nil, err
			}
			return l + "+" + r, nil
		}},
		Stage{Name: "right", After: []string{"root"}, Run: record("right")},
		Stage{Name: "root", Run: record("root")},
		Stage{Name: "left", After: []string{"root"}, Run: record("left")},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "right", "left", "join"}, e.Order())

	x, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "right", "left", "join"}, ran)

	out, ok := x.Output("join")
	require.True(t, ok)
	assert.Equal(t, "left+right", out)
	for _, name := range e.Order() {
		assert.Equal(t, StateCompleted, x.State(name))
	}
}

func TestEngine_SeedReachesRoots(t *testing.T) {
	e, err := New(Stage{Name: "root", Run: func(ctx context.Context, in Inputs) (any, error) {
		return Output[string](in, SeedKey)
	}})
	require.NoError(t, err)

	x, err := e.Execute(context.Background(), "hello")
	require.NoError(t, err)
	out, _ := x.Output("root")
	assert.Equal(t, "hello", out)
}

func TestEngine_StageFailureAbortsRun(t *testing.T) {
	downstreamRan := false
	e, err := New(
		Stage{Name: "a", Run: func(ctx context.Context, in Inputs) (any, error) {
			return nil, errors.New("disk on fire")
		}},
		Stage{Name: "b", After: []string{"a"}, Run: func(ctx context.Context, in Inputs) (any, error) {
			downstreamRan = true
			return nil, nil
		}},
	)
	require.NoError(t, err)

	var events []StageEvent
	e.Observe(func(ev StageEvent) { events = append(events, ev) })

	x, err := e.Execute(context.Background(), nil)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.FailurePipelineAbort, fe.Kind)
	assert.Equal(t, "a", fe.Stage)
	assert.Contains(t, fe.Detail, "disk on fire")

	assert.False(t, downstreamRan)
	assert.Equal(t, StateFailed, x.State("a"))
	assert.Equal(t, StatePending, x.State("b"))

	require.Len(t, events, 2)
	assert.Equal(t, StateRunning, events[0].State)
	assert.Equal(t, StateFailed, events[1].State)
}

func TestEngine_PanicBecomesPipelineAbort(t *testing.T) {
	e, err := New(Stage{Name: "boom", Run: func(ctx context.Context, in Inputs) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	}})
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), nil)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.FailurePipelineAbort, fe.Kind)
	assert.Contains(t, fe.Detail, "panic in stage boom")
}

func TestEngine_SynthesisErrorKind(t *testing.T) {
	e, err := New(Stage{Name: "synthesize", Run: func(ctx context.Context, in Inputs) (any, error) {
		return nil, &types.SynthesisError{Err: errors.New("503")}
	}})
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), nil)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureSynthesis, fe.Kind)
	var serr *types.SynthesisError
	assert.ErrorAs(t, err, &serr)
}

func TestEngine_TypedHandoffMismatch(t *testing.T) {
	e, err := New(
		Stage{Name: "a", Run: constant(42)},
		Stage{Name: "b", After: []string{"a"}, Run: func(ctx context.Context, in Inputs) (any, error) {
			return Output[string](in, "a")
		}},
	)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), nil)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.FailurePipelineAbort, fe.Kind)
	assert.Equal(t, "b", fe.Stage)
	assert.Contains(t, fe.Detail, "produced int, want string")
}

func TestEngine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e, err := New(
		Stage{Name: "a", Run: func(ctx context.Context, in Inputs) (any, error) {
			cancel()
			return 1, nil
		}},
		Stage{Name: "b", After: []string{"a"}, Run: constant(2)},
	)
	require.NoError(t, err)

	x, err := e.Execute(ctx, nil)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureCanceled, fe.Kind)
	assert.Equal(t, "b", fe.Stage)
	assert.Equal(t, StateCompleted, x.State("a"))
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatePending, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateCompleted))
	assert.NoError(t, ValidateTransition(StateRunning, StateFailed))

	assert.Error(t, ValidateTransition(StatePending, StateCompleted))
	assert.Error(t, ValidateTransition(StateCompleted, StateRunning))
	assert.Error(t, ValidateTransition(StateFailed, StateRunning))
	assert.Error(t, ValidateTransition("bogus", StateRunning))

	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}
