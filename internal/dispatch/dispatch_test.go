package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedProcessor runs a per-category behavior.
type scriptedProcessor struct {
	mu       sync.Mutex
	behavior map[types.Category]func(ctx context.Context, bucket types.CategoryBucket) ([]types.Record, error)
	seen     []types.Category
}

func (s *scriptedProcessor) Process(ctx context.Context, c types.Category, bucket types.CategoryBucket) ([]types.Record, error) {
	s.mu.Lock()
	s.seen = append(s.seen, c)
	fn := s.behavior[c]
	s.mu.Unlock()
	if fn == nil {
		return echo(c)(ctx, bucket)
	}
	return fn(ctx, bucket)
}

// echo returns one record per identifier.
func echo(c types.Category) func(context.Context, types.CategoryBucket) ([]types.Record, error) {
	return func(ctx context.Context, bucket types.CategoryBucket) ([]types.Record, error) {
		out := make([]types.Record, 0, len(bucket))
		for _, id := range bucket {
			out = append(out, types.NewSpecialistRecord(c, id, "about "+id, nil))
		}
		return out, nil
	}
}

func blockUntilDone(ctx context.Context, _ types.CategoryBucket) ([]types.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func buckets(t *testing.T, m map[types.Category]types.CategoryBucket) types.BucketSet {
	t.Helper()
	bs := types.NewBucketSet()
	for c, b := range m {
		require.NoError(t, bs.Set(c, b))
	}
	return bs
}

func sources(ev types.Evidence) []string {
	var out []string
	for _, r := range ev {
		if r.IsError() {
			out = append(out, "error:"+string(r.Category)+":"+string(r.ErrorKind))
			continue
		}
		out = append(out, r.Source)
	}
	return out
}

func TestDispatch_SkipsEmptyBuckets(t *testing.T) {
	proc := &scriptedProcessor{}
	d := New(proc, time.Second)

	ev, err := d.Dispatch(context.Background(), buckets(t, map[types.Category]types.CategoryBucket{
		types.CategoryWeb:     {"https://a.com", "https://b.com"},
		types.CategoryYouTube: {"https://youtube.com/watch?v=1"},
	}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Category{types.CategoryWeb, types.CategoryYouTube}, proc.seen)
	assert.Equal(t, []string{"https://a.com", "https://b.com", "https://youtube.com/watch?v=1"}, sources(ev))
}

func TestDispatch_AllEmpty(t *testing.T) {
	proc := &scriptedProcessor{}
	ev, err := New(proc, time.Second).Dispatch(context.Background(), types.EmptyBucketSet("degraded"))
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Empty(t, proc.seen)
}

func TestDispatch_IsolatesFailures(t *testing.T) {
	proc := &scriptedProcessor{behavior: map[types.Category]func(context.Context, types.CategoryBucket) ([]types.Record, error){
		types.CategoryInstagram: func(ctx context.Context, _ types.CategoryBucket) ([]types.Record, error) {
			panic("nil map write")
		},
		types.CategoryLinkedIn: func(ctx context.Context, _ types.CategoryBucket) ([]types.Record, error) {
			return nil, &types.ExtractionError{Category: types.CategoryLinkedIn, Err: errors.New("403")}
		},
		types.CategoryX: func(ctx context.Context, _ types.CategoryBucket) ([]types.Record, error) {
			return nil, &types.ParseError{Category: types.CategoryX, Detail: "bad shape"}
		},
		types.CategoryYouTube: blockUntilDone,
	}}
	d := New(proc, 50*time.Millisecond)

	ev, err := d.Dispatch(context.Background(), buckets(t, map[types.Category]types.CategoryBucket{
		types.CategoryWeb:       {"https://a.com"},
		types.CategoryYouTube:   {"https://youtube.com/watch?v=1"},
		types.CategoryInstagram: {"https://instagram.com/p/1"},
		types.CategoryLinkedIn:  {"https://linkedin.com/posts/1"},
		types.CategoryX:         {"https://x.com/a/status/1"},
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://a.com",
		"error:youtube:timeout",
		"error:instagram:panic",
		"error:linkedin:extraction",
		"error:x:parse",
	}, sources(ev))

	n, e := ev.Counts()
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, e)
	for _, r := range ev.Errors() {
		assert.NotEmpty(t, r.Detail)
	}
}

func TestDispatch_OneAlwaysThrows(t *testing.T) {
	for _, failing := range types.AllCategories() {
		t.Run(string(failing), func(t *testing.T) {
			proc := &scriptedProcessor{behavior: map[types.Category]func(context.Context, types.CategoryBucket) ([]types.Record, error){
				failing: func(context.Context, types.CategoryBucket) ([]types.Record, error) {
					return nil, errors.New("always fails")
				},
			}}
			all := make(map[types.Category]types.CategoryBucket)
			for _, c := range types.AllCategories() {
				all[c] = types.CategoryBucket{"https://" + string(c) + ".example/1"}
			}

			ev, err := New(proc, time.Second).Dispatch(context.Background(), buckets(t, all))
			require.NoError(t, err)

			errs := ev.Errors()
			require.Len(t, errs, 1)
			assert.Equal(t, failing, errs[0].Category)
			assert.Len(t, ev.Specialist(), len(types.AllCategories())-1)
			for _, r := range ev.Specialist() {
				assert.NotEqual(t, failing, r.Category)
			}
		})
	}
}

func TestDispatch_TimeoutDoesNotCancelSiblings(t *testing.T) {
	var webFinished atomic.Bool
	proc := &scriptedProcessor{behavior: map[types.Category]func(context.Context, types.CategoryBucket) ([]types.Record, error){
		types.CategoryYouTube: blockUntilDone,
		types.CategoryWeb: func(ctx context.Context, b types.CategoryBucket) ([]types.Record, error) {
			// Outlives the youtube deadline.
			select {
			case <-time.After(80 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			webFinished.Store(true)
			return echo(types.CategoryWeb)(ctx, b)
		},
	}}
	// Web gets a longer budget and must still finish after youtube timed out.
	d := New(&perCategoryTimeout{inner: proc, extra: map[types.Category]time.Duration{types.CategoryWeb: 200 * time.Millisecond}}, 0)

	ev, err := d.Dispatch(context.Background(), buckets(t, map[types.Category]types.CategoryBucket{
		types.CategoryWeb:     {"https://a.com", "https://b.com"},
		types.CategoryYouTube: {"https://youtube.com/watch?v=1"},
	}))
	require.NoError(t, err)
	assert.True(t, webFinished.Load())
	assert.Equal(t, []string{"https://a.com", "https://b.com", "error:youtube:timeout"}, sources(ev))
}

// perCategoryTimeout gives each category its own deadline, defaulting to 40ms.
type perCategoryTimeout struct {
	inner Processor
	extra map[types.Category]time.Duration
}

func (p *perCategoryTimeout) Process(ctx context.Context, c types.Category, b types.CategoryBucket) ([]types.Record, error) {
	d, ok := p.extra[c]
	if !ok {
		d = 40 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return p.inner.Process(ctx, c, b)
}

func TestDispatch_UncooperativeProcessorStillTimesOut(t *testing.T) {
	release := make(chan struct{})
	proc := &scriptedProcessor{behavior: map[types.Category]func(context.Context, types.CategoryBucket) ([]types.Record, error){
		types.CategoryWeb: func(context.Context, types.CategoryBucket) ([]types.Record, error) {
			<-release
			return nil, nil
		},
	}}
	defer close(release)

	ev, err := New(proc, 20*time.Millisecond).Dispatch(context.Background(), buckets(t, map[types.Category]types.CategoryBucket{
		types.CategoryWeb: {"https://a.com"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"error:web:timeout"}, sources(ev))
}

func TestDispatch_CallerCancel(t *testing.T) {
	proc := &scriptedProcessor{behavior: map[types.Category]func(context.Context, types.CategoryBucket) ([]types.Record, error){
		types.CategoryWeb:     blockUntilDone,
		types.CategoryYouTube: blockUntilDone,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	ev, err := New(proc, 5*time.Second).Dispatch(ctx, buckets(t, map[types.Category]types.CategoryBucket{
		types.CategoryWeb:     {"https://a.com"},
		types.CategoryYouTube: {"https://youtube.com/watch?v=1"},
	}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"error:web:canceled", "error:youtube:canceled"}, sources(ev))
}

func TestDispatch_Unsupported(t *testing.T) {
	proc := &scriptedProcessor{behavior: map[types.Category]func(context.Context, types.CategoryBucket) ([]types.Record, error){
		types.CategoryX: func(context.Context, types.CategoryBucket) ([]types.Record, error) {
			return nil, types.ErrUnsupportedCategory
		},
	}}
	ev, err := New(proc, time.Second).Dispatch(context.Background(), buckets(t, map[types.Category]types.CategoryBucket{
		types.CategoryX: {"https://x.com/a"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"error:x:unsupported"}, sources(ev))
}

func TestClassify(t *testing.T) {
	bg := context.Background()
	canceled, cancel := context.WithCancel(bg)
	cancel()

	assert.Equal(t, types.ErrorKindTimeout, classify(bg, context.DeadlineExceeded))
	assert.Equal(t, types.ErrorKindCanceled, classify(canceled, context.Canceled))
	assert.Equal(t, types.ErrorKindParse, classify(bg, &types.ParseError{Detail: "x"}))
	assert.Equal(t, types.ErrorKindExtraction, classify(bg, &types.ExtractionError{Err: errors.New("x")}))
	assert.Equal(t, types.ErrorKindExtraction, classify(bg, errors.New("anything else")))
	assert.Equal(t, types.ErrorKindPanic, classify(bg, &panicError{value: "boom"}))
}
