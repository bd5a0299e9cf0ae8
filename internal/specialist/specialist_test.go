package specialist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"deepresearch/internal/retrieval"
	"deepresearch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	raws  []types.RawRecord
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, bucket types.CategoryBucket) ([]types.RawRecord, error) {
	f.calls++
	return f.raws, f.err
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.response, f.err
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, _, _ string) (string, error) {
	return f.response, f.err
}

func newProcessor(c types.Category, e types.ContentExtractor, opts ...Option) *Processor {
	reg := NewRegistry()
	reg.Register(c, e)
	return NewProcessor(reg, opts...)
}

func TestProcess_OneBatchCallInBucketOrder(t *testing.T) {
	ext := &fakeExtractor{raws: []types.RawRecord{
		{Source: "https://b.com/2", Content: "second"},
		{Source: "https://A.com/1/", Content: "first", Title: "First"},
		{Source: "https://a.com/1", Content: "duplicate"},
	}}
	p := newProcessor(types.CategoryWeb, ext)

	recs, err := p.Process(context.Background(), types.CategoryWeb, types.CategoryBucket{"https://a.com/1", "https://b.com/2"})
	require.NoError(t, err)
	assert.Equal(t, 1, ext.calls)
	require.Len(t, recs, 2)
	assert.Equal(t, "https://a.com/1", recs[0].Source)
	assert.Equal(t, "first", recs[0].Summary)
	assert.Equal(t, "First", recs[0].Metadata["title"])
	assert.Equal(t, "https://b.com/2", recs[1].Source)
	for _, r := range recs {
		assert.Equal(t, types.CategoryWeb, r.Category)
		assert.False(t, r.IsError())
	}
}

func TestProcess_DroppedItemsAreAbsent(t *testing.T) {
	ext := &fakeExtractor{raws: []types.RawRecord{
		{Source: "https://a.com/1", Content: "only this one"},
		{Source: "https://invented.com/x", Content: "not requested"},
	}}
	p := newProcessor(types.CategoryWeb, ext)

	recs, err := p.Process(context.Background(), types.CategoryWeb, types.CategoryBucket{"https://a.com/1", "https://b.com/2", "https://c.com/3"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "https://a.com/1", recs[0].Source)
}

func TestProcess_Errors(t *testing.T) {
	bucket := types.CategoryBucket{"https://a.com/1"}

	t.Run("extraction", func(t *testing.T) {
		p := newProcessor(types.CategoryWeb, &fakeExtractor{err: errors.New("mcp down")})
		_, err := p.Process(context.Background(), types.CategoryWeb, bucket)
		var xerr *types.ExtractionError
		require.ErrorAs(t, err, &xerr)
		assert.Equal(t, types.CategoryWeb, xerr.Category)
	})

	t.Run("missing source", func(t *testing.T) {
		p := newProcessor(types.CategoryWeb, &fakeExtractor{raws: []types.RawRecord{{Content: "x"}}})
		_, err := p.Process(context.Background(), types.CategoryWeb, bucket)
		var perr *types.ParseError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("missing content", func(t *testing.T) {
		p := newProcessor(types.CategoryWeb, &fakeExtractor{raws: []types.RawRecord{{Source: "https://a.com/1", Content: "  "}}})
		_, err := p.Process(context.Background(), types.CategoryWeb, bucket)
		var perr *types.ParseError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("unsupported", func(t *testing.T) {
		p := NewProcessor(NewRegistry())
		_, err := p.Process(context.Background(), types.CategoryX, bucket)
		assert.ErrorIs(t, err, types.ErrUnsupportedCategory)
	})

	t.Run("deadline passes through", func(t *testing.T) {
		p := newProcessor(types.CategoryWeb, &fakeExtractor{err: fmt.Errorf("fetch: %w", context.DeadlineExceeded)})
		_, err := p.Process(context.Background(), types.CategoryWeb, bucket)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		var xerr *types.ExtractionError
		assert.False(t, errors.As(err, &xerr))
	})
}

func TestProcess_EmptyBucket(t *testing.T) {
	ext := &fakeExtractor{}
	p := newProcessor(types.CategoryWeb, ext)
	recs, err := p.Process(context.Background(), types.CategoryWeb, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 0, ext.calls)
}

func TestProcess_Summarizer(t *testing.T) {
	ext := &fakeExtractor{raws: []types.RawRecord{
		{Source: "https://youtube.com/watch?v=1", Content: "transcript", Title: "Launch"},
		{Source: "https://youtube.com/watch?v=2", Content: "transcript 2"},
	}}
	llm := &fakeLLM{response: `[
		{"category": "youtube", "source": "https://youtube.com/watch?v=2", "summary": "- two", "metadata": {}},
		{"category": "youtube", "source": "https://youtube.com/watch?v=9", "summary": "- invented", "metadata": {}},
		{"category": "youtube", "source": "https://youtube.com/watch?v=1", "summary": "- one", "metadata": {"channel": "Apple"}}
	]`}
	p := newProcessor(types.CategoryYouTube, ext, WithSummarizer(llm))

	recs, err := p.Process(context.Background(), types.CategoryYouTube,
		types.CategoryBucket{"https://youtube.com/watch?v=1", "https://youtube.com/watch?v=2"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "- one", recs[0].Summary)
	assert.Equal(t, "Apple", recs[0].Metadata["channel"])
	assert.Equal(t, "Launch", recs[0].Metadata["title"])
	assert.Equal(t, "- two", recs[1].Summary)
}

func TestProcess_SummarizerMalformed(t *testing.T) {
	ext := &fakeExtractor{raws: []types.RawRecord{{Source: "https://a.com/1", Content: "c"}}}
	p := newProcessor(types.CategoryWeb, ext, WithSummarizer(&fakeLLM{response: `[{"platform": "web"}]`}))

	_, err := p.Process(context.Background(), types.CategoryWeb, types.CategoryBucket{"https://a.com/1"})
	var perr *types.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestProcess_SummarizerFailure(t *testing.T) {
	ext := &fakeExtractor{raws: []types.RawRecord{{Source: "https://a.com/1", Content: "c"}}}
	p := newProcessor(types.CategoryWeb, ext, WithSummarizer(&fakeLLM{err: errors.New("503")}))

	_, err := p.Process(context.Background(), types.CategoryWeb, types.CategoryBucket{"https://a.com/1"})
	var xerr *types.ExtractionError
	require.ErrorAs(t, err, &xerr)
}

func TestProcess_TruncatesSummary(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	ext := &fakeExtractor{raws: []types.RawRecord{{Source: "https://a.com/1", Content: string(long)}}}
	p := newProcessor(types.CategoryWeb, ext, WithMaxContentChars(10))

	recs, err := p.Process(context.Background(), types.CategoryWeb, types.CategoryBucket{"https://a.com/1"})
	require.NoError(t, err)
	assert.Contains(t, recs[0].Summary, "[...truncated...]")
}

func TestRegistry_Categories(t *testing.T) {
	reg := NewRegistry()
	reg.Register(types.CategoryX, &fakeExtractor{})
	reg.Register(types.CategoryWeb, &fakeExtractor{})
	assert.Equal(t, []types.Category{types.CategoryWeb, types.CategoryX}, reg.Categories())
}

func testFetcher() *retrieval.Fetcher {
	return retrieval.NewFetcher(retrieval.FetcherConfig{
		UserAgent:   "test",
		Timeout:     5 * time.Second,
		RatePerHost: 1000,
		Burst:       10,
	}, nil)
}

func TestWebExtractor(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><head><title>iPhone 17</title></head><body><h1>Launch</h1><p>September event.</p></body></html>`)
		case "/empty":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	ext := NewWebExtractor(testFetcher(), 1000)
	raws, err := ext.Extract(context.Background(), types.CategoryBucket{ts.URL + "/article", ts.URL + "/missing", ts.URL + "/empty"})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, ts.URL+"/article", raws[0].Source)
	assert.Equal(t, "iPhone 17", raws[0].Title)
	assert.Contains(t, raws[0].Content, "September event.")
}

func TestWebExtractor_AllFail(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewWebExtractor(testFetcher(), 0).Extract(context.Background(), types.CategoryBucket{ts.URL + "/a"})
	assert.Error(t, err)
}

const youtubePage = `<html><head>
<title>Ignored - YouTube</title>
<meta property="og:title" content="iPhone 17 hands-on">
<meta property="og:description" content="First look at the new lineup.">
<meta property="og:site_name" content="YouTube">
<meta property="og:type" content="video.other">
<meta itemprop="duration" content="PT12M3S">
<meta itemprop="uploadDate" content="2025-09-09">
</head><body>
<span itemprop="author"><link itemprop="name" content="Tech Channel"></span>
</body></html>`

func TestParseSocialPage_YouTube(t *testing.T) {
	rec, err := parseSocialPage(types.CategoryYouTube, "https://youtube.com/watch?v=1", youtubePage)
	require.NoError(t, err)
	assert.Equal(t, "iPhone 17 hands-on", rec.Title)
	assert.Equal(t, "iPhone 17 hands-on\n\nFirst look at the new lineup.", rec.Content)
	assert.Equal(t, "YouTube", rec.Metadata["site_name"])
	assert.Equal(t, "video.other", rec.Metadata["media_type"])
	assert.Equal(t, "PT12M3S", rec.Metadata["duration"])
	assert.Equal(t, "2025-09-09", rec.Metadata["published"])
	assert.Equal(t, "Tech Channel", rec.Metadata["channel"])
	assert.Equal(t, "youtube", rec.Metadata["platform"])
}

func TestParseSocialPage_FallsBackToBodyText(t *testing.T) {
	rec, err := parseSocialPage(types.CategoryLinkedIn, "https://linkedin.com/posts/1",
		`<html><body><nav>menu</nav><p>Excited to   announce</p><script>x()</script></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Excited to announce", rec.Content)
}

type stubRenderer struct {
	html  string
	calls int
}

func (s *stubRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	s.calls++
	return s.html, nil
}

func TestSocialExtractor_UsesRenderer(t *testing.T) {
	r := &stubRenderer{html: `<html><head><meta property="og:description" content="A post"></head></html>`}
	ext := NewSocialExtractor(types.CategoryInstagram, testFetcher(), r, 500)

	raws, err := ext.Extract(context.Background(), types.CategoryBucket{"https://www.instagram.com/p/abc"})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, "A post", raws[0].Content)
	assert.Equal(t, true, raws[0].Metadata["rendered"])
}
