package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/flow"
	"deepresearch/internal/store"
	"deepresearch/internal/types"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// useTempConfig points --config at a fresh file for the test.
func useTempConfig(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	path := filepath.Join(t.TempDir(), "config.yaml")
	configPath = path
	t.Cleanup(func() { configPath = "" })
	return path
}

func captureOutput(cmd *cobra.Command) *bytes.Buffer {
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return &buf
}

func TestClassifyCmd(t *testing.T) {
	logger = zap.NewNop()
	cmd := &cobra.Command{}
	out := captureOutput(cmd)

	err := classifyCmd.RunE(cmd, []string{"https://youtu.be/abc", "Twitter.com/someone", "https://example.com/post/"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "youtube    https://youtu.be/abc")
	assert.Contains(t, out.String(), "x          https://twitter.com/someone")
	assert.Contains(t, out.String(), "web        https://example.com/post")
}

func TestConfigInitAndShow(t *testing.T) {
	path := useTempConfig(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-1234567890")

	cmd := &cobra.Command{}
	out := captureOutput(cmd)

	require.NoError(t, configInitCmd.RunE(cmd, nil))
	assert.FileExists(t, path)
	assert.Contains(t, out.String(), "Wrote "+path)

	// Idempotency guard: a second init refuses to overwrite
	err := configInitCmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out.Reset()
	require.NoError(t, configShowCmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "provider: openai")
	assert.Contains(t, out.String(), "sk-t****7890")
	assert.NotContains(t, out.String(), "sk-test-1234567890")
}

func TestCacheStatsAndClear(t *testing.T) {
	path := useTempConfig(t)
	dbPath := filepath.Join(filepath.Dir(path), "cache.db")

	cfg := config.DefaultConfig()
	cfg.Cache.Path = dbPath
	require.NoError(t, cfg.Save(path))

	st, err := store.Open(store.DriverModernc, dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "search", "a", "[]", time.Hour))
	require.NoError(t, st.Put(ctx, "search", "b", "[]", time.Hour))
	require.NoError(t, st.Put(ctx, "extract", "c", "{}", time.Hour))
	require.NoError(t, st.Close())

	cmd := &cobra.Command{}
	out := captureOutput(cmd)

	require.NoError(t, cacheStatsCmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "Entries: 3 (0 expired)")
	assert.Contains(t, out.String(), "search   2")
	assert.Contains(t, out.String(), "extract  1")

	out.Reset()
	cacheNamespace = "search"
	t.Cleanup(func() { cacheNamespace = "" })
	require.NoError(t, cacheClearCmd.RunE(cmd, nil))
	assert.Contains(t, out.String(), "Removed 2 cache entries")
}

func TestCacheStats_MemoryCacheRejected(t *testing.T) {
	path := useTempConfig(t)
	cfg := config.DefaultConfig()
	cfg.Cache.Driver = "memory"
	require.NoError(t, cfg.Save(path))

	_, err := openCacheStore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no persistent cache")
}

type stubDiscoverer struct{}

func (stubDiscoverer) Discover(ctx context.Context, query string) (types.BucketSet, error) {
	bs := types.NewBucketSet()
	_ = bs.Set(types.CategoryWeb, types.CategoryBucket{"https://example.com/a"})
	return bs, nil
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(ctx context.Context, bs types.BucketSet) (types.Evidence, error) {
	return types.Evidence{
		types.NewSpecialistRecord(types.CategoryWeb, "https://example.com/a", "summary", nil),
		types.NewErrorRecord(types.CategoryYouTube, types.ErrorKindTimeout, "deadline exceeded"),
	}, nil
}

type stubSynthesizer struct{ err error }

func (s stubSynthesizer) Synthesize(ctx context.Context, query string, ev types.Evidence) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "## Executive Summary\nAnswer for " + query, nil
}

// stubPipeline replaces the real wiring for one test.
func stubPipeline(t *testing.T, synth stubSynthesizer) {
	t.Helper()
	research, err := flow.NewDeepResearch(stubDiscoverer{}, stubDispatcher{}, synth)
	require.NoError(t, err)

	orig := newPipeline
	newPipeline = func(ctx context.Context, cfg *config.Config) (*pipeline, error) {
		return &pipeline{research: research}, nil
	}
	t.Cleanup(func() { newPipeline = orig })
}

func setRunFlags(t *testing.T, asJSON, raw bool) {
	t.Helper()
	jsonOutput, rawOutput = asJSON, raw
	t.Cleanup(func() { jsonOutput, rawOutput = false, false })
}

func TestRunResearch_PrintsReport(t *testing.T) {
	useTempConfig(t)
	stubPipeline(t, stubSynthesizer{})
	setRunFlags(t, false, true)

	cmd := &cobra.Command{}
	out := captureOutput(cmd)

	require.NoError(t, runResearch(cmd, []string{"iphone", "17"}))
	assert.Contains(t, out.String(), "Answer for iphone 17")
	assert.Contains(t, out.String(), "1 evidence records, 1 failed branches")
	assert.Contains(t, out.String(), "youtube: timeout: deadline exceeded")
}

func TestRunResearch_JSON(t *testing.T) {
	useTempConfig(t)
	stubPipeline(t, stubSynthesizer{})
	setRunFlags(t, true, false)

	cmd := &cobra.Command{}
	out := captureOutput(cmd)

	require.NoError(t, runResearch(cmd, []string{"q"}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "q", got["query"])
	assert.EqualValues(t, 1, got["evidence_count"])
	assert.EqualValues(t, 1, got["error_count"])
	assert.Len(t, got["evidence"], 2)
}

func TestRunResearch_FailurePrintsFlowError(t *testing.T) {
	useTempConfig(t)
	stubPipeline(t, stubSynthesizer{err: &types.SynthesisError{Err: errors.New("service down")}})
	setRunFlags(t, false, true)

	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := runResearch(cmd, []string{"q"})
	var failed errRunFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, types.FailureSynthesis, failed.kind)

	var fe map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &fe))
	assert.Equal(t, "synthesis_error", fe["kind"])
	assert.Equal(t, "synthesize", fe["stage"])
	assert.Contains(t, stderr.String(), "research failed at synthesize")
}

func TestRunResearch_EmptyQuery(t *testing.T) {
	useTempConfig(t)
	err := runResearch(&cobra.Command{}, []string{"  "})
	assert.Error(t, err)
}

func TestBuildPipeline_OllamaMemoryCache(t *testing.T) {
	logger = zap.NewNop()
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	cfg.Cache.Driver = "memory"
	cfg.Discovery.Mode = config.DiscoveryModeLLM
	cfg.Specialist.Summarize = true

	p, err := buildPipeline(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, p.research)
	assert.Nil(t, p.store)
	assert.Nil(t, p.renderer)
	assert.NoError(t, p.Close())
}

func TestBuildPipeline_PersistentCacheAndBrowser(t *testing.T) {
	logger = zap.NewNop()
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "ollama"
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")
	cfg.Browser.Enabled = true

	p, err := buildPipeline(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, p.store)
	// The browser starts lazily, so nothing was launched yet.
	assert.NotNil(t, p.renderer)
	assert.False(t, p.renderer.IsConnected())
	assert.NoError(t, p.Close())
}

func TestBuildPipeline_InvalidConfig(t *testing.T) {
	logger = zap.NewNop()
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = ""

	_, err := buildPipeline(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRendersCategory(t *testing.T) {
	names := []string{"instagram", "bogus", "x"}
	assert.True(t, rendersCategory(names, types.CategoryInstagram))
	assert.True(t, rendersCategory(names, types.CategoryX))
	assert.False(t, rendersCategory(names, types.CategoryLinkedIn))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcd****wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}
