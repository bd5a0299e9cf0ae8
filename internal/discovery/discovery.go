// Package discovery turns a free-text query into a deduplicated, capped,
// platform-classified BucketSet.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

// Config holds discovery settings.
type Config struct {
	Mode             string // rules or llm
	BucketCap        int
	MaxSearchQueries int
	ResultsPerQuery  int
}

// ConfigFrom extracts discovery settings from the application config.
func ConfigFrom(cfg config.DiscoveryConfig) Config {
	return Config{
		Mode:             cfg.Mode,
		BucketCap:        cfg.BucketCap,
		MaxSearchQueries: cfg.MaxSearchQueries,
		ResultsPerQuery:  cfg.ResultsPerQuery,
	}
}

// Stage is the discovery stage of the pipeline.
type Stage struct {
	searcher types.Searcher
	llm      types.LLMClient
	cfg      Config
}

// New creates a discovery stage. llm may be nil in rules mode.
func New(searcher types.Searcher, llm types.LLMClient, cfg Config) *Stage {
	if cfg.Mode == "" {
		cfg.Mode = config.DiscoveryModeRules
	}
	if cfg.BucketCap <= 0 {
		cfg.BucketCap = 3
	}
	if cfg.MaxSearchQueries <= 0 {
		cfg.MaxSearchQueries = 1
	}
	if cfg.ResultsPerQuery <= 0 {
		cfg.ResultsPerQuery = 10
	}
	return &Stage{searcher: searcher, llm: llm, cfg: cfg}
}

// Discover returns a valid BucketSet for query. On degradation the set is
// all-empty, carries a diagnostic, and the error is a *types.DiscoveryError.
// Caller cancellation returns the context error.
func (s *Stage) Discover(ctx context.Context, query string) (types.BucketSet, error) {
	timer := logging.StartTimer(logging.CategoryDiscovery, "Discover")
	defer timer.Stop()

	query = strings.TrimSpace(query)
	if query == "" {
		return s.degrade(types.FailureDiscoveryDegraded, errors.New("empty query"))
	}

	candidates, err := s.search(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.EmptyBucketSet(ctxErr.Error()), ctxErr
		}
		return s.degrade(types.FailureDiscoveryDegraded, err)
	}
	logging.Discovery("Collected %d candidates for %q", len(candidates), query)

	var bs types.BucketSet
	if s.cfg.Mode == config.DiscoveryModeLLM && s.llm != nil && len(candidates) > 0 {
		bs, err = s.classifyWithLLM(ctx, query, candidates)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.EmptyBucketSet(ctxErr.Error()), ctxErr
			}
			return s.degrade(types.FailureClassificationError, err)
		}
	} else {
		urls := make([]string, 0, len(candidates))
		for _, c := range candidates {
			urls = append(urls, c.URL)
		}
		var invalid int
		bs, invalid = Bucketize(urls, s.cfg.BucketCap)
		if invalid > 0 {
			logging.DiscoveryDebug("Dropped %d invalid identifiers", invalid)
		}
	}

	if err := schema.ValidateBucketSet(bs, s.cfg.BucketCap); err != nil {
		return s.degrade(types.FailureClassificationError, err)
	}

	for _, c := range types.AllCategories() {
		if n := len(bs.Get(c)); n > 0 {
			logging.DiscoveryDebug("Bucket %s: %d", c, n)
		}
	}
	logging.Discovery("Discovered %d identifiers", bs.Total())
	return bs, nil
}

// Queries returns the retrieval queries issued for query: the query itself
// followed by site-scoped variants for each non-catch-all category.
func (s *Stage) Queries(query string) []string {
	out := []string{query}
	for _, c := range types.AllCategories() {
		if len(out) >= s.cfg.MaxSearchQueries {
			break
		}
		if domain := SiteDomain(c); domain != "" {
			out = append(out, fmt.Sprintf("%s site:%s", query, domain))
		}
	}
	return out
}

// search runs every query and merges results in first-seen order. It fails
// only when every query failed.
func (s *Stage) search(ctx context.Context, query string) ([]types.SearchResult, error) {
	var (
		merged []types.SearchResult
		errs   []error
		seen   = make(map[string]bool)
	)

	queries := s.Queries(query)
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := s.searcher.Search(ctx, q, s.cfg.ResultsPerQuery)
		if err != nil {
			logging.DiscoveryWarn("Search %q failed: %v", q, err)
			errs = append(errs, fmt.Errorf("search %q: %w", q, err))
			continue
		}
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
		}
	}

	if len(errs) == len(queries) {
		return nil, fmt.Errorf("content retrieval unreachable: %w", errors.Join(errs...))
	}
	return merged, nil
}

// classifyWithLLM asks the completion service for a BucketSet, validates it
// and re-buckets every returned identifier with the domain rules. Identifiers
// that were not among the candidates are dropped.
func (s *Stage) classifyWithLLM(ctx context.Context, query string, candidates []types.SearchResult) (types.BucketSet, error) {
	prompt := buildClassifierPrompt(query, candidates, s.cfg.BucketCap)
	resp, err := s.llm.CompleteWithSystem(ctx, classifierSystemPrompt, prompt)
	if err != nil {
		return types.BucketSet{}, fmt.Errorf("classifier completion: %w", err)
	}

	decoded, err := schema.DecodeBucketSet(resp)
	if err != nil {
		return types.BucketSet{}, fmt.Errorf("classifier output: %w", err)
	}

	found := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if id, err := schema.NormalizeIdentifier(cand.URL); err == nil {
			found[id] = true
		}
	}

	var ids []string
	for _, c := range types.AllCategories() {
		for _, raw := range decoded.Get(c) {
			id, err := schema.NormalizeIdentifier(raw)
			if err != nil || !found[id] {
				logging.DiscoveryDebug("Classifier returned %s, not a candidate: dropped", raw)
				continue
			}
			if Classify(id) != c {
				logging.DiscoveryDebug("Reclassified %s from %s to %s", id, c, Classify(id))
			}
			ids = append(ids, id)
		}
	}
	bs, _ := Bucketize(ids, s.cfg.BucketCap)
	return bs, nil
}

func (s *Stage) degrade(kind types.FailureKind, err error) (types.BucketSet, error) {
	derr := &types.DiscoveryError{Kind: kind, Err: err}
	logging.DiscoveryWarn("Discovery degraded: %v", derr)
	return types.EmptyBucketSet(derr.Error()), derr
}
