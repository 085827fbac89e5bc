// Package search implements the regional search service. It fans a
// region's configured searches out concurrently, folds each tool's
// response into the matching result bucket with within-bucket
// deduplication, and applies a PubMed fallback policy: a low-yield
// guideline search falls back to PubMed, and India additionally always
// searches PubMed regardless of yield.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/internal/region"
	"github.com/clinical-cds/orchestrator/internal/rpc"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// TopK configures how many hits survive truncation per bucket, after
// deduplication, one limit per source bucket.
type TopK struct {
	Guidelines int
	CKS        int
	BNF        int
	PubMed     int
}

// Caller dispatches a single tool call by name, the one operation search
// needs from the tool router. Depending on this narrow interface rather
// than *router.Router directly keeps the service testable against a fake.
type Caller interface {
	Call(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error)
}

// Service executes regional searches through a Caller.
type Service struct {
	caller  Caller
	topK    TopK
	metrics *observability.Metrics
}

// NewService builds a search Service over caller, truncating each bucket
// to the limits in topK.
func NewService(caller Caller, topK TopK) *Service {
	return &Service{caller: caller, topK: topK}
}

// SetMetrics attaches metrics this service's searches report fan-out
// outcomes and result counts against.
func (s *Service) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// hitEnvelope is the generic shape a knowledge-server search tool returns:
// one of a handful of list-bearing keys depending on which kind of search
// ran, each entry a loosely-typed record with at least title/url.
type hitEnvelope struct {
	Summaries  []hitRecord `json:"summaries"`
	Guidelines []hitRecord `json:"guidelines"`
	Topics     []hitRecord `json:"topics"`
	Articles   []hitRecord `json:"articles"`
	Success    bool        `json:"success"`
}

type hitRecord struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

func (e hitEnvelope) records() []hitRecord {
	switch {
	case len(e.Summaries) > 0:
		return e.Summaries
	case len(e.Guidelines) > 0:
		return e.Guidelines
	case len(e.Topics) > 0:
		return e.Topics
	case len(e.Articles) > 0:
		return e.Articles
	default:
		return nil
	}
}

func toHits(source clinical.ResourceType, text string) []clinical.Hit {
	if text == "" {
		return nil
	}
	var envelope hitEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return nil
	}
	records := envelope.records()
	hits := make([]clinical.Hit, 0, len(records))
	for _, rec := range records {
		raw, _ := json.Marshal(rec)
		hits = append(hits, clinical.Hit{
			Source:    source,
			Title:     rec.Title,
			URL:       rec.URL,
			Reference: rec.Reference,
			Raw:       raw,
		})
	}
	return hits
}

// searchJob pairs a region's search config with the resource type its
// bucket is tagged with, so the worker can build a Hit from a generic
// response envelope.
type searchJob struct {
	config clinical.SearchConfig
	source clinical.ResourceType
}

var resultKeyToSource = map[string]clinical.ResourceType{
	"guidelines":      clinical.ResourceNICE,
	"cks_topics":      clinical.ResourceCKS,
	"bnf_summaries":   clinical.ResourceBNFSummary,
	"pubmed_articles": clinical.ResourcePubMed,
}

// SearchByRegion runs every search configured for cfg against scenario and
// returns the merged, deduplicated, top-K-truncated result set.
func (s *Service) SearchByRegion(ctx context.Context, regionKey string, cfg clinical.RegionConfig, scenario string) clinical.SearchResultSet {
	jobs := make([]searchJob, 0, len(cfg.SearchConfigs))
	for _, sc := range cfg.SearchConfigs {
		source, ok := resultKeyToSource[sc.ResultKey]
		if !ok {
			source = clinical.ResourcePatientInfo
		}
		jobs = append(jobs, searchJob{config: sc, source: source})
	}

	buckets := &resultBuckets{}
	s.runJobs(ctx, jobs, scenario, buckets)

	set := buckets.toSet()

	threshold := cfg.EffectiveThreshold()
	needsFallback := cfg.PubMedFallback && set.TotalGuidelines() < threshold
	if needsFallback {
		s.searchPubMed(ctx, scenario, buckets)
	}
	if region.IsIndia(regionKey) && !needsFallback {
		s.searchPubMed(ctx, scenario, buckets)
	}

	set = buckets.toSet()
	set.Guidelines = truncate(set.Guidelines, s.topK.Guidelines)
	set.CKSTopics = truncate(set.CKSTopics, s.topK.CKS)
	set.BNFSummaries = truncate(set.BNFSummaries, s.topK.BNF)
	set.PubMedArticles = truncate(set.PubMedArticles, s.topK.PubMed)

	if s.metrics != nil {
		s.metrics.SearchResultCount.WithLabelValues("guidelines").Observe(float64(len(set.Guidelines)))
		s.metrics.SearchResultCount.WithLabelValues("cks_topics").Observe(float64(len(set.CKSTopics)))
		s.metrics.SearchResultCount.WithLabelValues("bnf_summaries").Observe(float64(len(set.BNFSummaries)))
		s.metrics.SearchResultCount.WithLabelValues("pubmed_articles").Observe(float64(len(set.PubMedArticles)))
	}
	return set
}

func (s *Service) recordFanout(resultKey, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchFanoutCounter.WithLabelValues(resultKey, status).Inc()
}

// runJobs executes every configured search concurrently and folds each
// outcome into buckets as it completes; a failing search contributes a
// warning instead of aborting the batch.
func (s *Service) runJobs(ctx context.Context, jobs []searchJob, scenario string, buckets *resultBuckets) {
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job searchJob) {
			defer wg.Done()
			args := job.config.RenderArgs(scenario)
			result, err := s.caller.Call(ctx, job.config.ToolName, args)
			if err != nil {
				buckets.addWarning(fmt.Sprintf("search %s failed: %v", job.config.ToolName, err))
				s.recordFanout(job.config.ResultKey, "error")
				return
			}
			hits := toHits(job.source, result.Text())
			buckets.merge(job.config.ResultKey, hits, job.config.Deduplicate)
			s.recordFanout(job.config.ResultKey, "success")
		}(job)
	}
	wg.Wait()
}

func (s *Service) searchPubMed(ctx context.Context, scenario string, buckets *resultBuckets) {
	result, err := s.caller.Call(ctx, "search_pubmed", map[string]any{
		"query":       scenario,
		"max_results": 5,
	})
	if err != nil {
		buckets.addWarning(fmt.Sprintf("pubmed fallback search failed: %v", err))
		return
	}
	hits := toHits(clinical.ResourcePubMed, result.Text())
	buckets.merge("pubmed_articles", hits, true)
}

func truncate(hits []clinical.Hit, k int) []clinical.Hit {
	if k <= 0 || len(hits) <= k {
		return hits
	}
	return hits[:k]
}

// resultBuckets accumulates hits per result key under a mutex, since
// multiple searches may target the same bucket (e.g. two guideline
// sources both feeding "guidelines").
type resultBuckets struct {
	mu       sync.Mutex
	byKey    map[string][]clinical.Hit
	warnings []string
}

func (b *resultBuckets) merge(resultKey string, hits []clinical.Hit, dedupe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byKey == nil {
		b.byKey = make(map[string][]clinical.Hit)
	}
	existing := b.byKey[resultKey]
	if !dedupe {
		b.byKey[resultKey] = append(existing, hits...)
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, h := range existing {
		seen[h.IdentityKey()] = true
	}
	for _, h := range hits {
		key := h.IdentityKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		existing = append(existing, h)
	}
	b.byKey[resultKey] = existing
}

func (b *resultBuckets) addWarning(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnings = append(b.warnings, msg)
}

func (b *resultBuckets) toSet() clinical.SearchResultSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return clinical.SearchResultSet{
		Guidelines:     append([]clinical.Hit{}, b.byKey["guidelines"]...),
		CKSTopics:      append([]clinical.Hit{}, b.byKey["cks_topics"]...),
		BNFSummaries:   append([]clinical.Hit{}, b.byKey["bnf_summaries"]...),
		PubMedArticles: append([]clinical.Hit{}, b.byKey["pubmed_articles"]...),
		Warnings:       append([]string{}, b.warnings...),
	}
}
