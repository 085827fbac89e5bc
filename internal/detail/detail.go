// Package detail fetches full document content for the top-K hits produced
// by a regional search, in parallel via a source-specific detail tool,
// tolerating per-item failure.
package detail

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clinical-cds/orchestrator/internal/rpc"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// Caller dispatches a single tool call by name.
type Caller interface {
	Call(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error)
}

// toolForSource names the detail tool used to fetch full content for a
// hit, by the resource it came from.
var toolForSource = map[clinical.ResourceType]string{
	clinical.ResourceNICE:       "get_guideline_details",
	clinical.ResourceCKS:        "get_cks_topic",
	clinical.ResourceBNFSummary: "get_bnf_treatment_summary",
	clinical.ResourceFOGSI:      "get_fogsi_guideline_content",
}

// Fetcher fetches detail content for search hits.
type Fetcher struct {
	caller Caller
	logger *slog.Logger
}

// NewFetcher builds a Fetcher over caller.
func NewFetcher(caller Caller) *Fetcher {
	return &Fetcher{caller: caller, logger: slog.Default().With("component", "detail")}
}

// FetchAll fetches detail content for every hit in set's Guidelines,
// CKSTopics, and BNFSummaries buckets concurrently. A hit with no known
// detail tool, or whose fetch fails, is dropped from its bucket with a
// logged warning; siblings are unaffected.
func (f *Fetcher) FetchAll(ctx context.Context, set clinical.SearchResultSet) clinical.DetailSet {
	var wg sync.WaitGroup
	var result clinical.DetailSet

	fetchBucket := func(hits []clinical.Hit, dst *[]clinical.Detail) {
		defer wg.Done()
		var mu sync.Mutex
		var inner sync.WaitGroup
		for _, hit := range hits {
			inner.Add(1)
			go func(hit clinical.Hit) {
				defer inner.Done()
				d, ok := f.fetchOne(ctx, hit)
				if !ok {
					return
				}
				mu.Lock()
				*dst = append(*dst, d)
				mu.Unlock()
			}(hit)
		}
		inner.Wait()
	}

	wg.Add(3)
	go fetchBucket(set.Guidelines, &result.Guidelines)
	go fetchBucket(set.CKSTopics, &result.CKSTopics)
	go fetchBucket(set.BNFSummaries, &result.BNFSummaries)
	wg.Wait()

	return result
}

func (f *Fetcher) fetchOne(ctx context.Context, hit clinical.Hit) (clinical.Detail, bool) {
	tool, ok := toolForSource[hit.Source]
	if !ok {
		f.logger.Warn("no detail tool known for source, skipping", "source", hit.Source, "title", hit.Title)
		return clinical.Detail{}, false
	}

	args := map[string]any{}
	if hit.Reference != "" {
		args["reference"] = hit.Reference
	}
	if hit.URL != "" {
		args["url"] = hit.URL
	}
	if hit.Title != "" {
		args["title"] = hit.Title
	}

	result, err := f.caller.Call(ctx, tool, args)
	if err != nil {
		f.logger.Warn("detail fetch failed, dropping hit", "tool", tool, "title", hit.Title, "error", err)
		return clinical.Detail{}, false
	}
	return clinical.Detail{Hit: hit, Content: result.Text()}, true
}
