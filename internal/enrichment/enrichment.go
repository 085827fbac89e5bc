// Package enrichment implements deterministic, LLM-free enrichment of a
// diagnosis tree's generic drug names with structured BNF dossier data,
// via a two-step search-then-fetch lookup against the BNF knowledge
// server.
package enrichment

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/clinical-cds/orchestrator/internal/observability"
	"github.com/clinical-cds/orchestrator/internal/rpc"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

// Caller dispatches a single tool call by name.
type Caller interface {
	Call(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error)
}

// Enricher resolves drug names to BNF dossiers through a Caller.
type Enricher struct {
	caller  Caller
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewEnricher builds an Enricher over caller.
func NewEnricher(caller Caller) *Enricher {
	return &Enricher{caller: caller, logger: slog.Default().With("component", "enrichment")}
}

// SetMetrics attaches metrics this enricher's drug resolutions report
// resolved/unresolved outcomes against.
func (e *Enricher) SetMetrics(metrics *observability.Metrics) {
	e.metrics = metrics
}

type searchResponse struct {
	Success bool `json:"success"`
	Results []struct {
		URL string `json:"url"`
	} `json:"results"`
}

type drugInfoResponse struct {
	Success           bool   `json:"success"`
	DrugName          string `json:"drug_name"`
	Indications       string `json:"indications"`
	Dosage            string `json:"dosage"`
	Contraindications string `json:"contraindications"`
	Cautions          string `json:"cautions"`
	SideEffects       string `json:"side_effects"`
	Interactions      string `json:"interactions"`
}

// EnrichTree mines the deduplicated drug names out of tree, resolves each
// one to a DrugDossier concurrently, and attaches the results back onto
// tree in place. A drug that can't be resolved (search miss, fetch
// failure, malformed response) is simply absent from the final tree: one
// missing drug never fails the batch.
func (e *Enricher) EnrichTree(ctx context.Context, tree clinical.DiagnosisTree) {
	names := tree.DrugNames()
	if len(names) == 0 {
		return
	}

	dossiers := make(map[string]clinical.DrugDossier, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			dossier, ok := e.resolveDrug(ctx, name)
			if e.metrics != nil {
				status := "resolved"
				if !ok {
					status = "unresolved"
				}
				e.metrics.DrugEnrichmentCounter.WithLabelValues(status).Inc()
			}
			if !ok {
				return
			}
			mu.Lock()
			dossiers[clinical.NormalizeName(name)] = dossier
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	tree.AttachDossiers(dossiers)
}

// resolveDrug performs the two-step BNF lookup: search_bnf_drug to find the
// drug's canonical page, then get_bnf_drug_info to fetch its sections.
func (e *Enricher) resolveDrug(ctx context.Context, drugName string) (clinical.DrugDossier, bool) {
	searchResult, err := e.caller.Call(ctx, "search_bnf_drug", map[string]any{"drug_name": drugName})
	if err != nil {
		e.logger.Warn("bnf drug search failed", "drug", drugName, "error", err)
		return clinical.DrugDossier{}, false
	}

	var search searchResponse
	if err := json.Unmarshal([]byte(searchResult.Text()), &search); err != nil {
		e.logger.Warn("bnf drug search response malformed", "drug", drugName, "error", err)
		return clinical.DrugDossier{}, false
	}
	if !search.Success || len(search.Results) == 0 {
		return clinical.DrugDossier{}, false
	}
	drugURL := search.Results[0].URL

	infoResult, err := e.caller.Call(ctx, "get_bnf_drug_info", map[string]any{"drug_url": drugURL})
	if err != nil {
		e.logger.Warn("bnf drug info fetch failed", "drug", drugName, "url", drugURL, "error", err)
		return clinical.DrugDossier{}, false
	}

	var info drugInfoResponse
	if err := json.Unmarshal([]byte(infoResult.Text()), &info); err != nil {
		e.logger.Warn("bnf drug info response malformed", "drug", drugName, "error", err)
		return clinical.DrugDossier{}, false
	}
	if !info.Success {
		return clinical.DrugDossier{}, false
	}

	return clinical.DrugDossier{
		URL:               drugURL,
		Indications:       orNotAvailable(info.Indications),
		Dosage:            orNotAvailable(info.Dosage),
		Contraindications: orNotAvailable(info.Contraindications),
		Cautions:          orNotAvailable(info.Cautions),
		SideEffects:       orNotAvailable(info.SideEffects),
		Interactions:      orNotAvailable(info.Interactions),
	}, true
}

func orNotAvailable(s string) string {
	if s == "" {
		return clinical.NotAvailable
	}
	return s
}
