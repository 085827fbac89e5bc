package enrichment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/clinical-cds/orchestrator/internal/rpc"
	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

type fakeCaller struct {
	mu    sync.Mutex
	calls []string

	searchResponses map[string]string // drug name -> search_bnf_drug json text
	infoResponses   map[string]string // drug url -> get_bnf_drug_info json text
	failDrugs       map[string]bool
}

func (f *fakeCaller) Call(ctx context.Context, name string, arguments map[string]any) (rpc.CallResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	switch name {
	case "search_bnf_drug":
		drug := arguments["drug_name"].(string)
		if f.failDrugs[drug] {
			return rpc.CallResult{}, fmt.Errorf("upstream error for %s", drug)
		}
		text, ok := f.searchResponses[drug]
		if !ok {
			text = `{"success":false,"results":[]}`
		}
		return rpc.CallResult{Content: []rpc.ContentBlock{{Type: "text", Text: text}}}, nil
	case "get_bnf_drug_info":
		url := arguments["drug_url"].(string)
		text, ok := f.infoResponses[url]
		if !ok {
			text = `{"success":false}`
		}
		return rpc.CallResult{Content: []rpc.ContentBlock{{Type: "text", Text: text}}}, nil
	default:
		return rpc.CallResult{}, fmt.Errorf("unexpected tool %q", name)
	}
}

func treeWithDrugs(drugs ...string) clinical.DiagnosisTree {
	return clinical.DiagnosisTree{
		{
			Name:       "Test Diagnosis",
			Confidence: clinical.ConfidenceHigh,
			Treatments: []clinical.Treatment{
				{Label: "Test Treatment", DrugNames: drugs},
			},
		},
	}
}

func TestEnrichTreeAttachesDossier(t *testing.T) {
	caller := &fakeCaller{
		searchResponses: map[string]string{
			"Paracetamol": `{"success":true,"results":[{"url":"https://bnf.nice.org.uk/drugs/paracetamol/"}]}`,
		},
		infoResponses: map[string]string{
			"https://bnf.nice.org.uk/drugs/paracetamol/": `{
				"success":true,"drug_name":"Paracetamol",
				"indications":"Mild to moderate pain",
				"dosage":"500-1000mg every 4-6 hours",
				"contraindications":"",
				"cautions":"Hepatic impairment",
				"side_effects":"Rare at normal doses",
				"interactions":"Warfarin"
			}`,
		},
	}

	tree := treeWithDrugs("Paracetamol")
	e := NewEnricher(caller)
	e.EnrichTree(context.Background(), tree)

	dossier, ok := tree[0].Treatments[0].BNFInfo["Paracetamol"]
	if !ok {
		t.Fatalf("expected dossier attached for Paracetamol, got %+v", tree[0].Treatments[0].BNFInfo)
	}
	if dossier.Indications != "Mild to moderate pain" {
		t.Errorf("unexpected indications: %q", dossier.Indications)
	}
	if dossier.Contraindications != clinical.NotAvailable {
		t.Errorf("expected empty contraindications to fall back to NotAvailable, got %q", dossier.Contraindications)
	}
	if dossier.URL != "https://bnf.nice.org.uk/drugs/paracetamol/" {
		t.Errorf("unexpected url: %q", dossier.URL)
	}
}

func TestEnrichTreeSkipsUnresolvedDrugWithoutFailingOthers(t *testing.T) {
	caller := &fakeCaller{
		searchResponses: map[string]string{
			"Paracetamol": `{"success":true,"results":[{"url":"https://bnf.nice.org.uk/drugs/paracetamol/"}]}`,
		},
		infoResponses: map[string]string{
			"https://bnf.nice.org.uk/drugs/paracetamol/": `{"success":true,"drug_name":"Paracetamol","indications":"Pain"}`,
		},
		failDrugs: map[string]bool{"Mysterium": true},
	}

	tree := treeWithDrugs("Paracetamol", "Mysterium")
	e := NewEnricher(caller)
	e.EnrichTree(context.Background(), tree)

	bnf := tree[0].Treatments[0].BNFInfo
	if _, ok := bnf["Paracetamol"]; !ok {
		t.Errorf("expected Paracetamol dossier present despite Mysterium failing")
	}
	if _, ok := bnf["Mysterium"]; ok {
		t.Errorf("expected no dossier for Mysterium")
	}
}

func TestEnrichTreeDedupesCaseInsensitiveDrugNamesAcrossCalls(t *testing.T) {
	caller := &fakeCaller{
		searchResponses: map[string]string{
			"Ibuprofen": `{"success":true,"results":[{"url":"https://bnf.nice.org.uk/drugs/ibuprofen/"}]}`,
		},
		infoResponses: map[string]string{
			"https://bnf.nice.org.uk/drugs/ibuprofen/": `{"success":true,"drug_name":"Ibuprofen","indications":"Pain and inflammation"}`,
		},
	}

	tree := clinical.DiagnosisTree{
		{
			Name: "Dx1", Confidence: clinical.ConfidenceHigh,
			Treatments: []clinical.Treatment{{Label: "T1", DrugNames: []string{"Ibuprofen"}}},
		},
		{
			Name: "Dx2", Confidence: clinical.ConfidenceMedium,
			Treatments: []clinical.Treatment{{Label: "T2", DrugNames: []string{"ibuprofen"}}},
		},
	}

	e := NewEnricher(caller)
	e.EnrichTree(context.Background(), tree)

	caller.mu.Lock()
	searchCalls := 0
	for _, c := range caller.calls {
		if c == "search_bnf_drug" {
			searchCalls++
		}
	}
	caller.mu.Unlock()
	if searchCalls != 1 {
		t.Errorf("expected exactly one search_bnf_drug call for the deduped drug name, got %d", searchCalls)
	}

	if _, ok := tree[0].Treatments[0].BNFInfo["Ibuprofen"]; !ok {
		t.Error("expected dossier attached to first diagnosis's exact-case drug name")
	}
	if _, ok := tree[1].Treatments[0].BNFInfo["ibuprofen"]; !ok {
		t.Error("expected dossier attached to second diagnosis's differently-cased drug name")
	}
}

func TestEnrichTreeNoDrugsIsNoOp(t *testing.T) {
	caller := &fakeCaller{}
	tree := clinical.DiagnosisTree{
		{Name: "Dx", Confidence: clinical.ConfidenceLow, Treatments: []clinical.Treatment{{Label: "T"}}},
	}
	e := NewEnricher(caller)
	e.EnrichTree(context.Background(), tree)

	if len(caller.calls) != 0 {
		t.Errorf("expected no tool calls when no drugs present, got %v", caller.calls)
	}
}
