package clinical

import "testing"

func TestHitIdentityKeyTitleNormalization(t *testing.T) {
	a := Hit{Source: ResourceCKS, Title: "  Type 2  Diabetes  "}
	b := Hit{Source: ResourceCKS, Title: "type 2 diabetes"}
	if a.IdentityKey() != b.IdentityKey() {
		t.Errorf("expected matching identity keys, got %q vs %q", a.IdentityKey(), b.IdentityKey())
	}
}

func TestHitIdentityKeyURLNormalization(t *testing.T) {
	a := Hit{Source: ResourceBNFSummary, URL: "https://bnf.nice.org.uk/drugs/metformin/"}
	b := Hit{Source: ResourceBNFSummary, URL: "HTTPS://BNF.NICE.ORG.UK/drugs/metformin?utm=x"}
	if a.IdentityKey() != b.IdentityKey() {
		t.Errorf("expected matching identity keys, got %q vs %q", a.IdentityKey(), b.IdentityKey())
	}
}

func TestHitIdentityKeyNICEPrefersReference(t *testing.T) {
	h := Hit{Source: ResourceNICE, Title: "Different title", Reference: "CG189"}
	if h.IdentityKey() != normalizeTitle("CG189") {
		t.Errorf("expected reference-based key, got %q", h.IdentityKey())
	}
}

func TestSearchResultSetTotalGuidelines(t *testing.T) {
	s := SearchResultSet{
		Guidelines: []Hit{{Title: "a"}, {Title: "b"}},
		CKSTopics:  []Hit{{Title: "c"}},
	}
	if got := s.TotalGuidelines(); got != 3 {
		t.Errorf("TotalGuidelines() = %d, want 3", got)
	}
}

func TestDiagnosisTreeDrugNamesDedupesCaseInsensitive(t *testing.T) {
	tree := DiagnosisTree{
		{Name: "Type 2 diabetes", Treatments: []Treatment{
			{Label: "first-line", DrugNames: []string{"Metformin", "metformin", "Gliclazide"}},
		}},
		{Name: "Hypertension", Treatments: []Treatment{
			{Label: "first-line", DrugNames: []string{"METFORMIN", "Amlodipine"}},
		}},
	}

	names := tree.DrugNames()
	want := []string{"Metformin", "Gliclazide", "Amlodipine"}
	if len(names) != len(want) {
		t.Fatalf("DrugNames() = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("DrugNames()[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestDiagnosisTreeAttachDossiersCaseInsensitive(t *testing.T) {
	tree := DiagnosisTree{
		{Name: "Type 2 diabetes", Treatments: []Treatment{
			{Label: "first-line", DrugNames: []string{"Metformin"}},
		}},
	}
	dossiers := map[string]DrugDossier{
		"metformin": {URL: "https://bnf.example/metformin", Dosage: "500mg"},
	}
	tree.AttachDossiers(dossiers)

	got := tree[0].Treatments[0].BNFInfo["Metformin"]
	if got.Dosage != "500mg" {
		t.Errorf("expected dossier attached under original-case name, got %+v", tree[0].Treatments[0].BNFInfo)
	}
}
