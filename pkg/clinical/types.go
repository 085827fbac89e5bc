// Package clinical holds the data model shared across the orchestrator: the
// hits returned by knowledge-server searches, the diagnosis/treatment tree
// produced by the LLM tool-use driver, and the drug dossiers attached to it
// by the enrichment pipeline. Types here are exported so an HTTP adapter
// outside this module can serialize a ClinicalReport without reaching into
// internal packages.
package clinical

import "encoding/json"

// ResourceType tags the knowledge-server source a Hit or SearchConfig
// belongs to. It is a closed enum per spec: new sources are added here, not
// invented ad hoc by callers.
type ResourceType string

const (
	ResourceNICE       ResourceType = "NICE"
	ResourceCKS        ResourceType = "CKS"
	ResourceBNFSummary ResourceType = "BNF_SUMMARY"
	ResourceFOGSI      ResourceType = "FOGSI"
	ResourcePubMed     ResourceType = "PUBMED"
	ResourcePatientInfo ResourceType = "PATIENT_INFO"
)

// Hit is a single search result from a knowledge server. Upstream payloads
// arrive as unconstrained JSON; Hit is the small typed façade over the two
// or three fields the core actually consumes (Title, URL, identity key),
// with everything else carried through in Raw for a renderer to use
// unchanged.
type Hit struct {
	Source ResourceType `json:"source"`

	Title string `json:"title"`
	URL   string `json:"url"`

	// Reference is the source-specific identifier used for NICE hits
	// ("CG69"-style guideline references).
	Reference string `json:"reference,omitempty"`

	// Raw carries the hit's fields exactly as the knowledge server returned
	// them, so a renderer can surface source-specific fields the core
	// never interprets.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// IdentityKey returns the key used for deduplication within a result
// bucket. The key varies by source: BNF and FOGSI dedupe by URL
// (path-normalized), NICE by its guideline reference, and everything else
// by lower-cased, trimmed title.
func (h Hit) IdentityKey() string {
	switch h.Source {
	case ResourceBNFSummary, ResourceFOGSI:
		return normalizeURL(h.URL)
	case ResourceNICE:
		if h.Reference != "" {
			return normalizeTitle(h.Reference)
		}
		return normalizeTitle(h.Title)
	default:
		return normalizeTitle(h.Title)
	}
}

// SearchResultSet is the merged, deduplicated, top-K-truncated output of a
// regional search batch.
type SearchResultSet struct {
	Guidelines     []Hit `json:"guidelines"`
	CKSTopics      []Hit `json:"cks_topics"`
	BNFSummaries   []Hit `json:"bnf_summaries"`
	PubMedArticles []Hit `json:"pubmed_articles"`

	// Warnings accumulates soft failures from individual searches (a
	// failing search contributes an empty list plus a warning here, not
	// an aborted batch).
	Warnings []string `json:"warnings,omitempty"`
}

// TotalGuidelines is |Guidelines| + |CKSTopics|, the count compared
// against a region's MinResultsThreshold to decide on PubMed fallback.
func (s SearchResultSet) TotalGuidelines() int {
	return len(s.Guidelines) + len(s.CKSTopics)
}

// DetailSet is the full document content fetched for the top-K hits of
// each bucket. Each slice is index-aligned with nothing in particular —
// per-hit failures are simply dropped, so callers should not assume
// DetailSet has the same length as the SearchResultSet it was fetched
// from.
type DetailSet struct {
	Guidelines   []Detail `json:"guidelines"`
	CKSTopics    []Detail `json:"cks_topics"`
	BNFSummaries []Detail `json:"bnf_summaries"`
}

// Detail is the full document content fetched for one search hit.
type Detail struct {
	Hit     Hit    `json:"hit"`
	Content string `json:"content"`
}

// Confidence is the closed set of confidence labels a Diagnosis may carry.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Diagnosis is one entry in a DiagnosisTree.
type Diagnosis struct {
	Name       string      `json:"name"`
	Confidence Confidence  `json:"confidence"`
	Treatments []Treatment `json:"treatments"`
}

// Treatment is one recommended treatment under a Diagnosis.
type Treatment struct {
	Label     string   `json:"label"`
	DrugNames []string `json:"drug_names"`
	Notes     string   `json:"notes,omitempty"`

	// BNFInfo is populated by the enrichment stage after the LLM loop
	// terminates, keyed by the generic drug name exactly as it appears in
	// DrugNames.
	BNFInfo map[string]DrugDossier `json:"bnf_info,omitempty"`
}

// AttachDossier records dossier under drugName, creating BNFInfo lazily.
func (t *Treatment) AttachDossier(drugName string, dossier DrugDossier) {
	if t.BNFInfo == nil {
		t.BNFInfo = make(map[string]DrugDossier)
	}
	t.BNFInfo[drugName] = dossier
}

// DiagnosisTree is the root structure produced by the tool-use driver (or
// the legacy pipeline's extraction variant) before drug enrichment runs.
type DiagnosisTree []Diagnosis

// DrugNames returns the deduplicated, case-folded set of generic drug
// names mentioned anywhere in the tree, in first-seen order. This is the
// input to the enrichment stage.
func (t DiagnosisTree) DrugNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, dx := range t {
		for _, tr := range dx.Treatments {
			for _, name := range tr.DrugNames {
				key := normalizeTitle(name)
				if key == "" || seen[key] {
					continue
				}
				seen[key] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// AttachDossiers attaches dossiers (keyed by case-folded drug name) into
// every Treatment whose DrugNames mentions that drug, matching case
// insensitively.
func (t DiagnosisTree) AttachDossiers(dossiers map[string]DrugDossier) {
	for i := range t {
		for j := range t[i].Treatments {
			tr := &t[i].Treatments[j]
			for _, name := range tr.DrugNames {
				if dossier, ok := dossiers[normalizeTitle(name)]; ok {
					tr.AttachDossier(name, dossier)
				}
			}
		}
	}
}

// NotAvailable is the sentinel value a DrugDossier field holds when the
// source page didn't carry that section.
const NotAvailable = "Not available"

// DrugDossier is the structured bag of dosage/cautions/interactions pulled
// from a BNF-style drug page. Any field may be NotAvailable.
type DrugDossier struct {
	URL               string `json:"url"`
	Indications       string `json:"indications"`
	Dosage            string `json:"dosage"`
	Contraindications string `json:"contraindications"`
	Cautions          string `json:"cautions"`
	SideEffects       string `json:"side_effects"`
	Interactions      string `json:"interactions"`
}

// ClinicalReport is the final value returned by the workflow orchestrator
// to its caller.
type ClinicalReport struct {
	Diagnoses DiagnosisTree `json:"diagnoses"`
	Summary   string        `json:"summary"`
	Warnings  []string      `json:"warnings,omitempty"`
}
