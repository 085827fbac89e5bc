package clinical

import "strings"

// ToolDescriptor is a knowledge-server tool as advertised by tools/list,
// trimmed to what the router and the LLM tool-use loop need: its name, a
// human description forwarded to the model, and its JSON Schema input
// contract used for argument validation before a call is dispatched.
type ToolDescriptor struct {
	ServerName  string `json:"server_name"`
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema []byte `json:"input_schema"`
}

// ToolRegistry is the merged, conflict-resolved view of every tool
// advertised by every connected server, built by the router. Lookup is by
// tool name only: a scenario never needs to know which server backs a tool.
type ToolRegistry struct {
	byName map[string]ToolDescriptor
	order  []string
}

// NewToolRegistry builds an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: make(map[string]ToolDescriptor)}
}

// Add registers tool under its server. If a tool of the same name was
// already registered by an earlier call, the earlier registration wins
// and Add reports false so the caller can log the conflict; it never
// overwrites the first registration.
func (r *ToolRegistry) Add(tool ToolDescriptor) (accepted bool) {
	if _, exists := r.byName[tool.Name]; exists {
		return false
	}
	r.byName[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return true
}

// Lookup returns the descriptor and backing server for name.
func (r *ToolRegistry) Lookup(name string) (ToolDescriptor, bool) {
	td, ok := r.byName[name]
	return td, ok
}

// All returns every registered tool in registration order.
func (r *ToolRegistry) All() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// RegionConfig describes the knowledge-server set and search behavior for
// one region (GB, US, IN, AU, INTERNATIONAL, ...). It is looked up by
// country code through Select.
type RegionConfig struct {
	Region  string   `yaml:"region" json:"region"`
	Servers []string `yaml:"servers" json:"servers"`

	// MinResultsThreshold is the guideline+CKS hit count below which the
	// regional search triggers a PubMed fallback search. Defaults to 2
	// when unset.
	MinResultsThreshold int `yaml:"min_results_threshold" json:"min_results_threshold"`

	// PubMedFallback disables the fallback entirely when false, even if
	// the threshold isn't met.
	PubMedFallback bool `yaml:"pubmed_fallback" json:"pubmed_fallback"`

	SearchConfigs map[string]SearchConfig `yaml:"search_configs" json:"search_configs"`
}

// EffectiveThreshold returns MinResultsThreshold, defaulting to 2 when the
// region config left it unset (zero value).
func (r RegionConfig) EffectiveThreshold() int {
	if r.MinResultsThreshold <= 0 {
		return 2
	}
	return r.MinResultsThreshold
}

// SearchConfig is the per-tool search invocation template for one
// knowledge-server tool within a region: which tool to call, the argument
// template (with {clinical_scenario} substituted), whether results from
// this tool participate in within-bucket deduplication, and how many hits
// survive top-K truncation.
type SearchConfig struct {
	ToolName        string            `yaml:"tool_name" json:"tool_name"`
	ResultKey       string            `yaml:"result_key" json:"result_key"`
	ArgsTemplate    map[string]string `yaml:"args_template" json:"args_template"`
	Deduplicate     bool              `yaml:"deduplicate" json:"deduplicate"`
	TopK            int               `yaml:"top_k" json:"top_k"`
}

// RenderArgs substitutes {clinical_scenario} in every template value and
// returns the concrete argument map for a tool call.
func (s SearchConfig) RenderArgs(scenario string) map[string]any {
	out := make(map[string]any, len(s.ArgsTemplate))
	for key, tmpl := range s.ArgsTemplate {
		out[key] = strings.ReplaceAll(tmpl, "{clinical_scenario}", scenario)
	}
	return out
}

// CountryToRegion is the closed country-code to region-key mapping
// consulted by the region selector. Codes not present here resolve to
// "INTERNATIONAL".
var CountryToRegion = map[string]string{
	"GB": "UK",
	"US": "USA",
	"IN": "INDIA",
	"AU": "AUSTRALIA",
}
