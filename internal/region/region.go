// Package region implements resolving a country code to the ordered set
// of knowledge servers a workflow should consult. Selection never fails;
// an unrecognized or empty country code falls back to the INTERNATIONAL
// region.
package region

import (
	"strings"

	"github.com/clinical-cds/orchestrator/pkg/clinical"
)

const international = "INTERNATIONAL"

// Selector resolves country codes against a configured region catalog.
type Selector struct {
	regions map[string]clinical.RegionConfig
}

// NewSelector builds a Selector over regions, keyed by region name (e.g.
// "UK", "USA", "INDIA", "AUSTRALIA", "INTERNATIONAL").
func NewSelector(regions map[string]clinical.RegionConfig) *Selector {
	return &Selector{regions: regions}
}

// Select returns the region key and config for countryCode. Lookup is
// case- and whitespace-insensitive; codes absent from
// clinical.CountryToRegion, or a region present in the mapping but absent
// from the configured catalog, resolve to INTERNATIONAL.
func (s *Selector) Select(countryCode string) (string, clinical.RegionConfig) {
	code := strings.ToUpper(strings.TrimSpace(countryCode))

	regionKey, ok := clinical.CountryToRegion[code]
	if !ok {
		regionKey = international
	}

	cfg, ok := s.regions[regionKey]
	if !ok {
		if cfg, ok = s.regions[international]; ok {
			return international, cfg
		}
		return regionKey, clinical.RegionConfig{}
	}
	return regionKey, cfg
}

// IsIndia reports whether regionKey is the India region, the one region
// that unconditionally also searches PubMed regardless of guideline
// count.
func IsIndia(regionKey string) bool {
	return regionKey == "INDIA"
}
