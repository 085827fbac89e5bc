package clinical

import (
	"path"
	"strings"
)

// NormalizeName folds a generic drug name the same way DrugNames and
// AttachDossiers do internally, so a caller building a dossier map for
// AttachDossiers (e.g. the enrichment package) uses an identical key space.
func NormalizeName(s string) string {
	return normalizeTitle(s)
}

// normalizeTitle is the identity-key folding used for title-keyed sources:
// lower-case, whitespace-trimmed, with interior runs of whitespace
// collapsed to a single space so "Type 2  Diabetes" and "type 2 diabetes"
// land on the same bucket key.
func normalizeTitle(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// normalizeURL is the identity-key folding used for URL-keyed sources
// (BNF, FOGSI): scheme/host lower-cased, path cleaned, trailing slash and
// querystring fragments dropped, so that two links to the same page that
// differ only in a tracking query string or a trailing slash dedupe
// together.
func normalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		u = u[:idx]
	}
	if idx := strings.Index(u, "://"); idx >= 0 {
		scheme, rest := u[:idx], u[idx+3:]
		rest = strings.TrimSuffix(path.Clean("/"+rest), "/")
		return scheme + "://" + strings.TrimPrefix(rest, "/")
	}
	return strings.TrimSuffix(path.Clean(u), "/")
}
