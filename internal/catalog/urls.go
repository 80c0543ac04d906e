package catalog

import (
	"regexp"
	"strings"
)

// itemURLPattern matches the canonical detail-page URL of a single item.
// Collection and search-result URLs do not match.
var itemURLPattern = regexp.MustCompile(`^https?://[^/]+/item/([A-Za-z0-9_.-]+)/?$`)

// Query parameters that select response format or pagination position.
// Normalization strips them all and appends a single fo=json.
var strippedParams = map[string]bool{
	"fo": true,
	"at": true,
	"sp": true,
}

// NormalizeCollectionURL rewrites a collection or item URL to request JSON:
// format and pagination parameters (fo, at, sp) are removed wherever they
// appear, every other parameter keeps its relative order, and exactly one
// fo=json is appended. The function is idempotent.
func NormalizeCollectionURL(rawURL string) string {
	base := rawURL
	query := ""
	if i := strings.Index(rawURL, "?"); i >= 0 {
		base = rawURL[:i]
		query = rawURL[i+1:]
	}
	base = strings.TrimSuffix(base, "/")

	// The query string is rebuilt by hand rather than through URL-values
	// parsing, which would reorder parameters.
	var kept []string
	if query != "" {
		for _, param := range strings.Split(query, "&") {
			if param == "" {
				continue
			}
			key := param
			if i := strings.Index(param, "="); i >= 0 {
				key = param[:i]
			}
			if strippedParams[key] {
				continue
			}
			kept = append(kept, param)
		}
	}
	kept = append(kept, "fo=json")

	return base + "?" + strings.Join(kept, "&")
}

// IsItemURL reports whether url points at a single item's detail page.
func IsItemURL(url string) bool {
	return itemURLPattern.MatchString(url)
}

// ItemIDFromURL extracts the item identifier from a detail-page URL.
// Returns "" when the URL is not an item URL.
func ItemIDFromURL(url string) string {
	m := itemURLPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}
