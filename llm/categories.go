package llm

import "strings"

// Article categories the pipeline accepts. Model output is filtered against
// this list after every call.
var allowedCategories = []string{
	"Produksi",
	"Eksplorasi",
	"Regulasi",
	"Investasi",
	"Lingkungan",
	"Infrastruktur",
	"Keselamatan",
	"Personel",
	"Pasar",
	"Komunitas",
	"Teknologi",
	"Umum",
}

// DefaultCategory is substituted when the model returns nothing usable
const DefaultCategory = "Umum"

// AllowedCategories returns a copy of the category allow-list
func AllowedCategories() []string {
	out := make([]string, len(allowedCategories))
	copy(out, allowedCategories)
	return out
}

// SanitizeCategories filters categories to the allow-list, mapping them onto
// canonical casing and dropping duplicates. An empty result substitutes the
// default category, so the output is never empty.
func SanitizeCategories(categories []string) []string {
	canonical := make(map[string]string, len(allowedCategories))
	for _, c := range allowedCategories {
		canonical[strings.ToLower(c)] = c
	}

	seen := make(map[string]bool, len(categories))
	var sanitized []string
	for _, category := range categories {
		name, ok := canonical[strings.ToLower(strings.TrimSpace(category))]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		sanitized = append(sanitized, name)
	}

	if len(sanitized) == 0 {
		return []string{DefaultCategory}
	}
	return sanitized
}
