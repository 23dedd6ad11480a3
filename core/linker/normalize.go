package linker

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// SurfaceForms derives the candidate strings searched for one place: the title
// followed by its alternate names, trimmed, without entries shorter than minLen
// runes, deduplicated case-insensitively. The first occurrence keeps its casing.
func SurfaceForms(title string, altNames []string, minLen int) []string {
	fold := cases.Fold()
	seen := map[string]bool{}
	forms := []string{}

	for _, name := range append([]string{title}, altNames...) {
		name = strings.TrimSpace(name)
		if name == "" || utf8.RuneCountInString(name) < minLen {
			continue
		}
		key := fold.String(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		forms = append(forms, name)
	}

	return forms
}
