package linker

import (
	"fmt"
	"regexp"
	"strings"
)

// wordClass is what may not touch a surface form on either side. Anything
// else (whitespace, punctuation, string edges) is a valid boundary.
const wordClass = `\p{L}\p{N}_`

// Matcher confirms that a surface form occurs in a text as a whole token
// sequence, case-insensitively.
type Matcher struct {
	name string
	re   *regexp.Regexp
}

// NewMatcher compiles the boundary pattern for name. The name is escaped, so
// regex metacharacters in gazetteer names are matched literally.
func NewMatcher(name string) (*Matcher, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("surface form must not be empty")
	}

	pattern := `(?i)(?:^|[^` + wordClass + `])` + regexp.QuoteMeta(name) + `(?:[^` + wordClass + `]|$)`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile matcher for %q: %w", name, err)
	}

	return &Matcher{name: name, re: re}, nil
}

// Name returns the surface form the matcher was built for.
func (m *Matcher) Name() string {
	return m.name
}

// Match reports whether text contains the surface form with a boundary on both sides.
func (m *Matcher) Match(text string) bool {
	return m.re.MatchString(text)
}
