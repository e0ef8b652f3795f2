package relay

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternSet is a compiled, immutable set of case-insensitive ignore patterns.
type PatternSet []*regexp.Regexp

// ParsePatterns compiles a comma-separated list of regular expressions.
// Blank entries are ignored, so "" yields an empty set.
func ParsePatterns(csv string) (PatternSet, error) {
	var set PatternSet
	for _, raw := range strings.Split(csv, ",") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		set = append(set, re)
	}
	return set, nil
}

// IsIgnored reports whether any pattern matches somewhere in name.
func IsIgnored(name string, patterns PatternSet) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// String renders the set back in its comma-separated form.
func (p PatternSet) String() string {
	parts := make([]string, len(p))
	for i, re := range p {
		parts[i] = strings.TrimPrefix(re.String(), "(?i)")
	}
	return strings.Join(parts, ",")
}
