package utils

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexCache holds compiled patterns keyed by their (possibly glob-translated)
// regex source, adapted from the teacher's pkg/utils/pattern.go.
var regexCache sync.Map

// MatchPattern reports whether key matches pattern. No store layer in this
// module calls it; it is a standalone helper for path- or key-based
// matching.
//
// Pattern syntax: exact ("users/123"), prefix ("users/*"), match-all ("*"),
// or a glob/regex fallback for anything else.
func MatchPattern(pattern, key string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("utils: pattern cannot be empty")
	}
	if pattern == key || pattern == "*" {
		return true, nil
	}
	if strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[:len(pattern)-1], "*") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1]), nil
	}

	regexPattern := pattern
	if strings.ContainsAny(pattern, "*?") {
		regexPattern = globToRegex(pattern)
	}

	var re *regexp.Regexp
	if cached, ok := regexCache.Load(regexPattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile("^" + regexPattern + "$")
		if err != nil {
			return false, fmt.Errorf("utils: invalid pattern %q: %w", pattern, err)
		}
		re = compiled
		regexCache.Store(regexPattern, re)
	}
	return re.MatchString(key), nil
}

func globToRegex(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FilterMatching returns the subset of keys matching pattern, preserving order.
func FilterMatching(pattern string, keys []string) ([]string, error) {
	if pattern == "*" {
		out := make([]string, len(keys))
		copy(out, keys)
		return out, nil
	}
	var out []string
	for _, key := range keys {
		match, err := MatchPattern(pattern, key)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, key)
		}
	}
	return out, nil
}
