package authgate

import (
	"fmt"
	"regexp"
	"strings"
)

// PathMatcher is a compiled path pattern. It is immutable and safe for
// concurrent use.
type PathMatcher struct {
	dsl string
	re  *regexp.Regexp
}

// DSL returns the source pattern the matcher was compiled from.
func (m *PathMatcher) DSL() string { return m.dsl }

// Regex returns the anchored regular expression the pattern compiled to.
func (m *PathMatcher) Regex() string { return m.re.String() }

// Matches reports whether path matches the compiled pattern. The match is
// anchored (full path, no partial matches) and case-sensitive.
func (m *PathMatcher) Matches(path string) bool {
	if m == nil || m.re == nil {
		return false
	}
	return m.re.MatchString(path)
}

var (
	bracedParamRe = regexp.MustCompile(`\{[^/{}]+\}`)
	colonParamRe  = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_]*`)
)

const segWildToken = "\x00"

// CompilePathDSL compiles a friendly path pattern into an anchored matcher.
//
// Pattern tokens, per /-delimited segment:
//   - "**"            rest of path, zero or more segments; anything written
//     after it is ignored
//   - "*", "{name}", ":name"  one path segment's worth of characters (no
//     "/"); also recognized inside a segment, e.g. "v{n}"
//   - anything else   matched verbatim (regex metacharacters are escaped)
//
// A blank pattern compiles to a nil matcher. Patterns are normalized to
// start with "/".
func CompilePathDSL(pattern string) (*PathMatcher, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return nil, nil
	}
	if p[0] != '/' {
		p = "/" + p
	}

	var b strings.Builder
	b.WriteString("^")
	rest := false
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if seg == "" {
			continue
		}
		if seg == "**" {
			// Consumes the remainder of the path, including the case where
			// nothing follows the prefix at all.
			b.WriteString("(?:/.*)?")
			rest = true
			break
		}
		b.WriteString("/")
		if seg == "*" {
			b.WriteString("[^/]+")
			continue
		}
		b.WriteString(compileSegment(seg))
	}
	if !rest && b.Len() == 1 {
		// Pattern was just "/".
		b.WriteString("/")
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile path pattern %q: %w", pattern, err)
	}
	return &PathMatcher{dsl: pattern, re: re}, nil
}

// compileSegment turns one path segment into a regex fragment, replacing
// {name}, :name and * tokens with single-segment wildcards and escaping the
// remaining literal text.
func compileSegment(seg string) string {
	s := bracedParamRe.ReplaceAllString(seg, segWildToken)
	s = colonParamRe.ReplaceAllString(s, segWildToken)
	s = strings.ReplaceAll(s, "*", segWildToken)

	parts := strings.Split(s, segWildToken)
	var b strings.Builder
	for i, part := range parts {
		b.WriteString(regexp.QuoteMeta(part))
		if i != len(parts)-1 {
			b.WriteString("[^/]+")
		}
	}
	return b.String()
}
