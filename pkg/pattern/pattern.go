// Package pattern compiles and evaluates URL path patterns. Two kinds are
// supported: Ant-style globs (`?` one character, `*` within one segment,
// `**` across segments) and regular expressions requiring a full match.
// Matching is case-insensitive and always runs against the canonical path
// produced by the firewall; query strings are never consulted.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects the pattern syntax.
type Kind string

const (
	// KindAnt is the Ant-style glob syntax.
	KindAnt Kind = "ant"
	// KindRegex is Go regular expression syntax, anchored to the full path.
	KindRegex Kind = "regex"
)

// Pattern is a compiled path pattern. It is immutable and safe for unbounded
// concurrent use.
type Pattern struct {
	spec     string
	kind     Kind
	segments []string
	re       *regexp.Regexp
}

// Compile builds a Pattern from spec. Regex specs are compiled
// case-insensitively and anchored so a full match of the canonical path is
// required, not a substring search.
func Compile(spec string, kind Kind) (*Pattern, error) {
	switch kind {
	case KindAnt, "":
		if spec == "" {
			return nil, fmt.Errorf("pattern: empty ant spec")
		}
		return &Pattern{
			spec:     spec,
			kind:     KindAnt,
			segments: splitSegments(strings.ToLower(spec)),
		}, nil
	case KindRegex:
		re, err := regexp.Compile("(?i)\\A(?:" + spec + ")\\z")
		if err != nil {
			return nil, fmt.Errorf("pattern: compile regex %q: %w", spec, err)
		}
		return &Pattern{spec: spec, kind: KindRegex, re: re}, nil
	default:
		return nil, fmt.Errorf("pattern: unknown kind %q", kind)
	}
}

// MustCompile is Compile panicking on error, for statically known patterns.
func MustCompile(spec string, kind Kind) *Pattern {
	p, err := Compile(spec, kind)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original pattern spec.
func (p *Pattern) String() string { return p.spec }

// Kind returns the pattern syntax kind.
func (p *Pattern) Kind() Kind { return p.kind }

// Matches reports whether the canonical path matches this pattern.
func (p *Pattern) Matches(path string) bool {
	if p.kind == KindRegex {
		return p.re.MatchString(path)
	}
	return matchSegments(p.segments, splitSegments(strings.ToLower(path)))
}

// CatchAll reports whether the pattern matches every possible path. The
// registry requires its final entry to be one.
func (p *Pattern) CatchAll() bool {
	switch p.kind {
	case KindAnt:
		return len(p.segments) == 1 && p.segments[0] == "**"
	case KindRegex:
		return p.spec == ".*" || p.spec == "^.*$"
	}
	return false
}

func splitSegments(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchSegments(pat, path []string) bool {
	if len(pat) == 0 {
		return len(path) == 0
	}
	if pat[0] == "**" {
		// Consume zero segments, or one path segment and try again.
		if matchSegments(pat[1:], path) {
			return true
		}
		return len(path) > 0 && matchSegments(pat, path[1:])
	}
	if len(path) == 0 {
		return false
	}
	return matchSegment(pat[0], path[0]) && matchSegments(pat[1:], path[1:])
}

// matchSegment matches one glob segment against one path segment, with `?`
// for exactly one character and `*` for zero or more within the segment.
func matchSegment(pat, s string) bool {
	// Backtracking positions for the most recent `*`.
	var starPat, starS = -1, 0
	pi, si := 0, 0
	for si < len(s) {
		switch {
		case pi < len(pat) && (pat[pi] == '?' || pat[pi] == s[si]):
			pi++
			si++
		case pi < len(pat) && pat[pi] == '*':
			starPat = pi
			starS = si
			pi++
		case starPat >= 0:
			pi = starPat + 1
			starS++
			si = starS
		default:
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '*' {
		pi++
	}
	return pi == len(pat)
}
