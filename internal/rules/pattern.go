package rules

import "github.com/gobwas/glob"

// Pattern is a compiled shell-glob predicate on one notification field.
//
// A nil *Pattern is "no predicate" and matches anything. A pattern that failed
// to compile never matches; the compile error is kept for reporting.
type Pattern struct {
	raw string
	g   glob.Glob
	err error
}

// NewPattern compiles raw. An empty raw yields nil (no predicate).
func NewPattern(raw string) *Pattern {
	if raw == "" {
		return nil
	}
	p := &Pattern{raw: raw}
	// No separators: '*' spans every character, as fnmatch without flags does.
	p.g, p.err = glob.Compile(raw)
	return p
}

func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// Err is the compile error, if any.
func (p *Pattern) Err() error {
	if p == nil {
		return nil
	}
	return p.err
}

// Match requires field to be present (non-empty) whenever a pattern is set.
func (p *Pattern) Match(field string) bool {
	if p == nil {
		return true
	}
	if field == "" || p.err != nil {
		return false
	}
	return p.g.Match(field)
}
