package lookup

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/AdguardTeam/urlblock/rules"
)

// regexEntry is a regular expression rule with its prefilter.
type regexEntry struct {
	rule *rules.Rule
	re   *regexp.Regexp

	// literal is a lowercased string that every match contains.  It is empty
	// if there is no such string.
	literal string

	// endAnchored is true if the expression contains a "$" or "\z".
	endAnchored bool
}

// match returns true if the expression matches the lowercased url.
func (e *regexEntry) match(url string) (ok bool) {
	if e.literal != "" && !strings.Contains(url, e.literal) {
		return false
	}

	return e.re.MatchString(url)
}

// RegexTable is a lookup table for the regular expression rules.  The rules
// are checked one by one, but expressions with a required literal are skipped
// cheaply when the URL doesn't contain it.
type RegexTable struct {
	entries []*regexEntry
}

// type check
var _ Table = (*RegexTable)(nil)

// NewRegexTable returns a new *RegexTable.
func NewRegexTable() (t *RegexTable) {
	return &RegexTable{}
}

// AddPattern adds a rule with the [*rules.Regex] pattern.  It returns an error
// if r has another pattern type.
func (t *RegexTable) AddPattern(r *rules.Rule) (err error) {
	p, ok := r.Pattern.(*rules.Regex)
	if !ok {
		return fmt.Errorf("rule %q: bad pattern type %s", r.Text, r.MatchType())
	}

	expr := p.Regexp().String()
	t.entries = append(t.entries, &regexEntry{
		rule:        r,
		re:          p.Regexp(),
		literal:     requiredLiteral(expr),
		endAnchored: hasEndAnchor(expr),
	})

	return nil
}

// requiredLiteral returns the longest ASCII literal that must be present in
// any string matching expr.  Only the top-level concatenation is inspected.
func requiredLiteral(expr string) (lit string) {
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return ""
	}

	re = re.Simplify()
	switch re.Op {
	case syntax.OpLiteral:
		return asciiLower(re.Rune)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if sub.Op != syntax.OpLiteral {
				continue
			}

			if s := asciiLower(sub.Rune); len(s) > len(lit) {
				lit = s
			}
		}

		return lit
	default:
		return ""
	}
}

// hasEndAnchor returns true if expr can only match at the end of the text or
// of a line.
func hasEndAnchor(expr string) (ok bool) {
	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return false
	}

	var walk func(re *syntax.Regexp) (found bool)
	walk = func(re *syntax.Regexp) (found bool) {
		if re.Op == syntax.OpEndText || re.Op == syntax.OpEndLine {
			return true
		}

		for _, sub := range re.Sub {
			if walk(sub) {
				return true
			}
		}

		return false
	}

	return walk(re)
}

// asciiLower returns the lowercased string of runes or an empty string if
// there are non-ASCII runes, since their case folding may change the length.
func asciiLower(runes []rune) (s string) {
	b := make([]byte, 0, len(runes))
	for _, r := range runes {
		if r >= 0x80 {
			return ""
		}

		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}

		b = append(b, byte(r))
	}

	return string(b)
}

// TryAdd implements the [Table] interface for *RegexTable.
func (t *RegexTable) TryAdd(r *rules.Rule) (ok bool) {
	return r.MatchType() == rules.MatchTypeRegex && t.AddPattern(r) == nil
}

// IsMatch implements the [Table] interface for *RegexTable.
func (t *RegexTable) IsMatch(url string) (ok bool) {
	url = strings.ToLower(url)
	for _, e := range t.entries {
		if e.match(url) {
			return true
		}
	}

	return false
}

// Match implements the [Table] interface for *RegexTable.  Expressions with an
// end anchor don't match truncated URLs.
func (t *RegexTable) Match(r *rules.Request) (rule *rules.Rule) {
	for _, e := range t.entries {
		if r.Truncated && e.endAnchored {
			continue
		}

		if e.match(r.URLLowerCase) && e.rule.MatchOptions(r) {
			return e.rule
		}
	}

	return nil
}

// Count implements the [Table] interface for *RegexTable.
func (t *RegexTable) Count() (n int) {
	return len(t.entries)
}
