// Package rules contains the filter-list parser and the typed network rules it
// produces.
package rules

import (
	"fmt"
	"regexp"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrTooWideRule is returned if the rule pattern matches too many URLs and
	// has no $domain restriction.
	ErrTooWideRule errors.Error = "the rule is too wide, add a domain restriction or make it more specific"

	// ErrUnsupportedRule signals that this might be a valid rule, but its
	// modifiers are not supported by this library.
	ErrUnsupportedRule errors.Error = "this type of rules is unsupported"
)

// SyntaxError represents an error while parsing a filtering rule.
type SyntaxError struct {
	msg      string
	ruleText string
}

// type check
var _ error = (*SyntaxError)(nil)

// Error implements the error interface for *SyntaxError.
func (e *SyntaxError) Error() (msg string) {
	return fmt.Sprintf("syntax error: %s, rule: %s", e.msg, e.ruleText)
}

// MatchType determines which matcher owns a rule.
type MatchType uint8

// MatchType values.
const (
	MatchTypeExactDomain MatchType = iota + 1
	MatchTypeExactURL
	MatchTypeWildcard
	MatchTypeRegex
)

// String implements the fmt.Stringer interface for MatchType.
func (t MatchType) String() (s string) {
	switch t {
	case MatchTypeExactDomain:
		return "exact_domain"
	case MatchTypeExactURL:
		return "exact_url"
	case MatchTypeWildcard:
		return "wildcard"
	case MatchTypeRegex:
		return "regex"
	default:
		return fmt.Sprintf("!bad_match_type_%d", uint8(t))
	}
}

// Pattern is the matching part of a network rule.  It is one of
// [*ExactDomain], [*ExactURL], [*Wildcard], or [*Regex].
type Pattern interface {
	// MatchType returns the type of the matcher that is able to match this
	// pattern.
	MatchType() (t MatchType)

	// String returns the normalized pattern text.
	String() (s string)

	// sealed prevents implementations outside of this package.
	sealed()
}

// ExactDomain is a pattern matching a host and all of its subdomains, e.g.
// "||example.org^".
type ExactDomain struct {
	// Domain is the lowercased domain name.
	Domain string
}

// type check
var _ Pattern = (*ExactDomain)(nil)

// MatchType implements the [Pattern] interface for *ExactDomain.
func (p *ExactDomain) MatchType() (t MatchType) { return MatchTypeExactDomain }

// String implements the [Pattern] interface for *ExactDomain.
func (p *ExactDomain) String() (s string) { return p.Domain }

// sealed implements the [Pattern] interface for *ExactDomain.
func (p *ExactDomain) sealed() {}

// ExactURL is a pattern matching exactly one URL, e.g. "|http://x.org/a.js|".
type ExactURL struct {
	// URL is the lowercased URL.
	URL string
}

// type check
var _ Pattern = (*ExactURL)(nil)

// MatchType implements the [Pattern] interface for *ExactURL.
func (p *ExactURL) MatchType() (t MatchType) { return MatchTypeExactURL }

// String implements the [Pattern] interface for *ExactURL.
func (p *ExactURL) String() (s string) { return p.URL }

// sealed implements the [Pattern] interface for *ExactURL.
func (p *ExactURL) sealed() {}

// Wildcard is a basic filter pattern.  The anchors and the '*' characters are
// interpreted by the pattern matcher, see package lookup.
type Wildcard struct {
	// Text is the lowercased pattern text including anchors.
	Text string
}

// type check
var _ Pattern = (*Wildcard)(nil)

// MatchType implements the [Pattern] interface for *Wildcard.
func (p *Wildcard) MatchType() (t MatchType) { return MatchTypeWildcard }

// String implements the [Pattern] interface for *Wildcard.
func (p *Wildcard) String() (s string) { return p.Text }

// sealed implements the [Pattern] interface for *Wildcard.
func (p *Wildcard) sealed() {}

// Regex is a regular expression pattern, e.g. "/banner\d+\.png/".
type Regex struct {
	// re is compiled once when the rule is parsed and is never changed.
	re *regexp.Regexp

	// Text is the lowercased expression without the enclosing slashes.
	Text string
}

// type check
var _ Pattern = (*Regex)(nil)

// MatchType implements the [Pattern] interface for *Regex.
func (p *Regex) MatchType() (t MatchType) { return MatchTypeRegex }

// String implements the [Pattern] interface for *Regex.
func (p *Regex) String() (s string) { return p.Text }

// sealed implements the [Pattern] interface for *Regex.
func (p *Regex) sealed() {}

// Regexp returns the compiled case-insensitive expression.  It must not be
// modified.
func (p *Regex) Regexp() (re *regexp.Regexp) { return p.re }

// Rule is a parsed network filtering rule.
type Rule struct {
	// Pattern is the matching part of the rule.  It is never nil.
	Pattern Pattern

	// Text is the original rule text.  It is only used for diagnostics.
	Text string

	// Options are the constraints from the rule modifiers.
	Options Options

	// IsException is true if this is an exception rule, i.e. it starts with
	// "@@".
	IsException bool
}

// String implements the fmt.Stringer interface for *Rule.
func (r *Rule) String() (s string) {
	return r.Text
}

// MatchType is a shorthand for r.Pattern.MatchType().
func (r *Rule) MatchType() (t MatchType) {
	return r.Pattern.MatchType()
}

// MatchOptions returns true if the rule modifiers allow the rule to be applied
// to req.  The pattern itself is matched by the lookup tables.
func (r *Rule) MatchOptions(req *Request) (ok bool) {
	return r.Options.Match(req)
}
