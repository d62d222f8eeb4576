package rules

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	maskException    = "@@"
	maskRegex        = "/"
	maskDomainStart  = "||"
	maskPipe         = "|"
	maskSeparator    = "^"
	optionsDelimiter = "$"
)

// maxRecordedErrors is the maximum number of errors kept in [ParseStats].
const maxRecordedErrors = 16

// cosmeticMarkers are the markers of element hiding, CSS injection, and
// scriptlet rules.
var cosmeticMarkers = []string{
	"##",
	"#@#",
	"#?#",
	"#@?#",
	"#$#",
	"#@$#",
	"#%#",
	"#@%#",
}

// lineKind is the classification of a filter-list line.
type lineKind uint8

const (
	lineKindBlank lineKind = iota
	lineKindComment
	lineKindCosmetic
	lineKindNetwork
)

// ParseStats are the counters of a single list parse.
type ParseStats struct {
	// Errors are the first errors encountered, with line numbers.
	Errors []error `json:"-"`

	// Lines is the total number of lines.
	Lines int `json:"lines"`

	// Parsed is the number of network rules produced.
	Parsed int `json:"parsed"`

	// Skipped is the number of blank, comment, and cosmetic lines.
	Skipped int `json:"skipped"`

	// Cosmetic is the number of cosmetic lines, they are counted in Skipped
	// as well.
	Cosmetic int `json:"cosmetic"`

	// Errored is the number of malformed or unsupported lines.
	Errored int `json:"errored"`
}

// Add adds the counters of other to s.
func (s *ParseStats) Add(other *ParseStats) {
	s.Lines += other.Lines
	s.Parsed += other.Parsed
	s.Skipped += other.Skipped
	s.Cosmetic += other.Cosmetic
	s.Errored += other.Errored

	for _, err := range other.Errors {
		s.recordError(err)
	}
}

// recordError saves err if there is still room for it.
func (s *ParseStats) recordError(err error) {
	if len(s.Errors) < maxRecordedErrors {
		s.Errors = append(s.Errors, err)
	}
}

// ParseLine parses one filter-list line.  It returns nil and no error for
// blank lines, comments, and cosmetic rules, which are not supported.
func ParseLine(line string) (r *Rule, err error) {
	r, _, err = parseLine(line)

	return r, err
}

// ParseList parses every line of text.  Malformed lines are skipped and
// counted, ParseList never fails.
func ParseList(text string) (rs []*Rule, stats ParseStats) {
	for text != "" {
		var line string
		line, text, _ = strings.Cut(text, "\n")

		rs = stats.consume(rs, line)
	}

	return rs, stats
}

// ParseReader is like [ParseList] but reads the lines from r.  It only returns
// an error if reading fails, the rules parsed before that are returned as
// well.
func ParseReader(r io.Reader) (rs []*Rule, stats ParseStats, err error) {
	br := bufio.NewReader(r)
	for {
		var line string
		line, err = br.ReadString('\n')
		if line != "" {
			rs = stats.consume(rs, line)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return rs, stats, nil
			}

			return rs, stats, fmt.Errorf("reading line %d: %w", stats.Lines+1, err)
		}
	}
}

// consume parses line, updates the counters, and appends the rule to rs if
// there is one.
func (s *ParseStats) consume(rs []*Rule, line string) (res []*Rule) {
	s.Lines++

	r, kind, err := parseLineSafe(line)
	switch {
	case err != nil:
		s.Errored++
		s.recordError(fmt.Errorf("line %d: %w", s.Lines, err))
	case r != nil:
		s.Parsed++

		return append(rs, r)
	default:
		s.Skipped++
		if kind == lineKindCosmetic {
			s.Cosmetic++
		}
	}

	return rs
}

// parseLineSafe calls parseLine and turns a panic into an error so that one
// line can never abort the whole list.
func parseLineSafe(line string) (r *Rule, kind lineKind, err error) {
	defer func() {
		if v := recover(); v != nil {
			r, kind, err = nil, lineKindNetwork, fmt.Errorf("parsing %q: panic: %v", line, v)
		}
	}()

	return parseLine(line)
}

// parseLine classifies the line and parses it if it is a network rule.
func parseLine(line string) (r *Rule, kind lineKind, err error) {
	line = strings.TrimSpace(line)
	kind = classifyLine(line)
	if kind != lineKindNetwork {
		return nil, kind, nil
	}

	r, err = newRule(line)

	return r, kind, err
}

// classifyLine returns the kind of the trimmed line.
func classifyLine(line string) (kind lineKind) {
	if line == "" {
		return lineKindBlank
	}

	for _, marker := range cosmeticMarkers {
		if strings.Contains(line, marker) {
			return lineKindCosmetic
		}
	}

	switch {
	case
		line[0] == '!',
		line[0] == '#',
		// Filter list headers like "[Adblock Plus 2.0]".
		line[0] == '[' && line[len(line)-1] == ']':
		return lineKindComment
	default:
		return lineKindNetwork
	}
}

// newRule parses a network rule from the trimmed line.
func newRule(line string) (r *Rule, err error) {
	text := line

	isException := strings.HasPrefix(line, maskException)
	if isException {
		line = line[len(maskException):]
	}

	if line == "" {
		return nil, &SyntaxError{msg: "the rule is too short", ruleText: text}
	}

	rawPattern, rawOptions := splitOptions(line)

	opts, err := parseOptions(rawOptions)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", text, err)
	}

	p, err := newPattern(rawPattern, text)
	if err != nil {
		return nil, err
	}

	if w, ok := p.(*Wildcard); ok && isTooWide(w.Text) && len(opts.Domains) == 0 {
		return nil, fmt.Errorf("rule %q: %w", text, ErrTooWideRule)
	}

	return &Rule{
		Pattern:     p,
		Text:        text,
		Options:     opts,
		IsException: isException,
	}, nil
}

// splitOptions splits the rule text into the pattern and the options string.
// The split happens on the first '$', but for regular expressions it happens
// after the closing slash so that "$" anchors inside of them survive.
func splitOptions(s string) (pattern, options string) {
	if strings.HasPrefix(s, maskRegex) {
		if isRegexPattern(s) {
			return s, ""
		}

		for i := len(s) - 1; i > 1; i-- {
			if s[i] == '$' && s[i-1] == '/' {
				return s[:i], s[i+1:]
			}
		}
	}

	pattern, options, _ = strings.Cut(s, optionsDelimiter)

	return pattern, options
}

// isRegexPattern returns true if s is enclosed in slashes and has a non-empty
// expression.
func isRegexPattern(s string) (ok bool) {
	return len(s) > 2 && strings.HasPrefix(s, maskRegex) && strings.HasSuffix(s, maskRegex)
}

// newPattern classifies the raw pattern and builds the corresponding
// [Pattern].
func newPattern(raw, ruleText string) (p Pattern, err error) {
	lower := strings.ToLower(raw)

	switch {
	case isRegexPattern(raw):
		src := raw[1 : len(raw)-1]

		// Compile from the original text, lowercasing would change escapes
		// like "\D" and "\S".
		re, compErr := regexp.Compile("(?i)" + src)
		if compErr != nil {
			return nil, &SyntaxError{msg: fmt.Sprintf("invalid regex: %s", compErr), ruleText: ruleText}
		}

		return &Regex{re: re, Text: strings.ToLower(src)}, nil
	case
		len(lower) > len(maskDomainStart)+len(maskSeparator) &&
			strings.HasPrefix(lower, maskDomainStart) &&
			strings.HasSuffix(lower, maskSeparator) &&
			isPlainHost(lower[len(maskDomainStart):len(lower)-len(maskSeparator)]):
		return &ExactDomain{Domain: lower[len(maskDomainStart) : len(lower)-len(maskSeparator)]}, nil
	case
		len(lower) > 2*len(maskPipe) &&
			!strings.HasPrefix(lower, maskDomainStart) &&
			strings.HasPrefix(lower, maskPipe) &&
			strings.HasSuffix(lower, maskPipe):
		return &ExactURL{URL: lower[len(maskPipe) : len(lower)-len(maskPipe)]}, nil
	default:
		return &Wildcard{Text: lower}, nil
	}
}

// isPlainHost returns true if s can be a hostname, i.e. it is not empty and
// has none of the path, wildcard, or anchor characters.
func isPlainHost(s string) (ok bool) {
	return s != "" && !strings.ContainsAny(s, "/*^|?=&:")
}

// isTooWide returns true if the wildcard pattern, without anchors and
// wildcards, is shorter than three characters.
func isTooWide(pattern string) (ok bool) {
	return len(strings.Trim(pattern, "|*^")) < 3
}
