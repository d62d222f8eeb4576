package lookup

import (
	"fmt"
	"math"
	"strings"

	"github.com/AdguardTeam/urlblock/internal/fasthash"
	"github.com/AdguardTeam/urlblock/internal/ufnet"
	"github.com/AdguardTeam/urlblock/rules"
	"github.com/gobwas/glob"
	iradix "github.com/hashicorp/go-immutable-radix"
)

// shortcutLength is the length of the URL window hashed by the shortcuts
// index.
const shortcutLength = 5

// anchor is the position a wildcard pattern is bound to.
type anchor uint8

const (
	// anchorNone means that the pattern may match anywhere in the URL.
	anchorNone anchor = iota

	// anchorStart is set by a leading "|".
	anchorStart

	// anchorHost is set by a leading "||".  The pattern must match at the
	// start of the hostname or right after any dot within it.
	anchorHost
)

// compiledPattern is a wildcard rule compiled into a glob.
type compiledPattern struct {
	rule *rules.Rule
	glob glob.Glob

	// prefix is the literal the pattern starts with after the anchor.  It is
	// empty if the pattern starts with a '*'.
	prefix string

	// shortcut is the longest literal run of the pattern.
	shortcut string

	anchor anchor

	// endAnchored is set by a trailing "|".
	endAnchored bool
}

// compilePattern parses the anchors of a wildcard text and compiles the rest
// into a glob.  Every character except for '*' is matched literally.
func compilePattern(r *rules.Rule, text string) (p *compiledPattern, err error) {
	p = &compiledPattern{rule: r}

	switch {
	case strings.HasPrefix(text, "||"):
		p.anchor, text = anchorHost, text[2:]
	case strings.HasPrefix(text, "|"):
		p.anchor, text = anchorStart, text[1:]
	}

	p.endAnchored = strings.HasSuffix(text, "|")
	if p.endAnchored {
		text = text[:len(text)-1]
	}

	parts := strings.Split(text, "*")
	p.prefix = parts[0]

	b := &strings.Builder{}
	if p.anchor == anchorNone {
		b.WriteByte('*')
	}

	for i, part := range parts {
		if i > 0 {
			b.WriteByte('*')
		}

		b.WriteString(glob.QuoteMeta(part))

		if len(part) > len(p.shortcut) {
			p.shortcut = part
		}
	}

	if !p.endAnchored {
		b.WriteByte('*')
	}

	p.glob, err = glob.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", r.Text, err)
	}

	return p, nil
}

// match returns true if the pattern matches the lowercased url.
func (p *compiledPattern) match(url string) (ok bool) {
	switch p.anchor {
	case anchorStart:
		return p.glob.Match(url)
	case anchorHost:
		ok = false
		forEachHostStart(url, func(pos int) (cont bool) {
			ok = p.glob.Match(url[pos:])

			return !ok
		})

		return ok
	default:
		return p.glob.Match(url)
	}
}

// forEachHostStart calls f with the position of the hostname in url and every
// position right after a dot within it.  It stops when f returns false.
func forEachHostStart(url string, f func(pos int) (cont bool)) {
	start, end, ok := ufnet.HostBounds(url)
	if !ok {
		return
	}

	if !f(start) {
		return
	}

	for i := start; i < end; i++ {
		if url[i] == '.' && !f(i+1) {
			return
		}
	}
}

// PatternTable is a lookup table for the wildcard rules.  The rules are
// distributed over three indexes:
//
//  1. Anchored rules which start with a literal go to radix trees keyed by
//     that literal.  Matching walks the tree along the URL, so only the rules
//     which prefix is present at the anchor position are checked.
//
//  2. Other rules with a literal run of at least shortcutLength characters go
//     to the shortcuts table.  Its key is the hash of a shortcutLength window
//     of the literal, and matching hashes every such window of the URL.
//
//  3. The remaining rules are scanned sequentially.
type PatternTable struct {
	// startTree contains the rules anchored at the start of the URL.
	startTree *iradix.Tree

	// hostTree contains the rules anchored at the hostname.
	hostTree *iradix.Tree

	// shortcuts maps the hash of the shortcut window to the patterns.
	shortcuts map[uint32][]*compiledPattern

	// histogram helps to choose the least used window for the shortcuts
	// table.
	histogram map[uint32]int

	// scan are the patterns that are not eligible for any index.
	scan []*compiledPattern

	count int
}

// type check
var _ Table = (*PatternTable)(nil)

// NewPatternTable returns a new properly initialized *PatternTable.
func NewPatternTable() (t *PatternTable) {
	return &PatternTable{
		startTree: iradix.New(),
		hostTree:  iradix.New(),
		shortcuts: map[uint32][]*compiledPattern{},
		histogram: map[uint32]int{},
	}
}

// AddPattern adds a rule with the [*rules.Wildcard] pattern.  It returns an
// error if r has another pattern type or if it cannot be compiled.
func (t *PatternTable) AddPattern(r *rules.Rule) (err error) {
	w, ok := r.Pattern.(*rules.Wildcard)
	if !ok {
		return fmt.Errorf("rule %q: bad pattern type %s", r.Text, r.MatchType())
	}

	p, err := compilePattern(r, w.Text)
	if err != nil {
		return err
	}

	t.count++

	switch {
	case p.anchor == anchorStart && p.prefix != "":
		t.startTree = insertPattern(t.startTree, p)
	case p.anchor == anchorHost && p.prefix != "":
		t.hostTree = insertPattern(t.hostTree, p)
	case len(p.shortcut) >= shortcutLength:
		t.addShortcut(p)
	default:
		t.scan = append(t.scan, p)
	}

	return nil
}

// insertPattern appends p to the patterns stored under its prefix and returns
// the new tree.
func insertPattern(tree *iradix.Tree, p *compiledPattern) (res *iradix.Tree) {
	key := []byte(p.prefix)

	var ps []*compiledPattern
	if v, ok := tree.Get(key); ok {
		ps = v.([]*compiledPattern)
	}

	res, _, _ = tree.Insert(key, append(ps, p))

	return res
}

// addShortcut adds p to the shortcuts table using the least used window of
// its shortcut.
func (t *PatternTable) addShortcut(p *compiledPattern) {
	var hash uint32
	minCount := math.MaxInt
	for i := 0; i <= len(p.shortcut)-shortcutLength; i++ {
		h := fasthash.Between(p.shortcut, i, i+shortcutLength)
		if count := t.histogram[h]; count < minCount {
			minCount = count
			hash = h
		}
	}

	t.histogram[hash] = minCount + 1
	t.shortcuts[hash] = append(t.shortcuts[hash], p)
}

// TryAdd implements the [Table] interface for *PatternTable.
func (t *PatternTable) TryAdd(r *rules.Rule) (ok bool) {
	return r.MatchType() == rules.MatchTypeWildcard && t.AddPattern(r) == nil
}

// IsMatch implements the [Table] interface for *PatternTable.
func (t *PatternTable) IsMatch(url string) (ok bool) {
	return t.find(strings.ToLower(url), func(_ *compiledPattern) (ok bool) {
		return true
	}) != nil
}

// Match implements the [Table] interface for *PatternTable.  End-anchored
// patterns don't match truncated URLs, since the end of such URL is unknown.
func (t *PatternTable) Match(r *rules.Request) (rule *rules.Rule) {
	p := t.find(r.URLLowerCase, func(p *compiledPattern) (ok bool) {
		return !(r.Truncated && p.endAnchored) && p.rule.MatchOptions(r)
	})
	if p == nil {
		return nil
	}

	return p.rule
}

// find returns the first pattern that matches the lowercased url and for which
// accept returns true.
func (t *PatternTable) find(
	url string,
	accept func(p *compiledPattern) (ok bool),
) (found *compiledPattern) {
	if found = t.findAnchored(url, accept); found != nil {
		return found
	}

	if found = t.findShortcut(url, accept); found != nil {
		return found
	}

	for _, p := range t.scan {
		if p.match(url) && accept(p) {
			return p
		}
	}

	return nil
}

// findAnchored looks up the patterns in the radix trees.
func (t *PatternTable) findAnchored(
	url string,
	accept func(p *compiledPattern) (ok bool),
) (found *compiledPattern) {
	if t.startTree.Len() == 0 && t.hostTree.Len() == 0 {
		return nil
	}

	path := []byte(url)
	walk := func(tree *iradix.Tree, pos int) {
		tree.Root().WalkPath(path[pos:], func(_ []byte, v any) (stop bool) {
			for _, p := range v.([]*compiledPattern) {
				if p.glob.Match(url[pos:]) && accept(p) {
					found = p

					return true
				}
			}

			return false
		})
	}

	if t.startTree.Len() > 0 {
		walk(t.startTree, 0)
		if found != nil {
			return found
		}
	}

	if t.hostTree.Len() > 0 {
		forEachHostStart(url, func(pos int) (cont bool) {
			walk(t.hostTree, pos)

			return found == nil
		})
	}

	return found
}

// findShortcut looks up the patterns in the shortcuts table.
func (t *PatternTable) findShortcut(
	url string,
	accept func(p *compiledPattern) (ok bool),
) (found *compiledPattern) {
	if len(t.shortcuts) == 0 {
		return nil
	}

	for i := 0; i <= len(url)-shortcutLength; i++ {
		ps, ok := t.shortcuts[fasthash.Between(url, i, i+shortcutLength)]
		if !ok {
			continue
		}

		for _, p := range ps {
			if p.match(url) && accept(p) {
				return p
			}
		}
	}

	return nil
}

// Count implements the [Table] interface for *PatternTable.
func (t *PatternTable) Count() (n int) {
	return t.count
}
