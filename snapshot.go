package urlblock

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/urlblock/internal/bloom"
	"github.com/AdguardTeam/urlblock/internal/lookup"
	"github.com/AdguardTeam/urlblock/rules"
	lru "github.com/hashicorp/golang-lru"
)

// ruleSet is a triple of lookup tables for either block or exception rules.
type ruleSet struct {
	exact   *lookup.ExactTable
	pattern *lookup.PatternTable
	regex   *lookup.RegexTable
}

// newRuleSet returns a new empty rule set.
func newRuleSet() (rs *ruleSet) {
	return &ruleSet{
		exact:   lookup.NewExactTable(),
		pattern: lookup.NewPatternTable(),
		regex:   lookup.NewRegexTable(),
	}
}

// add routes r to the table for its match type.
func (rs *ruleSet) add(r *rules.Rule) (err error) {
	switch r.MatchType() {
	case rules.MatchTypeExactDomain:
		rs.exact.AddDomain(r)
	case rules.MatchTypeExactURL:
		rs.exact.AddURL(r)
	case rules.MatchTypeWildcard:
		return rs.pattern.AddPattern(r)
	case rules.MatchTypeRegex:
		return rs.regex.AddPattern(r)
	}

	return nil
}

// match returns the first rule matching req.  The exact domain lookup is
// skipped if checkHost is false.
func (rs *ruleSet) match(req *rules.Request, checkHost bool) (r *rules.Rule) {
	if checkHost {
		if r = rs.exact.MatchHost(req); r != nil {
			return r
		}
	}

	if r = rs.exact.MatchURL(req); r != nil {
		return r
	}

	if r = rs.pattern.Match(req); r != nil {
		return r
	}

	return rs.regex.Match(req)
}

// count returns the total number of rules in the set.
func (rs *ruleSet) count() (n int) {
	return rs.exact.Count() + rs.pattern.Count() + rs.regex.Count()
}

// snapshot is an immutable loaded rule set.  It is replaced as a whole on
// reload.
type snapshot struct {
	block     *ruleSet
	exception *ruleSet

	// bloom contains the domains of the exact domain block rules.
	bloom *bloom.Filter

	// cache is the decision cache.  It is nil if caching is disabled.
	cache *lru.Cache

	loadedAt time.Time
	sources  []*SourceReport
	parse    rules.ParseStats
	loadTime time.Duration

	// bloomCoversAll is true if every block rule is an exact domain rule, so a
	// negative Bloom filter result means that nothing is blocked.
	bloomCoversAll bool
}

// newSnapshot distributes rs over the lookup tables.  The rules which cannot
// be indexed are logged and skipped.
func newSnapshot(
	ctx context.Context,
	logger *slog.Logger,
	rs []*rules.Rule,
	fpRate float64,
	cacheSize int,
) (s *snapshot) {
	s = &snapshot{
		block:     newRuleSet(),
		exception: newRuleSet(),
	}

	for _, r := range rs {
		set := s.block
		if r.IsException {
			set = s.exception
		}

		if err := set.add(r); err != nil {
			logger.WarnContext(ctx, "adding rule", "rule", r.Text, slogutil.KeyError, err)
		}
	}

	b := s.block
	s.bloom = bloom.New(uint(b.exact.Count()+b.pattern.Count()), fpRate)
	for _, r := range rs {
		if p, ok := r.Pattern.(*rules.ExactDomain); ok && !r.IsException {
			s.bloom.Add(p.Domain)
		}
	}

	s.bloomCoversAll = b.exact.URLCount() == 0 && b.pattern.Count() == 0 && b.regex.Count() == 0

	if cacheSize > 0 {
		// lru.New only fails on a non-positive size.
		s.cache, _ = lru.New(cacheSize)
	}

	return s
}

// cacheKey is the key of the decision cache.
type cacheKey struct {
	url          string
	resourceType string
	pageURL      string
}

// shouldBlock returns the cached decision or makes a new one.
func (s *snapshot) shouldBlock(url, resourceType, pageURL string) (ok bool) {
	if s.cache == nil {
		return s.decide(rules.NewRequest(url, resourceType, pageURL)) != nil
	}

	key := cacheKey{
		url:          url,
		resourceType: resourceType,
		pageURL:      pageURL,
	}

	if v, hit := s.cache.Get(key); hit {
		return v.(bool)
	}

	ok = s.decide(rules.NewRequest(url, resourceType, pageURL)) != nil

	// The caller may reuse the memory of the strings after the call.
	key.url = strings.Clone(url)
	key.resourceType = strings.Clone(resourceType)
	key.pageURL = strings.Clone(pageURL)
	s.cache.Add(key, ok)

	return ok
}

// decide returns the block rule that applies to req unless an exception rule
// applies to it as well.  Checking the exceptions only after a block rule
// matches gives the same result as checking them first.
func (s *snapshot) decide(req *rules.Request) (r *rules.Rule) {
	checkHost := s.bloom.MightContainHost(req.Hostname)
	if !checkHost && s.bloomCoversAll {
		return nil
	}

	r = s.block.match(req, checkHost)
	if r == nil {
		return nil
	}

	if s.exception.match(req, true) != nil {
		return nil
	}

	return r
}
