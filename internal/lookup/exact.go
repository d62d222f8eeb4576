package lookup

import (
	"strings"

	"github.com/AdguardTeam/urlblock/internal/ufnet"
	"github.com/AdguardTeam/urlblock/rules"
)

// ExactTable is a lookup table for the rules that match a whole domain, with
// its subdomains, or a whole URL.  Both are simple hash map lookups.
type ExactTable struct {
	// domains maps the lowercased domain to the rules for it.
	domains map[string][]*rules.Rule

	// urls maps the lowercased URL to the rules for it.
	urls map[string][]*rules.Rule

	domainCount int
	urlCount    int
}

// type check
var _ Table = (*ExactTable)(nil)

// NewExactTable returns a new properly initialized *ExactTable.
func NewExactTable() (t *ExactTable) {
	return &ExactTable{
		domains: map[string][]*rules.Rule{},
		urls:    map[string][]*rules.Rule{},
	}
}

// AddDomain adds a rule with the [*rules.ExactDomain] pattern.  It returns
// false if r has another pattern type.
func (t *ExactTable) AddDomain(r *rules.Rule) (ok bool) {
	p, ok := r.Pattern.(*rules.ExactDomain)
	if !ok {
		return false
	}

	t.domains[p.Domain] = append(t.domains[p.Domain], r)
	t.domainCount++

	return true
}

// AddURL adds a rule with the [*rules.ExactURL] pattern.  It returns false if
// r has another pattern type.
func (t *ExactTable) AddURL(r *rules.Rule) (ok bool) {
	p, ok := r.Pattern.(*rules.ExactURL)
	if !ok {
		return false
	}

	t.urls[p.URL] = append(t.urls[p.URL], r)
	t.urlCount++

	return true
}

// TryAdd implements the [Table] interface for *ExactTable.
func (t *ExactTable) TryAdd(r *rules.Rule) (ok bool) {
	return t.AddDomain(r) || t.AddURL(r)
}

// IsMatch implements the [Table] interface for *ExactTable.
func (t *ExactTable) IsMatch(url string) (ok bool) {
	url = strings.ToLower(url)
	if _, ok = t.urls[url]; ok {
		return true
	}

	ufnet.ForEachSuffix(ufnet.ExtractHostname(url), func(suffix string) (cont bool) {
		_, ok = t.domains[suffix]

		return !ok
	})

	return ok
}

// Match implements the [Table] interface for *ExactTable.
func (t *ExactTable) Match(r *rules.Request) (rule *rules.Rule) {
	if rule = t.MatchHost(r); rule != nil {
		return rule
	}

	return t.MatchURL(r)
}

// MatchHost returns the first domain rule matching the hostname of r or any
// of its parent domains.
func (t *ExactTable) MatchHost(r *rules.Request) (rule *rules.Rule) {
	if t.domainCount == 0 {
		return nil
	}

	ufnet.ForEachSuffix(r.Hostname, func(suffix string) (cont bool) {
		rule = firstMatching(t.domains[suffix], r)

		return rule == nil
	})

	return rule
}

// MatchURL returns the first URL rule matching the whole URL of r.  A truncated
// URL matches no rules.
func (t *ExactTable) MatchURL(r *rules.Request) (rule *rules.Rule) {
	if t.urlCount == 0 || r.Truncated {
		return nil
	}

	return firstMatching(t.urls[r.URLLowerCase], r)
}

// Count implements the [Table] interface for *ExactTable.
func (t *ExactTable) Count() (n int) {
	return t.domainCount + t.urlCount
}

// DomainCount returns the number of domain rules.
func (t *ExactTable) DomainCount() (n int) {
	return t.domainCount
}

// URLCount returns the number of URL rules.
func (t *ExactTable) URLCount() (n int) {
	return t.urlCount
}
