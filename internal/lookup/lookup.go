// Package lookup implements the matchers that the engine uses to find the
// rules matching a request.
package lookup

import "github.com/AdguardTeam/urlblock/rules"

// Table is a common interface for all lookup tables.  Tables are filled once
// and are safe for concurrent use after that.
type Table interface {
	// TryAdd attempts to add the rule to the lookup table.  It returns
	// true/false depending on whether the rule is eligible for this lookup
	// table.
	TryAdd(r *rules.Rule) (ok bool)

	// IsMatch returns true if the pattern of any rule matches url.  The rule
	// options are not checked.
	IsMatch(url string) (ok bool)

	// Match returns the first rule which pattern and options match r or nil
	// if there is none.
	Match(r *rules.Request) (rule *rules.Rule)

	// Count returns the number of rules in the table.
	Count() (n int)
}

// firstMatching returns the first rule from rs which options match req.
func firstMatching(rs []*rules.Rule, req *rules.Request) (rule *rules.Rule) {
	for _, r := range rs {
		if r.MatchOptions(req) {
			return r
		}
	}

	return nil
}
