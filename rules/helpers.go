package rules

import (
	"sort"
	"strings"

	"github.com/AdguardTeam/urlblock/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// findSorted finds val in a sorted slice.  It returns the value index or -1 if
// nothing is found.
func findSorted(sortedArray []string, val string) (idx int) {
	i := sort.SearchStrings(sortedArray, val)
	if i == len(sortedArray) || sortedArray[i] != val {
		return -1
	}

	return i
}

// isDomainOrSubdomainOfAny checks if domain is one of domains or a subdomain
// of any of them.  A pattern like "google.*" matches any "google.TLD" domain
// or its subdomain, where TLD is a public suffix.
func isDomainOrSubdomainOfAny(domain string, domains []string) (ok bool) {
	if domain == "" {
		return false
	}

	for _, d := range domains {
		if !strings.HasSuffix(d, ".*") {
			if ufnet.IsSubdomainOrSelf(domain, d) {
				return true
			}

			continue
		}

		if matchWildcardTLD(domain, d[:len(d)-1]) {
			return true
		}
	}

	return false
}

// matchWildcardTLD checks domain against a "name." prefix of a "name.*"
// domain pattern.
func matchWildcardTLD(domain, withoutWildcard string) (ok bool) {
	if !strings.HasPrefix(domain, withoutWildcard) &&
		!strings.Contains(domain, "."+withoutWildcard) {
		return false
	}

	tld, icann := publicsuffix.PublicSuffix(domain)

	// Make sure that the domain's TLD is one of the public suffixes.
	return tld != "" && icann && strings.HasSuffix(domain, withoutWildcard+tld)
}
