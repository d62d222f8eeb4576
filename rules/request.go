package rules

import (
	"strings"

	"github.com/AdguardTeam/urlblock/internal/ufnet"
	"golang.org/x/net/publicsuffix"
)

// maxURLLength limits the URL length by 4 KiB.  It appears that there can be
// URLs longer than a megabyte, and it makes no sense to go through the whole
// URL.
const maxURLLength = 4 * 1024

// Request represents a request to check with all its necessary properties.
type Request struct {
	// URL is the full request URL.
	URL string

	// URLLowerCase is the full request URL in lower case.
	URLLowerCase string

	// Hostname is the lowercased hostname of the request.
	Hostname string

	// Domain is the effective top-level domain of the request with an
	// additional label.
	Domain string

	// PageURL is the full URL of the page that issued the request.
	PageURL string

	// PageHostname is the lowercased hostname of the page.
	PageHostname string

	// PageDomain is the effective top-level domain of the page with an
	// additional label.
	PageDomain string

	// ResourceType is the lowercased type of the requested resource, for
	// example "script" or "image".  Empty means unknown.
	ResourceType string

	// ThirdParty is true if the request domain differs from the page domain.
	// It is false when the page is unknown.
	ThirdParty bool

	// Truncated is true if URL was cut to the maximum length.  End-anchored
	// and exact URL rules never match truncated URLs.
	Truncated bool
}

// NewRequest creates a new instance of *Request and populates its fields.
// resourceType and pageURL may be empty.
func NewRequest(url, resourceType, pageURL string) (r *Request) {
	truncated := len(url) > maxURLLength
	if truncated {
		url = url[:maxURLLength]
	}

	if len(pageURL) > maxURLLength {
		pageURL = pageURL[:maxURLLength]
	}

	r = &Request{
		URL:          url,
		URLLowerCase: strings.ToLower(url),
		PageURL:      pageURL,
		ResourceType: strings.ToLower(resourceType),
		Truncated:    truncated,
	}

	if alias, ok := typeAliases[r.ResourceType]; ok {
		r.ResourceType = alias
	}

	r.Hostname = ufnet.ExtractHostname(r.URLLowerCase)
	r.Domain = domainOf(r.Hostname)

	if pageURL != "" {
		r.PageHostname = ufnet.ExtractHostname(strings.ToLower(pageURL))
		r.PageDomain = domainOf(r.PageHostname)
	}

	r.ThirdParty = r.PageDomain != "" && r.PageDomain != r.Domain

	return r
}

// domainOf returns the eTLD+1 of hostname or hostname itself if there's none.
func domainOf(hostname string) (domain string) {
	if d := effectiveTLDPlusOne(hostname); d != "" {
		return d
	}

	return hostname
}

// effectiveTLDPlusOne is a faster version of publicsuffix.EffectiveTLDPlusOne
// that avoids using fmt.Errorf when the domain is less or equal the suffix.
func effectiveTLDPlusOne(hostname string) (domain string) {
	hostnameLen := len(hostname)
	if hostnameLen < 1 {
		return ""
	}

	if hostname[0] == '.' || hostname[hostnameLen-1] == '.' {
		return ""
	}

	suffix, _ := publicsuffix.PublicSuffix(hostname)

	i := hostnameLen - len(suffix) - 1
	if i < 0 || hostname[i] != '.' {
		return ""
	}

	return hostname[1+strings.LastIndex(hostname[:i], "."):]
}
