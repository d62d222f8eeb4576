package rules

import (
	"fmt"
	"slices"
	"strings"
)

// ThirdParty is the tri-state value of the $third-party modifier.
type ThirdParty uint8

// ThirdParty values.
const (
	// ThirdPartyUnset means that the rule applies to all requests.
	ThirdPartyUnset ThirdParty = iota

	// ThirdPartyOnly is set by $third-party.
	ThirdPartyOnly

	// FirstPartyOnly is set by $~third-party.
	FirstPartyOnly
)

// typeAliases maps the short uBlock names of the resource types to the
// canonical ones.
var typeAliases = map[string]string{
	"css":   "stylesheet",
	"doc":   "document",
	"frame": "subdocument",
	"xhr":   "xmlhttprequest",
}

// resourceTypes are the canonical names of the supported resource types.
var resourceTypes = map[string]struct{}{
	"beacon":         {},
	"document":       {},
	"font":           {},
	"image":          {},
	"media":          {},
	"object":         {},
	"other":          {},
	"ping":           {},
	"popup":          {},
	"script":         {},
	"stylesheet":     {},
	"subdocument":    {},
	"webrtc":         {},
	"websocket":      {},
	"xmlhttprequest": {},
}

// Options are the constraints from the rule modifiers.  All the present
// constraints must be satisfied for a rule to apply.
type Options struct {
	// AllowedTypes is the sorted list of resource types the rule is limited
	// to.  Empty means all types.
	AllowedTypes []string

	// BlockedTypes is the sorted list of resource types the rule does not
	// apply to.
	BlockedTypes []string

	// Domains is the list of page domains the rule is limited to.  Empty
	// means all domains.
	Domains []string

	// ExcludedDomains is the list of page domains the rule does not apply
	// to.
	ExcludedDomains []string

	// ThirdParty is the $third-party constraint.
	ThirdParty ThirdParty
}

// HasOptions returns true if any constraint is present.
func (o *Options) HasOptions() (ok bool) {
	return o.ThirdParty != ThirdPartyUnset ||
		len(o.AllowedTypes) > 0 ||
		len(o.BlockedTypes) > 0 ||
		len(o.Domains) > 0 ||
		len(o.ExcludedDomains) > 0
}

// Match returns true if every constraint is satisfied by r.
func (o *Options) Match(r *Request) (ok bool) {
	switch {
	case
		o.ThirdParty == ThirdPartyOnly && !r.ThirdParty,
		o.ThirdParty == FirstPartyOnly && r.ThirdParty,
		!o.matchResourceType(r.ResourceType),
		!o.matchPageDomain(r.PageHostname):
		return false
	default:
		return true
	}
}

// matchResourceType checks t against the type constraints.  An unknown, i.e.
// empty, resource type is not constrained.
func (o *Options) matchResourceType(t string) (ok bool) {
	if t == "" {
		return true
	}

	if findSorted(o.BlockedTypes, t) != -1 {
		return false
	}

	return len(o.AllowedTypes) == 0 || findSorted(o.AllowedTypes, t) != -1
}

// matchPageDomain checks if the rule is allowed on the page with the given
// hostname, e.g. it checks it against the $domain modifier.
func (o *Options) matchPageDomain(host string) (ok bool) {
	if len(o.ExcludedDomains) > 0 && isDomainOrSubdomainOfAny(host, o.ExcludedDomains) {
		// i.e. $domain=~example.org
		return false
	}

	return len(o.Domains) == 0 || isDomainOrSubdomainOfAny(host, o.Domains)
}

// parseOptions parses the comma-separated modifiers string.
func parseOptions(s string) (o Options, err error) {
	if s == "" {
		return o, nil
	}

	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}

		err = o.loadOption(tok)
		if err != nil {
			return Options{}, err
		}
	}

	slices.Sort(o.AllowedTypes)
	o.AllowedTypes = slices.Compact(o.AllowedTypes)
	slices.Sort(o.BlockedTypes)
	o.BlockedTypes = slices.Compact(o.BlockedTypes)

	return o, nil
}

// loadOption loads a single lowercased modifier.
func (o *Options) loadOption(tok string) (err error) {
	switch tok {
	case "third-party", "3p", "~first-party", "~1p":
		o.ThirdParty = ThirdPartyOnly
	case "~third-party", "~3p", "first-party", "1p":
		o.ThirdParty = FirstPartyOnly
	case "important", "match-case", "all":
		// These are accepted, but they don't constrain the match.
	default:
		return o.loadValueOption(tok)
	}

	return nil
}

// loadValueOption loads the modifiers with a value and the resource types.
func (o *Options) loadValueOption(tok string) (err error) {
	name, value, hasValue := strings.Cut(tok, "=")
	if hasValue {
		if name != "domain" {
			return fmt.Errorf("$%s: %w", name, ErrUnsupportedRule)
		}

		o.Domains, o.ExcludedDomains = loadDomains(value)

		return nil
	}

	restricted := strings.HasPrefix(name, "~")
	if restricted {
		name = name[1:]
	}

	if alias, ok := typeAliases[name]; ok {
		name = alias
	}

	if _, ok := resourceTypes[name]; !ok {
		return fmt.Errorf("$%s: %w", name, ErrUnsupportedRule)
	}

	if restricted {
		o.BlockedTypes = append(o.BlockedTypes, name)
	} else {
		o.AllowedTypes = append(o.AllowedTypes, name)
	}

	return nil
}

// loadDomains loads the $domain modifier value.  Domains prefixed with '~' are
// restricted, others are permitted.
func loadDomains(value string) (permitted, restricted []string) {
	for _, d := range strings.Split(value, "|") {
		d = strings.TrimSpace(d)
		if strings.HasPrefix(d, "~") {
			if d = d[1:]; d != "" {
				restricted = append(restricted, d)
			}
		} else if d != "" {
			permitted = append(permitted, d)
		}
	}

	return permitted, restricted
}
