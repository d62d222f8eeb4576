// Package ufnet contains utilities for hostname extraction and domain
// traversal.
package ufnet

import "strings"

// HostBounds returns the start and end indexes of the host part of the given
// URL.  ok is false if there is no host.
//
// NOTE: HostBounds is an optimized, best-effort function.  It skips the
// userinfo part and keeps the brackets off IPv6 literals, but it does not
// validate anything.
func HostBounds(url string) (start, end int, ok bool) {
	start = strings.Index(url, "//")
	if start == -1 {
		// This is a non-hierarchical structured URL (e.g. stun: or turn:)
		// https://tools.ietf.org/html/rfc4395#section-2.2
		start = strings.IndexByte(url, ':')
		if start <= 0 {
			return 0, 0, false
		}

		start++
	} else {
		start += 2
	}

	end = strings.IndexAny(url[start:], "/?#")
	if end == -1 {
		end = len(url)
	} else {
		end += start
	}

	if at := strings.LastIndexByte(url[start:end], '@'); at != -1 {
		start += at + 1
	}

	if start < end && url[start] == '[' {
		closing := strings.IndexByte(url[start:end], ']')
		if closing == -1 {
			return 0, 0, false
		}

		return start + 1, start + closing, closing > 1
	}

	if colon := strings.IndexByte(url[start:end], ':'); colon != -1 {
		end = start + colon
	}

	end = start + len(strings.TrimRight(url[start:end], "."))

	return start, end, end > start
}

// ExtractHostname quickly retrieves hostname from the given URL.  It returns
// an empty string if there is none.
func ExtractHostname(url string) (hostname string) {
	start, end, ok := HostBounds(url)
	if !ok {
		return ""
	}

	return url[start:end]
}

// IsSubdomainOrSelf returns true if host is domain or a dot-boundary
// subdomain of it.
func IsSubdomainOrSelf(host, domain string) (ok bool) {
	if len(host) == len(domain) {
		return host == domain
	}

	return len(host) > len(domain) &&
		host[len(host)-len(domain)-1] == '.' &&
		strings.HasSuffix(host, domain)
}

// ForEachSuffix calls f for host and every parent domain of it, starting with
// host itself.  It stops as soon as f returns false.
func ForEachSuffix(host string, f func(suffix string) (cont bool)) {
	for host != "" {
		if !f(host) {
			return
		}

		i := strings.IndexByte(host, '.')
		if i == -1 {
			return
		}

		host = host[i+1:]
	}
}
