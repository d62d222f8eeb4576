// Package filterlist contains the filter-list sources and the providers that
// fetch them.
package filterlist

import "context"

// Source is a filter list location.
type Source struct {
	// Name is the human-readable name of the list used in logs and reports.
	Name string `yaml:"name" json:"name"`

	// URL is an http:// or https:// URL, a file:// URL, or a plain file path.
	URL string `yaml:"url" json:"url"`
}

// List is the fetched content of a filter list.
type List struct {
	// Source is the source the list was fetched from.  It is never nil.
	Source *Source

	// Text is the raw list content.
	Text string
}

// Provider fetches the filter lists.
type Provider interface {
	// Fetch returns the lists for srcs in the same order.  The sources that
	// could not be fetched are omitted from lists.
	Fetch(ctx context.Context, srcs []*Source) (lists []*List)
}
