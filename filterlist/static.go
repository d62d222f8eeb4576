package filterlist

import (
	"context"
	"sync"
)

// StaticProvider is a [Provider] serving in-memory lists keyed by the source
// URL.  It is safe for concurrent use.
type StaticProvider struct {
	mu    *sync.Mutex
	lists map[string]string
}

// type check
var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider returns a new provider with the given lists.  lists maps
// the source URLs to the contents, it must not be modified after calling
// NewStaticProvider.
func NewStaticProvider(lists map[string]string) (p *StaticProvider) {
	if lists == nil {
		lists = map[string]string{}
	}

	return &StaticProvider{
		mu:    &sync.Mutex{},
		lists: lists,
	}
}

// Set sets the contents for url.
func (p *StaticProvider) Set(url, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lists[url] = text
}

// Delete removes the contents for url, so that fetching it fails.
func (p *StaticProvider) Delete(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.lists, url)
}

// Fetch implements the [Provider] interface for *StaticProvider.
func (p *StaticProvider) Fetch(_ context.Context, srcs []*Source) (lists []*List) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, src := range srcs {
		if text, ok := p.lists[src.URL]; ok {
			lists = append(lists, &List{
				Source: src,
				Text:   text,
			})
		}
	}

	return lists
}
