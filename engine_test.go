package urlblock_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/urlblock"
	"github.com/AdguardTeam/urlblock/filterlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// testSourceURL is the URL of the test filter list.
const testSourceURL = "mem://test"

// testListText is the list from the end-to-end scenario.
const testListText = `||doubleclick.net^
@@||doubleclick.net/safe^
! comment
/banner\d+\.png/
`

// countingProvider is a [filterlist.Provider] that counts the fetches.
type countingProvider struct {
	filterlist.Provider

	calls atomic.Int32
}

// Fetch implements the [filterlist.Provider] interface for *countingProvider.
func (p *countingProvider) Fetch(
	ctx context.Context,
	srcs []*filterlist.Source,
) (lists []*filterlist.List) {
	p.calls.Add(1)

	return p.Provider.Fetch(ctx, srcs)
}

// copyingProvider is a [filterlist.Provider] that returns lists with copies of
// the requested sources.
type copyingProvider struct {
	texts map[string]string
}

// Fetch implements the [filterlist.Provider] interface for *copyingProvider.
func (p *copyingProvider) Fetch(
	_ context.Context,
	srcs []*filterlist.Source,
) (lists []*filterlist.List) {
	for _, src := range srcs {
		text, ok := p.texts[src.URL]
		if !ok {
			continue
		}

		srcCopy := *src
		lists = append(lists, &filterlist.List{
			Source: &srcCopy,
			Text:   text,
		})
	}

	return lists
}

// unrelatedProvider is a [filterlist.Provider] that returns the lists under
// sources other than the requested ones.
type unrelatedProvider struct {
	filterlist.Provider
}

// Fetch implements the [filterlist.Provider] interface for *unrelatedProvider.
func (p *unrelatedProvider) Fetch(
	ctx context.Context,
	srcs []*filterlist.Source,
) (lists []*filterlist.List) {
	lists = p.Provider.Fetch(ctx, srcs)
	for _, l := range lists {
		l.Source = &filterlist.Source{
			Name: "other",
			URL:  "mem://other",
		}
	}

	return lists
}

// newTestEngine is a helper that returns an initialized engine loaded with
// text.
func newTestEngine(tb testing.TB, text string, cacheSize int) (e *urlblock.Engine) {
	tb.Helper()

	e, err := urlblock.New(&urlblock.Config{
		Provider: filterlist.NewStaticProvider(map[string]string{
			testSourceURL: text,
		}),
		Sources: []*filterlist.Source{{
			Name: "test",
			URL:  testSourceURL,
		}},
		DecisionCacheSize: cacheSize,
	})
	require.NoError(tb, err)

	err = e.Initialize(testutil.ContextWithTimeout(tb, testTimeout))
	require.NoError(tb, err)

	return e
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := urlblock.New(&urlblock.Config{})
	assert.ErrorIs(t, err, errors.ErrNoValue)

	_, err = urlblock.New(&urlblock.Config{
		Provider:          filterlist.NewStaticProvider(nil),
		DecisionCacheSize: -1,
	})
	assert.Error(t, err)

	_, err = urlblock.New(&urlblock.Config{
		Provider:               filterlist.NewStaticProvider(nil),
		BloomFalsePositiveRate: 1,
	})
	assert.Error(t, err)
}

func TestEngine_ShouldBlock_endToEnd(t *testing.T) {
	t.Parallel()

	for _, cacheSize := range []int{0, 128} {
		e := newTestEngine(t, testListText, cacheSize)

		t.Run(fmt.Sprintf("cache_%d", cacheSize), func(t *testing.T) {
			testCases := []struct {
				want assert.BoolAssertionFunc
				name string
				url  string
			}{{
				want: assert.True,
				name: "domain",
				url:  "http://doubleclick.net/ad.js",
			}, {
				want: assert.True,
				name: "subdomain",
				url:  "https://ad.doubleclick.net/",
			}, {
				want: assert.False,
				name: "exception",
				url:  "http://doubleclick.net/safe^/x",
			}, {
				want: assert.True,
				name: "separator_is_literal",
				url:  "http://doubleclick.net/safe/x",
			}, {
				want: assert.True,
				name: "regex",
				url:  "http://x.com/banner42.png",
			}, {
				want: assert.False,
				name: "no_match",
				url:  "http://x.com/logo.png",
			}, {
				want: assert.False,
				name: "not_subdomain",
				url:  "http://notdoubleclick.net/ad.js",
			}}

			for _, tc := range testCases {
				// Run twice to hit the decision cache.
				tc.want(t, e.ShouldBlock(tc.url, "", ""), tc.name)
				tc.want(t, e.ShouldBlock(tc.url, "", ""), tc.name)
			}
		})

		st := e.Stats()
		assert.Equal(t, uint64(14), st.TotalChecks)
		assert.Equal(t, uint64(8), st.TotalBlocks)
	}
}

func TestEngine_ShouldBlock_exceptions(t *testing.T) {
	t.Parallel()

	const list = `||ads.example^
||cdn.example/ads/
|https://static.example/track.js|
/pixel\d+\.gif/
@@||ads.example/allowed^
@@||good.ads.example^
@@|https://static.example/track.js|
@@/pixel1\.gif/
@@||cdn.example/ads/$image
@@||ads.example/page$domain=partner.example
`

	e := newTestEngine(t, list, 0)

	testCases := []struct {
		want    assert.BoolAssertionFunc
		name    string
		url     string
		resType string
		pageURL string
	}{{
		want: assert.True,
		name: "blocked_domain",
		url:  "https://ads.example/banner",
	}, {
		want: assert.False,
		name: "pattern_exception",
		url:  "https://ads.example/allowed^",
	}, {
		want: assert.False,
		name: "domain_exception",
		url:  "https://good.ads.example/banner",
	}, {
		want: assert.False,
		name: "url_exception",
		url:  "https://static.example/track.js",
	}, {
		want: assert.True,
		name: "regex_block",
		url:  "https://example.org/pixel2.gif",
	}, {
		want: assert.False,
		name: "regex_exception",
		url:  "https://example.org/pixel1.gif",
	}, {
		want:    assert.False,
		name:    "typed_exception_match",
		url:     "https://cdn.example/ads/banner.png",
		resType: "image",
	}, {
		want:    assert.True,
		name:    "typed_exception_mismatch",
		url:     "https://cdn.example/ads/banner.js",
		resType: "script",
	}, {
		want:    assert.False,
		name:    "domain_option_match",
		url:     "https://ads.example/page",
		pageURL: "https://www.partner.example/",
	}, {
		want:    assert.True,
		name:    "domain_option_mismatch",
		url:     "https://ads.example/page",
		pageURL: "https://other.example/",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.want(t, e.ShouldBlock(tc.url, tc.resType, tc.pageURL))
		})
	}
}

func TestEngine_ShouldBlock_options(t *testing.T) {
	t.Parallel()

	const list = `||tracker.example^$third-party
||cdn.example/ads/*$script,~third-party
||img.example^$~image
`

	e := newTestEngine(t, list, 0)

	testCases := []struct {
		want    assert.BoolAssertionFunc
		name    string
		url     string
		resType string
		pageURL string
	}{{
		want:    assert.True,
		name:    "third_party",
		url:     "https://tracker.example/p.gif",
		pageURL: "https://news.example/",
	}, {
		want:    assert.False,
		name:    "first_party",
		url:     "https://tracker.example/p.gif",
		pageURL: "https://www.tracker.example/",
	}, {
		want: assert.False,
		name: "third_party_no_page",
		url:  "https://tracker.example/p.gif",
	}, {
		want:    assert.True,
		name:    "type_and_party",
		url:     "https://cdn.example/ads/x.js",
		resType: "script",
		pageURL: "https://cdn.example/",
	}, {
		want:    assert.False,
		name:    "type_mismatch",
		url:     "https://cdn.example/ads/x.js",
		resType: "image",
		pageURL: "https://cdn.example/",
	}, {
		want:    assert.True,
		name:    "type_unknown",
		url:     "https://cdn.example/ads/x.js",
		pageURL: "https://cdn.example/",
	}, {
		want:    assert.False,
		name:    "excluded_type",
		url:     "https://img.example/1.png",
		resType: "image",
	}, {
		want:    assert.True,
		name:    "not_excluded_type",
		url:     "https://img.example/1.js",
		resType: "script",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tc.want(t, e.ShouldBlock(tc.url, tc.resType, tc.pageURL))
		})
	}
}

func TestEngine_ShouldBlock_bloomOnly(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, "||ads.example^\n||tracker.example^\n@@||ok.ads.example^\n", 0)

	assert.True(t, e.ShouldBlock("https://ads.example/", "", ""))
	assert.True(t, e.ShouldBlock("https://a.b.tracker.example/", "", ""))
	assert.False(t, e.ShouldBlock("https://ok.ads.example/", "", ""))
	assert.False(t, e.ShouldBlock("https://clean.example/ads.example", "", ""))
	assert.False(t, e.ShouldBlock("not a url", "", ""))

	st := e.Stats()
	assert.Equal(t, uint(2), st.BloomItems)
	assert.Less(t, st.BloomFalsePositiveRate, 0.01)
}

func TestEngine_Initialize(t *testing.T) {
	t.Parallel()

	t.Run("no_sources", func(t *testing.T) {
		t.Parallel()

		e, err := urlblock.New(&urlblock.Config{
			Provider: filterlist.NewStaticProvider(nil),
		})
		require.NoError(t, err)

		err = e.Initialize(context.Background())
		assert.ErrorIs(t, err, urlblock.ErrNoSources)
		assert.False(t, e.Initialized())
	})

	t.Run("all_failed", func(t *testing.T) {
		t.Parallel()

		e, err := urlblock.New(&urlblock.Config{
			Provider: filterlist.NewStaticProvider(nil),
			Sources: []*filterlist.Source{{
				Name: "missing",
				URL:  "mem://missing",
			}},
		})
		require.NoError(t, err)

		err = e.Initialize(context.Background())
		assert.ErrorIs(t, err, urlblock.ErrAllSourcesFailed)
		testutil.AssertErrorMsg(t, "initializing: all filter list sources failed", err)

		// Fails open.
		assert.False(t, e.Initialized())
		assert.False(t, e.ShouldBlock("http://doubleclick.net/ad.js", "", ""))
		assert.Zero(t, e.Stats().TotalChecks)
	})

	t.Run("partial", func(t *testing.T) {
		t.Parallel()

		e, err := urlblock.New(&urlblock.Config{
			Provider: filterlist.NewStaticProvider(map[string]string{
				testSourceURL: testListText,
			}),
			Sources: []*filterlist.Source{{
				Name: "missing",
				URL:  "mem://missing",
			}, {
				Name: "test",
				URL:  testSourceURL,
			}},
		})
		require.NoError(t, err)

		err = e.Initialize(context.Background())
		require.NoError(t, err)

		st := e.Stats()
		require.Len(t, st.Sources, 2)

		assert.False(t, st.Sources[0].Fetched)
		assert.True(t, st.Sources[1].Fetched)
		assert.Equal(t, 3, st.Sources[1].Parse.Parsed)
		assert.True(t, e.ShouldBlock("http://doubleclick.net/ad.js", "", ""))
	})

	t.Run("copied_sources", func(t *testing.T) {
		t.Parallel()

		e, err := urlblock.New(&urlblock.Config{
			Provider: &copyingProvider{
				texts: map[string]string{testSourceURL: testListText},
			},
			Sources: []*filterlist.Source{{
				Name: "test",
				URL:  testSourceURL,
			}},
		})
		require.NoError(t, err)

		require.NoError(t, e.Initialize(testutil.ContextWithTimeout(t, testTimeout)))

		st := e.Stats()
		require.Len(t, st.Sources, 1)

		assert.True(t, st.Sources[0].Fetched)
		assert.Equal(t, 3, st.Sources[0].Parse.Parsed)
		assert.True(t, e.ShouldBlock("http://doubleclick.net/ad.js", "", ""))
	})

	t.Run("unrelated_lists", func(t *testing.T) {
		t.Parallel()

		p := filterlist.NewStaticProvider(map[string]string{
			testSourceURL: testListText,
		})

		e, err := urlblock.New(&urlblock.Config{
			Provider: &unrelatedProvider{Provider: p},
			Sources: []*filterlist.Source{{
				Name: "test",
				URL:  testSourceURL,
			}},
		})
		require.NoError(t, err)

		err = e.Initialize(testutil.ContextWithTimeout(t, testTimeout))
		assert.ErrorIs(t, err, urlblock.ErrAllSourcesFailed)
		assert.False(t, e.Initialized())
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()

		p := &countingProvider{
			Provider: filterlist.NewStaticProvider(map[string]string{
				testSourceURL: testListText,
			}),
		}

		e, err := urlblock.New(&urlblock.Config{
			Provider: p,
			Sources: []*filterlist.Source{{
				Name: "test",
				URL:  testSourceURL,
			}},
		})
		require.NoError(t, err)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		require.NoError(t, e.Initialize(ctx))
		require.NoError(t, e.Initialize(ctx))

		assert.Equal(t, int32(1), p.calls.Load())
	})
}

func TestEngine_Stats(t *testing.T) {
	t.Parallel()

	const list = testListText + `example.org##.banner
*
||example.org^$csp=default-src
`

	e := newTestEngine(t, list, 0)
	_ = e.ShouldBlock("http://doubleclick.net/ad.js", "", "")
	_ = e.ShouldBlock("http://x.com/logo.png", "", "")

	st := e.Stats()
	assert.Equal(t, 3, st.TotalFilters)
	assert.Equal(t, 3, st.NetworkFilters)
	assert.Equal(t, 0, st.CosmeticFilters)
	assert.Equal(t, 1, st.ExceptionFilters)
	assert.Equal(t, uint64(2), st.TotalChecks)
	assert.Equal(t, uint64(1), st.TotalBlocks)
	assert.GreaterOrEqual(t, st.AverageCheckTimeMs, 0.0)

	assert.Equal(t, 7, st.Parse.Lines)
	assert.Equal(t, 3, st.Parse.Parsed)
	assert.Equal(t, 1, st.Parse.Cosmetic)
	assert.Equal(t, 2, st.Parse.Errored)
	assert.Equal(t, uint(1), st.BloomItems)
	assert.False(t, st.LoadedAt.IsZero())
}

func TestEngine_ShouldBlock_concurrent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, testListText, 16)

	urls := []string{
		"http://doubleclick.net/ad.js",
		"http://doubleclick.net/safe^/x",
		"http://x.com/banner42.png",
		"http://x.com/logo.png",
	}

	want := make([]bool, len(urls))
	for i, u := range urls {
		want[i] = e.ShouldBlock(u, "", "")
	}

	const (
		workers   = 16
		perWorker = 1000
	)

	var wrong atomic.Int32
	wg := &sync.WaitGroup{}
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range perWorker {
				idx := (w + i) % len(urls)
				if e.ShouldBlock(urls[idx], "", "") != want[idx] {
					wrong.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	assert.Zero(t, wrong.Load())

	st := e.Stats()
	assert.Equal(t, uint64(len(urls)+workers*perWorker), st.TotalChecks)
	assert.Equal(t, uint64(2+workers*perWorker/2), st.TotalBlocks)
}

func TestEngine_Reload(t *testing.T) {
	t.Parallel()

	p := filterlist.NewStaticProvider(map[string]string{
		testSourceURL: "||ads.example^\n",
	})

	e, err := urlblock.New(&urlblock.Config{
		Provider: p,
		Sources: []*filterlist.Source{{
			Name: "test",
			URL:  testSourceURL,
		}},
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, e.Initialize(ctx))

	assert.True(t, e.ShouldBlock("https://ads.example/", "", ""))
	assert.False(t, e.ShouldBlock("https://tracker.example/", "", ""))

	t.Run("success", func(t *testing.T) {
		p.Set(testSourceURL, "||tracker.example^\n")
		require.NoError(t, e.Reload(ctx))

		assert.False(t, e.ShouldBlock("https://ads.example/", "", ""))
		assert.True(t, e.ShouldBlock("https://tracker.example/", "", ""))
	})

	t.Run("failure_keeps_rules", func(t *testing.T) {
		p.Delete(testSourceURL)

		err = e.Reload(ctx)
		assert.ErrorIs(t, err, urlblock.ErrAllSourcesFailed)
		testutil.AssertErrorMsg(t, "reloading: all filter list sources failed", err)

		assert.True(t, e.ShouldBlock("https://tracker.example/", "", ""))
	})

	t.Run("counters_kept", func(t *testing.T) {
		st := e.Stats()
		assert.Equal(t, uint64(5), st.TotalChecks)
		assert.Equal(t, uint64(3), st.TotalBlocks)
	})
}

func TestEngine_Reload_atomic(t *testing.T) {
	t.Parallel()

	// Every version of the list blocks the domain and excepts the same path,
	// so a partially built rule set would block exceptURL.
	const (
		blockURL  = "https://ads.example/banner"
		exceptURL = "https://ads.example/allowed^/x"
		baseList  = "||ads.example^\n@@||ads.example/allowed^\n"
	)

	p := filterlist.NewStaticProvider(map[string]string{
		testSourceURL: baseList,
	})

	e, err := urlblock.New(&urlblock.Config{
		Provider: p,
		Sources: []*filterlist.Source{{
			Name: "test",
			URL:  testSourceURL,
		}},
	})
	require.NoError(t, err)

	ctx := testutil.ContextWithTimeout(t, 10*testTimeout)
	require.NoError(t, e.Initialize(ctx))

	stop := make(chan struct{})
	var wrong atomic.Int32
	wg := &sync.WaitGroup{}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for {
				select {
				case <-stop:
					return
				default:
				}

				if !e.ShouldBlock(blockURL, "", "") || e.ShouldBlock(exceptURL, "", "") {
					wrong.Add(1)
				}
			}
		}()
	}

	for i := range 20 {
		extra := strings.Repeat(fmt.Sprintf("||filler%d.example^\n", i), 100*(i%3))
		p.Set(testSourceURL, baseList+extra)

		require.NoError(t, e.Reload(ctx))
	}

	close(stop)
	wg.Wait()

	assert.Zero(t, wrong.Load())
}

func BenchmarkEngine_ShouldBlock(b *testing.B) {
	sb := &strings.Builder{}
	for i := range 10_000 {
		switch i % 4 {
		case 0:
			fmt.Fprintf(sb, "||ads%d.example^\n", i)
		case 1:
			fmt.Fprintf(sb, "||cdn%d.example/banner^\n", i)
		case 2:
			fmt.Fprintf(sb, "/advert-%d/*.gif\n", i)
		default:
			fmt.Fprintf(sb, "@@||ads%d.example/ok^\n", i-3)
		}
	}

	sb.WriteString(`/track\d+\.js/` + "\n")

	e := newTestEngine(b, sb.String(), 0)

	b.Run("blocked", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			_ = e.ShouldBlock("https://www.ads4.example/x.js", "script", "https://news.example/")
		}
	})

	b.Run("allowed", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			_ = e.ShouldBlock("https://news.example/article/1", "document", "")
		}
	})
}
