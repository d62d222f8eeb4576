package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/urlblock"
	"github.com/AdguardTeam/urlblock/api"
	"github.com/AdguardTeam/urlblock/filterlist"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

const testSourceURL = "https://lists.example/test.txt"

const testList = `! Test list
||ads.example^
/banner/*.gif
@@||ads.example/ok/
`

// newTestApp returns the app of a new API server over a loaded engine with the
// decision cache enabled.
func newTestApp(t *testing.T) (app *fiber.App, e *urlblock.Engine, p *filterlist.StaticProvider) {
	t.Helper()

	p = filterlist.NewStaticProvider(map[string]string{
		testSourceURL: testList,
	})

	e, err := urlblock.New(&urlblock.Config{
		Provider: p,
		Sources: []*filterlist.Source{{
			Name: "test",
			URL:  testSourceURL,
		}},
		DecisionCacheSize: 128,
	})
	require.NoError(t, err)

	require.NoError(t, e.Initialize(testutil.ContextWithTimeout(t, testTimeout)))

	s, err := api.New(&api.Config{Engine: e})
	require.NoError(t, err)

	return s.App(), e, p
}

// do performs the request and decodes the JSON response body into v.
func do(t *testing.T, app *fiber.App, req *http.Request, v any) (code int) {
	t.Helper()

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	testutil.CleanupAndRequireSuccess(t, resp.Body.Close)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.NoError(t, json.Unmarshal(body, v))

	return resp.StatusCode
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := api.New(&api.Config{})
	assert.ErrorIs(t, err, errors.ErrNoValue)
}

func TestServer_Check(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t)

	testCases := []struct {
		name     string
		url      string
		typ      string
		wantRule string
		wantCode int
		blocked  bool
	}{{
		name:     "blocked_domain",
		url:      "https://ads.example/x.js",
		typ:      "script",
		wantRule: "||ads.example^",
		wantCode: http.StatusOK,
		blocked:  true,
	}, {
		name:     "blocked_pattern",
		url:      "https://cdn.example/banner/1.gif",
		typ:      "",
		wantRule: "/banner/*.gif",
		wantCode: http.StatusOK,
		blocked:  true,
	}, {
		name:     "exception",
		url:      "https://ads.example/ok/",
		typ:      "",
		wantRule: "",
		wantCode: http.StatusOK,
		blocked:  false,
	}, {
		name:     "allowed",
		url:      "https://example.org/",
		typ:      "document",
		wantRule: "",
		wantCode: http.StatusOK,
		blocked:  false,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q := url.Values{}
			q.Set("url", tc.url)
			q.Set("type", tc.typ)
			req := httptest.NewRequest(http.MethodGet, "/check?"+q.Encode(), nil)

			res := &api.CheckResult{}
			code := do(t, app, req, res)
			require.Equal(t, tc.wantCode, code)

			assert.Equal(t, tc.blocked, res.Blocked)
			assert.Equal(t, tc.wantRule, res.Rule)
		})
	}

	t.Run("no_url", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/check", nil)

		res := &api.StandardError{}
		code := do(t, app, req, res)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "url is required", res.Message)
	})
}

func TestServer_Check_cached(t *testing.T) {
	t.Parallel()

	app, e, _ := newTestApp(t)

	// The URLs have the same length so that the second request may reuse the
	// memory of the first one.
	const (
		blockedURL = "http://ads.example/aaaa"
		allowedURL = "http://ok.example/aaaaa"
	)

	require.Len(t, allowedURL, len(blockedURL))

	check := func(u string) (blocked bool) {
		q := url.Values{}
		q.Set("url", u)
		req := httptest.NewRequest(http.MethodGet, "/check?"+q.Encode(), nil)

		res := &api.CheckResult{}
		require.Equal(t, http.StatusOK, do(t, app, req, res))

		return res.Blocked
	}

	assert.True(t, check(blockedURL))
	assert.False(t, check(allowedURL))

	assert.True(t, e.ShouldBlock(blockedURL, "", ""))
	assert.False(t, e.ShouldBlock(allowedURL, "", ""))

	assert.True(t, check(blockedURL))
	assert.False(t, check(allowedURL))
}

func TestServer_GetStats(t *testing.T) {
	t.Parallel()

	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/check?url=https://ads.example/", nil)
	require.Equal(t, http.StatusOK, do(t, app, req, &api.CheckResult{}))

	st := &urlblock.Stats{}
	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, do(t, app, req, st))

	assert.Equal(t, 3, st.TotalFilters)
	assert.Equal(t, 1, st.ExceptionFilters)
	assert.Equal(t, uint64(1), st.TotalChecks)
	assert.Equal(t, uint64(1), st.TotalBlocks)
	require.Len(t, st.Sources, 1)
	assert.True(t, st.Sources[0].Fetched)
}

func TestServer_Reload(t *testing.T) {
	t.Parallel()

	app, _, p := newTestApp(t)

	p.Set(testSourceURL, "||tracker.example^\n")

	st := &urlblock.Stats{}
	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	require.Equal(t, http.StatusOK, do(t, app, req, st))
	assert.Equal(t, 1, st.TotalFilters)

	res := &api.CheckResult{}
	req = httptest.NewRequest(http.MethodGet, "/check?url=https://tracker.example/", nil)
	require.Equal(t, http.StatusOK, do(t, app, req, res))
	assert.True(t, res.Blocked)

	p.Delete(testSourceURL)

	apiErr := &api.StandardError{}
	req = httptest.NewRequest(http.MethodPost, "/reload", nil)
	require.Equal(t, http.StatusInternalServerError, do(t, app, req, apiErr))
	assert.Equal(t, "reloading: all filter list sources failed", apiErr.Message)

	req = httptest.NewRequest(http.MethodGet, "/check?url=https://tracker.example/", nil)
	require.Equal(t, http.StatusOK, do(t, app, req, res))
	assert.True(t, res.Blocked)
}
