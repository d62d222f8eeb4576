package lookup_test

import (
	"testing"

	"github.com/AdguardTeam/urlblock/internal/lookup"
	"github.com/AdguardTeam/urlblock/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRule is a helper that parses a single rule.
func newRule(tb testing.TB, text string) (r *rules.Rule) {
	tb.Helper()

	r, err := rules.ParseLine(text)
	require.NoError(tb, err)
	require.NotNil(tb, r)

	return r
}

// loadTable is a helper that adds every rule of text to tbl and requires all
// of them to be accepted.
func loadTable(tb testing.TB, tbl lookup.Table, texts ...string) {
	tb.Helper()

	for _, text := range texts {
		require.True(tb, tbl.TryAdd(newRule(tb, text)), text)
	}
}

// assertMatch is a helper for matching a single rule in the table or, if
// wantRuleText is empty, that no rule is returned.
func assertMatch(tb testing.TB, tbl lookup.Table, r *rules.Request, wantRuleText string) {
	tb.Helper()

	got := tbl.Match(r)
	if wantRuleText == "" {
		assert.Nil(tb, got)

		return
	}

	require.NotNil(tb, got)

	assert.Equal(tb, wantRuleText, got.Text)
}
