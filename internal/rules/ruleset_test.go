package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
)

func TestFilterSemantics(t *testing.T) {
	rs := Compile(config.EventsConf{
		Allowlist: []string{"a", "b"},
		Denylist:  []string{"b"},
	})

	require.True(t, rs.Allowed("a"))
	require.False(t, rs.Allowed("c"))
	require.True(t, rs.Denied("b"))
	require.False(t, rs.Denied("a"))

	// Empty allowlist admits everything.
	open := Compile(config.EventsConf{})
	require.True(t, open.Allowed("anything"))
	require.False(t, open.Denied("anything"))
}

func TestKeepForFallbackChain(t *testing.T) {
	rs := Compile(config.EventsConf{
		PropertyKeep: map[string][]string{
			"purchase": {"sku"},
			"*":        {"id"},
		},
	})
	require.Equal(t, []string{"sku"}, rs.keepFor("purchase"))
	require.Equal(t, []string{"id"}, rs.keepFor("login"))

	noWildcard := Compile(config.EventsConf{
		PropertyKeep: map[string][]string{"purchase": {"sku"}},
	})
	require.Equal(t, []string{"*"}, noWildcard.keepFor("login"), "missing wildcard entry means keep-all")
}

func TestDenyForUnionsScopes(t *testing.T) {
	rs := Compile(config.EventsConf{
		PropertyDeny: map[string][]string{
			"*":        {"secret"},
			"purchase": {"internal"},
		},
	})
	require.ElementsMatch(t, []string{"secret", "internal"}, rs.denyFor("purchase"))
	require.ElementsMatch(t, []string{"secret"}, rs.denyFor("login"))
}

func TestScalarKey(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{"premium", "premium", true},
		{true, "true", true},
		{float64(42), "42", true},
		{float64(1.5), "1.5", true},
		{int64(7), "7", true},
		{[]any{"x"}, "", false},
		{map[string]any{}, "", false},
	}
	for _, tc := range cases {
		got, ok := scalarKey(tc.in)
		require.Equal(t, tc.ok, ok, "scalarKey(%v)", tc.in)
		require.Equal(t, tc.want, got, "scalarKey(%v)", tc.in)
	}
}

func TestCompileDropsBadExpressions(t *testing.T) {
	rs := Compile(config.EventsConf{
		DerivedProperties: map[string]any{
			"*": map[string]any{
				"broken": map[string]any{"from": "event_properties.v", "expr": "os.exit(1)"},
				"fine":   map[string]any{"from": "event_properties.v"},
			},
		},
	})
	require.Len(t, rs.derivedGlobal, 1)
	require.Equal(t, "fine", rs.derivedGlobal[0].key)
}
