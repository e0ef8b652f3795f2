package relay_test

import (
	"testing"

	"github.com/illmade-knight/go-busrelay/pkg/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsIgnored(t *testing.T) {
	patterns, err := relay.ParsePatterns("^test, audit ,")
	require.NoError(t, err)
	require.Len(t, patterns, 2)

	testCases := []struct {
		name    string
		entity  string
		ignored bool
	}{
		{"anchored prefix", "test-orders", true},
		{"case insensitive", "TEST-orders", true},
		{"anchor is respected", "orders-test", false},
		{"matches anywhere", "billing-AUDIT-queue", true},
		{"no match", "orders", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ignored, relay.IsIgnored(tc.entity, patterns))
		})
	}
}

func TestParsePatterns(t *testing.T) {
	t.Run("empty list ignores nothing", func(t *testing.T) {
		patterns, err := relay.ParsePatterns("")
		require.NoError(t, err)
		assert.Empty(t, patterns)
		assert.False(t, relay.IsIgnored("anything", patterns))
	})

	t.Run("blank entries are skipped", func(t *testing.T) {
		patterns, err := relay.ParsePatterns(" , ,dlq$, ")
		require.NoError(t, err)
		require.Len(t, patterns, 1)
		assert.Equal(t, "dlq$", patterns.String())
		assert.True(t, relay.IsIgnored("orders-DLQ", patterns))
	})

	t.Run("invalid pattern is an error", func(t *testing.T) {
		_, err := relay.ParsePatterns("orders,([")
		assert.ErrorContains(t, err, "([")
	})
}
