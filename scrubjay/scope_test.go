package scrubjay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegionScope(t *testing.T) {
	t.Run("whole region", func(t *testing.T) {
		scope, err := ParseRegionScope("US-NY")
		require.NoError(t, err)
		assert.Equal(t, "US-NY", scope.Region)
		assert.Equal(t, SubregionWildcard, scope.Subregion)
		assert.True(t, scope.WholeRegion())
		assert.Equal(t, "US-NY", scope.Code())
	})

	t.Run("exact subregion", func(t *testing.T) {
		scope, err := ParseRegionScope("US-NY-109")
		require.NoError(t, err)
		assert.Equal(t, "US-NY", scope.Region)
		assert.Equal(t, "US-NY-109", scope.Subregion)
		assert.False(t, scope.WholeRegion())
		assert.Equal(t, "US-NY-109", scope.Code())
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		scope, err := ParseRegionScope("  us-ca-085 ")
		require.NoError(t, err)
		assert.Equal(t, "US-CA", scope.Region)
		assert.Equal(t, "US-CA-085", scope.Subregion)
	})

	t.Run("rejects malformed codes", func(t *testing.T) {
		for _, code := range []string{
			"",
			"US",
			"US-NY-109-5",
			"US--109",
			"-US-NY",
			"US-NY-",
		} {
			_, err := ParseRegionScope(code)
			assert.ErrorIs(t, err, ErrInvalidRegionCode, "code: %q", code)
		}
	})
}

func TestRegionScopeMatches(t *testing.T) {
	wildcard := RegionScope{Region: "US-NY", Subregion: SubregionWildcard}
	exact := RegionScope{Region: "US-NY", Subregion: "US-NY-109"}

	t.Run("wildcard matches any county in region", func(t *testing.T) {
		assert.True(t, wildcard.Matches("US-NY", "US-NY-109"))
		assert.True(t, wildcard.Matches("US-NY", "US-NY-001"))
		// counties created after the subscription still match
		assert.True(t, wildcard.Matches("US-NY", "US-NY-999"))
		assert.True(t, wildcard.Matches("US-NY", ""))
	})

	t.Run("wildcard never crosses regions", func(t *testing.T) {
		assert.False(t, wildcard.Matches("US-NJ", "US-NJ-001"))
	})

	t.Run("exact matches only its own county", func(t *testing.T) {
		assert.True(t, exact.Matches("US-NY", "US-NY-109"))
		assert.False(t, exact.Matches("US-NY", "US-NY-001"))
		assert.False(t, exact.Matches("US-NJ", "US-NY-109"))
		assert.False(t, exact.Matches("US-NY", ""))
	})
}

func TestSubscriptionScopeRoundTrip(t *testing.T) {
	scope, err := ParseRegionScope("US-CA-085")
	require.NoError(t, err)

	sub := Subscription{
		ChannelID: "c1",
		Region:    scope.Region,
		Subregion: scope.Subregion,
	}
	assert.Equal(t, scope, sub.Scope())

	reparsed, err := ParseRegionScope(sub.Scope().Code())
	require.NoError(t, err)
	assert.Equal(t, scope, reparsed)
}
