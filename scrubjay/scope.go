package scrubjay

import (
	"errors"
	"fmt"
	"strings"
)

// SubregionWildcard is the sentinel stored in Subscription.Subregion
// for a whole-region subscription. It only exists at the storage layer;
// code should go through RegionScope instead of comparing strings.
const SubregionWildcard = "*"

// ErrInvalidRegionCode is returned when a subscription region code
// doesn't look like an eBird subnational1 ("US-NY") or subnational2
// ("US-NY-109") code.
var ErrInvalidRegionCode = errors.New("invalid region code")

// RegionScope is the hierarchical target of a subscription: either a
// whole region (Subregion == SubregionWildcard) or one exact subregion
// within it.
type RegionScope struct {
	Region    string `json:"region"`
	Subregion string `json:"subregion"`
}

// ParseRegionScope validates and normalizes a user-supplied region
// code. A two-part code ("US-NY") becomes a whole-region scope; a
// three-part code ("US-NY-109") becomes an exact-subregion scope.
// Any other shape is rejected with ErrInvalidRegionCode - malformed
// codes are never silently accepted, since a bad subscription row
// would simply never match anything.
func ParseRegionScope(code string) (RegionScope, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	parts := strings.Split(code, "-")
	for _, p := range parts {
		if p == "" {
			return RegionScope{}, fmt.Errorf(
				"%w: %q has an empty segment", ErrInvalidRegionCode, code,
			)
		}
	}
	switch len(parts) {
	case 2:
		return RegionScope{
			Region:    code,
			Subregion: SubregionWildcard,
		}, nil
	case 3:
		return RegionScope{
			Region:    strings.Join(parts[:2], "-"),
			Subregion: code,
		}, nil
	default:
		return RegionScope{}, fmt.Errorf(
			"%w: %q must have 2 or 3 hyphenated parts", ErrInvalidRegionCode, code,
		)
	}
}

// WholeRegion reports whether the scope covers every subregion in
// its region.
func (s RegionScope) WholeRegion() bool {
	return s.Subregion == SubregionWildcard
}

// Matches reports whether a location with the given region and county
// codes falls inside this scope. A wildcard scope matches every county
// in its region, including counties that didn't exist when the
// subscription was created; an exact scope matches only its own county.
//
// The same predicate is expressed in SQL by the undelivered query -
// keep the two in sync.
func (s RegionScope) Matches(regionCode string, countyCode string) bool {
	if s.Region != regionCode {
		return false
	}
	return s.WholeRegion() || s.Subregion == countyCode
}

// Code returns the canonical region code for this scope, suitable
// for display and for ParseRegionScope round-trips.
func (s RegionScope) Code() string {
	if s.WholeRegion() {
		return s.Region
	}
	return s.Subregion
}

func (s RegionScope) String() string {
	if s.WholeRegion() {
		return s.Region + " (all counties)"
	}
	return s.Subregion
}
