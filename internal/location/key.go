package location

import (
	"strings"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

// UnknownKey is the sentinel key for events with an empty location tuple.
const UnknownKey = "Unknown"

// Separator joins the levels of a derived location key.
const Separator = " > "

// DeriveKey builds the canonical key for a location tuple: the ancestor
// chain from province down to the finest populated level, joined with
// Separator. A tuple with only a country falls back to the country name,
// and an empty tuple falls back to UnknownKey. Two tuples identical at the
// populated levels always derive the identical key.
func DeriveKey(loc models.Location) string {
	province := strings.TrimSpace(loc.Province)
	district := strings.TrimSpace(loc.District)
	sector := strings.TrimSpace(loc.Sector)

	if province != "" {
		parts := []string{province}
		if district != "" {
			parts = append(parts, district)
			if sector != "" {
				parts = append(parts, sector)
			}
		}
		return strings.Join(parts, Separator)
	}

	if country := strings.TrimSpace(loc.Country); country != "" {
		return country
	}
	return UnknownKey
}

// ValidateChain checks that the populated levels form a contiguous chain:
// a finer level must not be present while its parent is absent.
func ValidateChain(loc models.Location) error {
	province := strings.TrimSpace(loc.Province)
	district := strings.TrimSpace(loc.District)
	sector := strings.TrimSpace(loc.Sector)

	if sector != "" && district == "" {
		return &models.ValidationError{Field: "location.sector", Reason: "sector requires district"}
	}
	if district != "" && province == "" {
		return &models.ValidationError{Field: "location.district", Reason: "district requires province"}
	}
	if province != "" && strings.TrimSpace(loc.Country) == "" {
		return &models.ValidationError{Field: "location.province", Reason: "province requires country"}
	}
	return nil
}

// ParseKey splits a derived key back into its levels, coarsest first.
func ParseKey(key string) []string {
	if key == "" || key == UnknownKey {
		return nil
	}
	parts := strings.Split(key, Separator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
