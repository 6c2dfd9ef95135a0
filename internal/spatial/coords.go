package spatial

import (
	"github.com/golang/geo/s2"
)

// ValidLatLng reports whether the pair is a usable GPS coordinate.
func ValidLatLng(lat, lng float64) bool {
	return s2.LatLngFromDegrees(lat, lng).IsValid()
}
