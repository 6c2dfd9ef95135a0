package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidLatLng(t *testing.T) {
	assert.True(t, ValidLatLng(-1.94, 30.06))
	assert.True(t, ValidLatLng(0, 0))
	assert.True(t, ValidLatLng(90, 180))
	assert.False(t, ValidLatLng(90.1, 0))
	assert.False(t, ValidLatLng(0, 180.1))
	assert.False(t, ValidLatLng(-95, 30))
}
