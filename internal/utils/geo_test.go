package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMiles(t *testing.T) {
	losAngeles := Coordinates{Latitude: 34.05, Longitude: -118.24}
	sanFrancisco := Coordinates{Latitude: 37.77, Longitude: -122.41}

	distance := HaversineMiles(sanFrancisco, losAngeles)
	assert.InDelta(t, 347.1, distance, 0.5)

	// Symmetric and zero at the same point.
	assert.InDelta(t, distance, HaversineMiles(losAngeles, sanFrancisco), 1e-9)
	assert.InDelta(t, 0, HaversineMiles(losAngeles, losAngeles), 1e-9)
}

func TestCoordinatesValidate(t *testing.T) {
	assert.NoError(t, Coordinates{Latitude: 90, Longitude: -180}.Validate())
	assert.NoError(t, Coordinates{Latitude: -90, Longitude: 180}.Validate())
	assert.Error(t, Coordinates{Latitude: 90.1, Longitude: 0}.Validate())
	assert.Error(t, Coordinates{Latitude: 0, Longitude: 180.1}.Validate())
}

func TestIsValidAccountAddress(t *testing.T) {
	assert.True(t, IsValidAccountAddress("0x1111111111111111111111111111111111111111"))
	assert.False(t, IsValidAccountAddress("0x1111"))
	assert.False(t, IsValidAccountAddress("not-an-address"))
	assert.False(t, IsValidAccountAddress(""))
}
