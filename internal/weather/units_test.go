package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCardinal(t *testing.T) {
	cases := map[float64]string{
		0: "N", 11: "N", 12: "NNE", 90: "E", 180: "S", 225: "SW", 350: "N", 360: "N", -90: "W",
	}
	for deg, want := range cases {
		assert.Equal(t, want, Cardinal(deg), deg)
	}
}

func TestHeatIndex(t *testing.T) {
	assert.Equal(t, 75.0, HeatIndex(75, 90))
	assert.Equal(t, 85.0, HeatIndex(85, 30))
	assert.InDelta(t, 105, HeatIndex(90, 60), 1)
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 212.0, CToF(100))
	assert.InDelta(t, 22.37, MSToMPH(10), 0.01)
	assert.InDelta(t, 29.92, PascalToInHg(101325), 0.01)
	assert.Equal(t, 1.24, Round(1.2449, 2))
}

func TestStationName(t *testing.T) {
	assert.Equal(t, "Kadena", StationName("Kadena, Kadena Air Base"))
	assert.Equal(t, "Station", StationName(" , x"))
}

func TestNormalizeZip(t *testing.T) {
	assert.Equal(t, "77571", NormalizeZip("77571"))
	assert.Equal(t, "77571", NormalizeZip("77571-1234"))
	assert.Equal(t, "00501", NormalizeZip(" 00501 "))
	assert.Empty(t, NormalizeZip("775"))
}
