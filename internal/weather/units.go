package weather

import (
	"math"
	"strings"
)

// CToF converts Celsius to Fahrenheit
func CToF(c float64) float64 { return c*9/5 + 32 }

// MSToMPH converts metres per second to miles per hour
func MSToMPH(v float64) float64 { return v * 2.23693629 }

// KMHToMPH converts kilometres per hour to miles per hour
func KMHToMPH(v float64) float64 { return v * 0.621371192 }

// MetersToMiles converts metres to statute miles
func MetersToMiles(v float64) float64 { return v * 0.000621371 }

// MetersToFeet converts metres to feet
func MetersToFeet(v float64) float64 { return v * 3.2808399 }

// PascalToInHg converts pascals to inches of mercury
func PascalToInHg(v float64) float64 { return v * 0.00029529983071445 }

// Round rounds v to digits decimal places
func Round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

var cardinals = [...]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Cardinal maps a bearing in degrees to a 16-point compass direction
func Cardinal(degrees float64) string {
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	return cardinals[int(d/22.5+0.5)%16]
}

// HeatIndex applies the NWS Rothfusz regression. Below 80°F or 40% humidity
// the air temperature is returned unchanged.
func HeatIndex(tempF, humidity float64) float64 {
	if tempF < 80 || humidity < 40 {
		return tempF
	}
	t, rh := tempF, humidity
	hi := -42.379 +
		2.04901523*t +
		10.14333127*rh -
		0.22475541*t*rh -
		0.00683783*t*t -
		0.05481717*rh*rh +
		0.00122874*t*t*rh +
		0.00085282*t*rh*rh -
		0.00000199*t*t*rh*rh
	switch {
	case rh < 13 && t >= 80 && t <= 112:
		hi -= ((13 - rh) / 4) * math.Sqrt((17-math.Abs(t-95))/17)
	case rh > 85 && t >= 80 && t <= 87:
		hi += ((rh - 85) / 10) * ((87 - t) / 5)
	}
	return hi
}

// StationName trims an observation station name to its leading place name
func StationName(raw string) string {
	name, _, _ := strings.Cut(raw, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		return "Station"
	}
	return name
}
