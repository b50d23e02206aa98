package weather

import "time"

// Snapshot keys written by Fetcher and read by the layers
const (
	KeyLocation    = "location"
	KeyTicker      = "ticker_text"
	KeyCurrent     = "current"
	KeyDaily       = "daily_days"
	KeyForecast    = "forecast_periods"
	KeyHourly      = "hourly_points"
	KeyLatest      = "latest_rows"
	KeyRadar       = "radar_image"
	KeyRegional    = "regional"
	KeyForecastMap = "forecast_map"
	KeyAlerts      = "alerts"
	KeyNarration   = "narration"
	KeyUpdated     = "updated"
)

// Location is the place the broadcast is about
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Current is the latest observation merged with the first forecast period.
// Nil pointers mean the value was not reported.
type Current struct {
	StationName  string
	TempF        *float64
	DewF         *float64
	Humidity     *float64
	WindMPH      *float64
	WindDir      string
	VisibilityMi *float64
	PressureInHg *float64
	HeatIndexF   *float64
	CeilingFt    *float64
	Observed     string
	ObservedAt   time.Time

	ForecastTemp  *int
	ForecastUnit  string
	ForecastShort string
	ForecastIsDay bool
}

// Condition is the observed description, or the forecast one when the
// station did not report any
func (c Current) Condition() string {
	if c.Observed != "" {
		return c.Observed
	}
	return c.ForecastShort
}

// Day is one daytime forecast period with the following night's low
type Day struct {
	Name  string
	High  *int
	Low   *int
	Unit  string
	Short string
	IsDay bool
}

// Period is a forecast text period
type Period struct {
	Name        string
	Temperature *int
	Unit        string
	Wind        string
	WindDir     string
	Precip      *float64
	Short       string
	Detailed    string
	IsDay       bool
}

// HourlyPoint is one hour on the outlook graph
type HourlyPoint struct {
	Time   time.Time
	Label  string
	Temp   *float64
	Precip float64
	Cloud  *float64
}

// LatestRow is one preformatted line of the nearby observations table
type LatestRow struct {
	Name      string
	Temp      string
	Condition string
	Wind      string
}

func ptr[T any](v T) *T { return &v }
