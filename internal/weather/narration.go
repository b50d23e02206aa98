package weather

import (
	"fmt"
	"strings"
)

// Narration builds at most two short spoken sentences from the forecasts
func Narration(forecast, hourly *Forecast, location string) []string {
	var lines []string

	if periods := forecast.Periods(); len(periods) > 0 && periods[0].Temperature != nil {
		p := periods[0]
		unit := p.TemperatureUnit
		if unit == "" {
			unit = "F"
		}
		lines = append(lines, fmt.Sprintf("In %s, it's %d degrees %s and %s.",
			location, *p.Temperature, unit, strings.ToLower(p.ShortForecast)))
	}

	if at, pop, ok := nextRain(hourly); ok {
		lines = append(lines, fmt.Sprintf("We have about a %d percent chance of showers around %s.", pop, at))
	}

	for _, p := range forecast.Periods() {
		if !p.IsDaytime {
			continue
		}
		short := strings.ToLower(p.ShortForecast)
		if strings.Contains(short, "chance") {
			name := p.Name
			if name == "" {
				name = "the next day"
			}
			lines = append(lines, fmt.Sprintf("It looks like %s on %s.", short, name))
			break
		}
	}

	if len(lines) > 2 {
		lines = lines[:2]
	}
	return lines
}

// nextRain finds the first of the next six hours with at least a 30% chance
// of precipitation and returns its HH:MM start
func nextRain(hourly *Forecast) (string, int, bool) {
	periods := hourly.Periods()
	if len(periods) > 6 {
		periods = periods[:6]
	}
	for _, p := range periods {
		if p.ProbabilityOfPrecipitation == nil || p.ProbabilityOfPrecipitation.Value == nil {
			continue
		}
		pop := *p.ProbabilityOfPrecipitation.Value
		if pop < 30 {
			continue
		}
		at := "the next hour"
		if len(p.StartTime) >= 16 {
			at = p.StartTime[11:16]
		}
		return at, int(pop), true
	}
	return "", 0, false
}
