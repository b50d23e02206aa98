package weather

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OkinawaBoss/WeatharrStation/internal/cache"
	"github.com/OkinawaBoss/WeatharrStation/internal/logger"
	"github.com/jonboulle/clockwork"
)

//go:embed cities.csv
var builtinCities []byte

const earthRadiusMi = 3958.8

// populationCutoffs are tried in order until some city is in range
var populationCutoffs = []int{150_000, 100_000, 50_000, 25_000, 10_000, 0}

// stationAliases maps observation station name fragments to the city they
// report for
var stationAliases = map[string][]string{
	"Houston":        {"HOUSTON", "INTERCONTINENTAL", "ELLINGTON", "HOBBY"},
	"Galveston":      {"GALVESTON"},
	"Lake Charles":   {"LAKE CHARLES"},
	"Baton Rouge":    {"BATON ROUGE"},
	"New Orleans":    {"NEW ORLEANS"},
	"Austin":         {"AUSTIN"},
	"San Antonio":    {"SAN ANTONIO"},
	"Dallas":         {"DALLAS"},
	"Corpus Christi": {"CORPUS", "CORPUS CHRISTI"},
	"Victoria":       {"VICTORIA"},
}

// City is a catalog entry
type City struct {
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Population int     `json:"population"`
}

// Target is a city picked for the map pages. MaxObsDistance is how far
// away an observation station may be and still speak for it.
type Target struct {
	City
	Distance       float64
	MaxObsDistance float64
}

type alias struct {
	keyword   string
	canonical string
}

type catalog struct {
	cities  []City // most populous first
	aliases []alias
}

// CityCatalog loads the city list once per ttl, from a CSV file or the
// built-in list
type CityCatalog struct {
	path   string
	loaded *cache.TTL[string, *catalog]
}

// NewCityCatalog creates a catalog reading path, or the built-in list when
// path is empty
func NewCityCatalog(path string, ttl time.Duration, clock clockwork.Clock) *CityCatalog {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CityCatalog{
		path:   path,
		loaded: cache.NewTTL[string, *catalog](ttl, 1, clock),
	}
}

func (c *CityCatalog) load() *catalog {
	if cat, ok := c.loaded.Get(c.path); ok {
		return cat
	}

	var cities []City
	var err error
	if c.path != "" {
		cities, err = readCityFile(c.path)
		if err != nil {
			logger.WithComponent("weather").Warn().
				Err(err).
				Str("path", c.path).
				Msg("Using built-in city list")
		}
	}
	if c.path == "" || err != nil {
		cities, _ = ParseCities(bytes.NewReader(builtinCities))
	}

	cat := &catalog{cities: cities, aliases: buildAliases(cities)}
	c.loaded.Set(c.path, cat)
	return cat
}

func readCityFile(path string) ([]City, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open city list: %w", err)
	}
	defer f.Close()
	cities, err := ParseCities(f)
	if err != nil {
		return nil, err
	}
	if len(cities) == 0 {
		return nil, errors.New("city list is empty")
	}
	return cities, nil
}

// ParseCities reads a CSV with name, lat, lon and pop columns in any order.
// Rows that do not parse are skipped. The result is sorted by population,
// largest first.
func ParseCities(r io.Reader) ([]City, error) {
	rd := csv.NewReader(r)
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true

	header, err := rd.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read city header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"name", "lat", "lon"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("city list has no %q column", want)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var cities []City
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read city list: %w", err)
		}
		name := field(rec, "name")
		lat, latErr := strconv.ParseFloat(field(rec, "lat"), 64)
		lon, lonErr := strconv.ParseFloat(field(rec, "lon"), 64)
		if name == "" || latErr != nil || lonErr != nil {
			continue
		}
		pop := 0
		if raw := strings.ReplaceAll(field(rec, "pop"), ",", ""); raw != "" {
			p, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			pop = int(p)
		}
		cities = append(cities, City{Name: name, Lat: lat, Lon: lon, Population: pop})
	}

	sort.SliceStable(cities, func(i, j int) bool {
		return cities[i].Population > cities[j].Population
	})
	return cities, nil
}

func buildAliases(cities []City) []alias {
	var out []alias
	for canonical, keywords := range stationAliases {
		for _, k := range keywords {
			out = append(out, alias{keyword: k, canonical: canonical})
		}
	}
	for _, c := range cities {
		if k := strings.ToUpper(strings.TrimSpace(c.Name)); k != "" {
			out = append(out, alias{keyword: k, canonical: c.Name})
		}
	}
	// longest first so "SAN ANTONIO" wins over "SAN"
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].keyword) != len(out[j].keyword) {
			return len(out[i].keyword) > len(out[j].keyword)
		}
		return out[i].keyword < out[j].keyword
	})
	return out
}

// Cities returns the catalog, most populous first
func (c *CityCatalog) Cities() []City {
	return append([]City(nil), c.load().cities...)
}

// CanonicalName maps an observation station name such as
// "Houston Intercontinental Airport" to the city it reports for. Names that
// match nothing are cut at the first comma.
func (c *CityCatalog) CanonicalName(raw string) string {
	upper := strings.ToUpper(raw)
	if strings.TrimSpace(upper) == "" {
		return "Station"
	}
	for _, a := range c.load().aliases {
		if containsWord(upper, a.keyword) {
			return a.canonical
		}
	}
	return StationName(raw)
}

// containsWord reports whether word occurs in s between non-letters
func containsWord(s, word string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(word)
		if (i == 0 || !isLetter(s[i-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		from = i + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z'
}

// Near picks up to maxResults cities within maxDistance miles, preferring
// large ones: the population floor is lowered step by step until some city
// qualifies. With nothing in range the closest of the largest cities are
// used instead.
func (c *CityCatalog) Near(lat, lon, maxDistance float64, maxResults int) []Target {
	cities := c.load().cities
	if len(cities) == 0 || maxResults <= 0 {
		return nil
	}

	var picked []Target
	for _, floor := range populationCutoffs {
		for _, city := range cities {
			if city.Population < floor {
				continue
			}
			if d := Haversine(lat, lon, city.Lat, city.Lon); d <= maxDistance {
				picked = append(picked, Target{City: city, Distance: d})
			}
		}
		if len(picked) > 0 {
			break
		}
	}
	if len(picked) == 0 {
		pool := cities[:min(len(cities), maxResults*5)]
		for _, city := range pool {
			picked = append(picked, Target{City: city, Distance: Haversine(lat, lon, city.Lat, city.Lon)})
		}
	}

	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Distance != picked[j].Distance {
			return picked[i].Distance < picked[j].Distance
		}
		return picked[i].Population > picked[j].Population
	})
	if len(picked) > maxResults {
		picked = picked[:maxResults]
	}
	for i := range picked {
		picked[i].MaxObsDistance = math.Max(60, math.Min(120, picked[i].Distance*0.75+35))
	}
	return picked
}

// Haversine is the great-circle distance in miles
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	phi1, phi2 := lat1*rad, lat2*rad
	dPhi := (lat2 - lat1) * rad
	dLambda := (lon2 - lon1) * rad
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusMi * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
