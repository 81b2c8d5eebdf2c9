// Package flight holds flight records, route schedules and the bundled
// airport directory used to resolve route endpoints.
package flight

import (
	"sort"
	"strings"

	"github.com/unklstewy/flight-tracker/pkg/geo"
)

// Airport is a route endpoint.
type Airport struct {
	// IATA is the three-letter passenger code (e.g., "LAX")
	IATA string `json:"iata"`

	// ICAO is the four-letter location indicator (e.g., "KLAX")
	ICAO string `json:"icao"`

	// Name is the airport's full name
	Name string `json:"name"`

	// City served by the airport
	City string `json:"city"`

	// Country the airport is in
	Country string `json:"country"`

	// Location is the aerodrome reference point
	Location geo.Coordinate `json:"location"`

	// ElevationFt is field elevation in feet MSL
	ElevationFt int `json:"elevation_ft"`

	// Timezone is the IANA zone name (e.g., "America/Los_Angeles")
	Timezone string `json:"timezone"`
}

// Code returns the IATA code, or the ICAO code if there is no IATA code.
func (a Airport) Code() string {
	if a.IATA != "" {
		return a.IATA
	}
	return a.ICAO
}

// PlaceName formats the airport's city as "City, Country".
func (a Airport) PlaceName() string {
	switch {
	case a.City != "" && a.Country != "":
		return a.City + ", " + a.Country
	case a.City != "":
		return a.City
	default:
		return a.Country
	}
}

// Directory is an in-memory airport lookup table.
type Directory struct {
	airports []Airport
	byIATA   map[string]int
	byICAO   map[string]int
}

// NewDirectory indexes airports. Later duplicates of a code are ignored.
func NewDirectory(airports []Airport) *Directory {
	d := &Directory{
		airports: append([]Airport(nil), airports...),
		byIATA:   make(map[string]int, len(airports)),
		byICAO:   make(map[string]int, len(airports)),
	}
	for i, a := range d.airports {
		if code := strings.ToUpper(a.IATA); code != "" {
			if _, dup := d.byIATA[code]; !dup {
				d.byIATA[code] = i
			}
		}
		if code := strings.ToUpper(a.ICAO); code != "" {
			if _, dup := d.byICAO[code]; !dup {
				d.byICAO[code] = i
			}
		}
	}
	return d
}

// DefaultDirectory returns a directory over the bundled airport table.
func DefaultDirectory() *Directory {
	return NewDirectory(bundledAirports)
}

// All returns every airport in table order.
func (d *Directory) All() []Airport {
	return append([]Airport(nil), d.airports...)
}

// FindByIATA looks up a three-letter code, ignoring case.
func (d *Directory) FindByIATA(code string) (Airport, bool) {
	i, ok := d.byIATA[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Airport{}, false
	}
	return d.airports[i], true
}

// FindByICAO looks up a four-letter code, ignoring case.
func (d *Directory) FindByICAO(code string) (Airport, bool) {
	i, ok := d.byICAO[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Airport{}, false
	}
	return d.airports[i], true
}

// Find accepts either an IATA or an ICAO code.
func (d *Directory) Find(code string) (Airport, bool) {
	if a, ok := d.FindByIATA(code); ok {
		return a, true
	}
	return d.FindByICAO(code)
}

// Near returns the airports within radiusKm of c, closest first.
func (d *Directory) Near(c geo.Coordinate, radiusKm float64) []Airport {
	type hit struct {
		airport Airport
		dist    float64
	}
	var hits []hit
	for _, a := range d.airports {
		if dist := geo.DistanceKm(c, a.Location); dist <= radiusKm {
			hits = append(hits, hit{a, dist})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]Airport, len(hits))
	for i, h := range hits {
		out[i] = h.airport
	}
	return out
}

// Search returns airports whose name, city, country or codes contain q,
// ignoring case. An empty query matches nothing.
func (d *Directory) Search(q string) []Airport {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}
	var out []Airport
	for _, a := range d.airports {
		for _, field := range []string{a.Name, a.City, a.Country, a.IATA, a.ICAO} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
