// Package location turns coordinates into human-readable place names.
//
// The static Classifier works entirely offline from a small table of
// country and city bounding boxes with an ocean-basin fallback. A
// Resolver layers an optional remote reverse geocoder and a bounded
// cache on top of it.
package location

import (
	"fmt"

	"github.com/unklstewy/flight-tracker/pkg/geo"
	"github.com/zsefvlol/timezonemapper"
)

const (
	// InternationalWaters is returned when no country or ocean rule matches.
	InternationalWaters = "International Waters"

	// UnknownLocation is returned for a Place with no usable fields.
	UnknownLocation = "Unknown Location"

	// fallbackTimezone is used when neither the country selector nor the
	// timezone mapper yields a zone.
	fallbackTimezone = "UTC"
)

// TimezoneSelector picks an IANA zone for a longitude inside a country.
type TimezoneSelector func(lon float64) string

// City is a sub-box inside a Country.
type City struct {
	Name   string
	Bounds geo.BoundingBox
}

// Country is one row of the classification table.
type Country struct {
	Name     string
	Region   string
	Bounds   geo.BoundingBox
	Timezone TimezoneSelector
	Cities   []City
}

// OceanRule names an ocean basin for coordinates accepted by Match.
type OceanRule struct {
	Name  string
	Match func(geo.Coordinate) bool
}

// Place is the full classification of a coordinate.
type Place struct {
	// City is empty unless a city sub-box matched
	City string `json:"city,omitempty"`

	// Country is empty over water
	Country string `json:"country,omitempty"`

	// Region is the continental region of the country
	Region string `json:"region,omitempty"`

	// Ocean is set only when no country matched
	Ocean string `json:"ocean,omitempty"`

	// Timezone is an IANA zone name such as "Europe/London"
	Timezone string `json:"timezone,omitempty"`
}

// Name formats the place as "City, Country", falling back to the
// country, then the ocean, then UnknownLocation.
func (p Place) Name() string {
	switch {
	case p.City != "" && p.Country != "":
		return fmt.Sprintf("%s, %s", p.City, p.Country)
	case p.Country != "":
		return p.Country
	case p.Ocean != "":
		return p.Ocean
	case p.City != "":
		return p.City
	default:
		return UnknownLocation
	}
}

// Classifier maps coordinates to places using ordered lookup tables.
// The zero value is not usable; call NewClassifier.
type Classifier struct {
	countries []Country
	oceans    []OceanRule
}

// NewClassifier returns a classifier over the built-in tables.
func NewClassifier() *Classifier {
	return NewClassifierWithTables(DefaultCountries, DefaultOceans)
}

// NewClassifierWithTables returns a classifier over custom tables.
// Tables are evaluated in slice order; the first match wins.
func NewClassifierWithTables(countries []Country, oceans []OceanRule) *Classifier {
	return &Classifier{countries: countries, oceans: oceans}
}

// Classify returns the display name for c. It never fails and never
// returns an empty string.
func (c *Classifier) Classify(coord geo.Coordinate) string {
	return c.Lookup(coord).Name()
}

// Lookup returns the full Place for coord.
func (c *Classifier) Lookup(coord geo.Coordinate) Place {
	for _, country := range c.countries {
		if !country.Bounds.Contains(coord) {
			continue
		}

		p := Place{
			Country:  country.Name,
			Region:   country.Region,
			Timezone: fallbackTimezone,
		}
		if country.Timezone != nil {
			p.Timezone = country.Timezone(coord.Longitude)
		}
		for _, city := range country.Cities {
			if city.Bounds.Contains(coord) {
				p.City = city.Name
				break
			}
		}
		return p
	}

	p := Place{Ocean: InternationalWaters, Timezone: mapTimezone(coord)}
	for _, rule := range c.oceans {
		if rule.Match(coord) {
			p.Ocean = rule.Name
			break
		}
	}
	return p
}

// mapTimezone resolves a zone from the global timezone map, defaulting to UTC.
func mapTimezone(coord geo.Coordinate) string {
	if !coord.Valid() {
		return fallbackTimezone
	}
	if tz := timezonemapper.LatLngToTimezoneString(coord.Latitude, coord.Longitude); tz != "" {
		return tz
	}
	return fallbackTimezone
}
