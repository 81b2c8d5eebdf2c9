package location

import "github.com/unklstewy/flight-tracker/pkg/geo"

// box builds a BoundingBox from (minLat, maxLat, minLon, maxLon).
func box(minLat, maxLat, minLon, maxLon float64) geo.BoundingBox {
	return geo.BoundingBox{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}
}

// fixedZone returns a selector that always yields zone.
func fixedZone(zone string) TimezoneSelector {
	return func(float64) string { return zone }
}

// TimezoneBand maps a longitude interval [MinLon, MaxLon) to a zone name.
type TimezoneBand struct {
	MinLon float64
	MaxLon float64
	Zone   string
}

// bandedZone returns a selector that scans bands in order and falls back
// to def when none contains the longitude.
func bandedZone(def string, bands ...TimezoneBand) TimezoneSelector {
	return func(lon float64) string {
		for _, b := range bands {
			if lon >= b.MinLon && lon < b.MaxLon {
				return b.Zone
			}
		}
		return def
	}
}

// DefaultCountries is the built-in country table. Order matters: boxes
// overlap (the United States and Canada share a band along the 49th
// parallel, France and Spain along the Pyrenees) and the first match
// wins.
var DefaultCountries = []Country{
	{
		Name:   "United States",
		Region: "North America",
		Bounds: box(24.0, 49.0, -125.0, -66.0),
		Timezone: bandedZone("America/New_York",
			TimezoneBand{-125, -117, "America/Los_Angeles"},
			TimezoneBand{-117, -104, "America/Denver"},
			TimezoneBand{-104, -87, "America/Chicago"},
			TimezoneBand{-87, -66, "America/New_York"},
		),
		Cities: []City{
			{Name: "Los Angeles", Bounds: box(33.7, 34.1, -118.7, -118.1)},
			{Name: "New York", Bounds: box(40.4, 40.9, -74.3, -73.7)},
			{Name: "San Francisco", Bounds: box(37.4, 37.8, -122.5, -122.3)},
			{Name: "Chicago", Bounds: box(41.6, 42.1, -88.0, -87.5)},
		},
	},
	{
		Name:   "Canada",
		Region: "North America",
		Bounds: box(42.0, 70.0, -141.0, -52.0),
		Timezone: bandedZone("America/Toronto",
			TimezoneBand{-141, -120, "America/Vancouver"},
			TimezoneBand{-120, -110, "America/Edmonton"},
			TimezoneBand{-110, -90, "America/Winnipeg"},
			TimezoneBand{-90, -60, "America/Toronto"},
			TimezoneBand{-60, -52, "America/Halifax"},
		),
		Cities: []City{
			{Name: "Toronto", Bounds: box(43.5, 43.9, -79.6, -79.1)},
			{Name: "Montreal", Bounds: box(45.4, 45.7, -73.8, -73.4)},
			{Name: "Vancouver", Bounds: box(49.0, 49.4, -123.3, -122.9)},
		},
	},
	{
		Name:     "United Kingdom",
		Region:   "Europe",
		Bounds:   box(49.0, 61.0, -8.0, 2.0),
		Timezone: fixedZone("Europe/London"),
		Cities: []City{
			{Name: "London", Bounds: box(51.3, 51.7, -0.5, 0.3)},
			{Name: "Manchester", Bounds: box(53.3, 53.6, -2.4, -2.1)},
		},
	},
	{
		Name:     "France",
		Region:   "Europe",
		Bounds:   box(42.0, 51.0, -5.0, 9.0),
		Timezone: fixedZone("Europe/Paris"),
		Cities: []City{
			{Name: "Paris", Bounds: box(48.7, 49.0, 2.1, 2.6)},
			{Name: "Marseille", Bounds: box(43.2, 43.4, 5.3, 5.5)},
		},
	},
	{
		Name:     "Germany",
		Region:   "Europe",
		Bounds:   box(47.0, 55.0, 6.0, 15.0),
		Timezone: fixedZone("Europe/Berlin"),
		Cities: []City{
			{Name: "Berlin", Bounds: box(52.3, 52.7, 13.2, 13.6)},
			{Name: "Munich", Bounds: box(48.0, 48.3, 11.4, 11.8)},
		},
	},
	{
		Name:     "Italy",
		Region:   "Europe",
		Bounds:   box(36.0, 47.0, 6.0, 19.0),
		Timezone: fixedZone("Europe/Rome"),
		Cities: []City{
			{Name: "Rome", Bounds: box(41.7, 42.0, 12.3, 12.7)},
			{Name: "Milan", Bounds: box(45.3, 45.6, 9.0, 9.4)},
		},
	},
	{
		Name:     "Spain",
		Region:   "Europe",
		Bounds:   box(35.0, 44.0, -9.0, 5.0),
		Timezone: fixedZone("Europe/Madrid"),
		Cities: []City{
			{Name: "Madrid", Bounds: box(40.3, 40.6, -3.8, -3.5)},
			{Name: "Barcelona", Bounds: box(41.3, 41.5, 2.0, 2.3)},
		},
	},
	{
		Name:     "Japan",
		Region:   "Asia",
		Bounds:   box(31.0, 46.0, 125.0, 146.0),
		Timezone: fixedZone("Asia/Tokyo"),
		Cities: []City{
			{Name: "Tokyo", Bounds: box(35.5, 35.8, 139.5, 139.9)},
			{Name: "Osaka", Bounds: box(34.6, 34.8, 135.4, 135.6)},
		},
	},
	{
		Name:   "Australia",
		Region: "Oceania",
		Bounds: box(-44.0, -10.0, 113.0, 154.0),
		Timezone: bandedZone("Australia/Sydney",
			TimezoneBand{113, 129, "Australia/Perth"},
			TimezoneBand{129, 138, "Australia/Adelaide"},
			TimezoneBand{138, 154, "Australia/Sydney"},
		),
		Cities: []City{
			{Name: "Sydney", Bounds: box(-34.1, -33.7, 150.9, 151.3)},
			{Name: "Melbourne", Bounds: box(-37.9, -37.7, 144.8, 145.1)},
		},
	},
}

// DefaultOceans is the ocean decision table, evaluated in order.
// The Atlantic band is tested before the Pacific band so the shared
// -80 meridian belongs to the Atlantic. The polar rules only see what the
// longitude bands leave over, so Antarctic never matches.
var DefaultOceans = []OceanRule{
	{Name: "North Atlantic Ocean", Match: func(c geo.Coordinate) bool {
		return c.Longitude >= -80 && c.Longitude <= 20 && c.Latitude >= 0
	}},
	{Name: "South Atlantic Ocean", Match: func(c geo.Coordinate) bool {
		return c.Longitude >= -80 && c.Longitude <= 20 && c.Latitude < 0
	}},
	{Name: "North Pacific Ocean", Match: func(c geo.Coordinate) bool {
		return pacificBand(c.Longitude) && c.Latitude >= 0
	}},
	{Name: "South Pacific Ocean", Match: func(c geo.Coordinate) bool {
		return pacificBand(c.Longitude) && c.Latitude < 0
	}},
	{Name: "Indian Ocean", Match: func(c geo.Coordinate) bool {
		return c.Longitude > 20 && c.Longitude < 120 && c.Latitude <= 30
	}},
	{Name: "Arctic Ocean", Match: func(c geo.Coordinate) bool {
		return c.Latitude >= 66
	}},
	{Name: "Antarctic Ocean", Match: func(c geo.Coordinate) bool {
		return c.Latitude <= -60
	}},
}

func pacificBand(lon float64) bool {
	return (lon >= -180 && lon < -80) || (lon >= 120 && lon <= 180)
}
