package flight

import "github.com/unklstewy/flight-tracker/pkg/geo"

// bundledAirports ships with the binary so routes between major hubs
// resolve without a network connection.
var bundledAirports = []Airport{
	{
		IATA:        "LAX",
		ICAO:        "KLAX",
		Name:        "Los Angeles International Airport",
		City:        "Los Angeles",
		Country:     "United States",
		Location:    geo.Coordinate{Latitude: 33.9425, Longitude: -118.4081},
		ElevationFt: 125,
		Timezone:    "America/Los_Angeles",
	},
	{
		IATA:        "JFK",
		ICAO:        "KJFK",
		Name:        "John F Kennedy International Airport",
		City:        "New York",
		Country:     "United States",
		Location:    geo.Coordinate{Latitude: 40.639751, Longitude: -73.778925},
		ElevationFt: 13,
		Timezone:    "America/New_York",
	},
	{
		IATA:        "SFO",
		ICAO:        "KSFO",
		Name:        "San Francisco International Airport",
		City:        "San Francisco",
		Country:     "United States",
		Location:    geo.Coordinate{Latitude: 37.621311, Longitude: -122.378968},
		ElevationFt: 13,
		Timezone:    "America/Los_Angeles",
	},
	{
		IATA:        "ORD",
		ICAO:        "KORD",
		Name:        "Chicago O'Hare International Airport",
		City:        "Chicago",
		Country:     "United States",
		Location:    geo.Coordinate{Latitude: 41.978142, Longitude: -87.904722},
		ElevationFt: 672,
		Timezone:    "America/Chicago",
	},
	{
		IATA:        "LHR",
		ICAO:        "EGLL",
		Name:        "London Heathrow Airport",
		City:        "London",
		Country:     "United Kingdom",
		Location:    geo.Coordinate{Latitude: 51.4775, Longitude: -0.461389},
		ElevationFt: 83,
		Timezone:    "Europe/London",
	},
	{
		IATA:        "CDG",
		ICAO:        "LFPG",
		Name:        "Charles de Gaulle Airport",
		City:        "Paris",
		Country:     "France",
		Location:    geo.Coordinate{Latitude: 49.009722, Longitude: 2.547778},
		ElevationFt: 392,
		Timezone:    "Europe/Paris",
	},
	{
		IATA:        "FRA",
		ICAO:        "EDDF",
		Name:        "Frankfurt Airport",
		City:        "Frankfurt",
		Country:     "Germany",
		Location:    geo.Coordinate{Latitude: 50.033333, Longitude: 8.570556},
		ElevationFt: 364,
		Timezone:    "Europe/Berlin",
	},
	{
		IATA:        "HND",
		ICAO:        "RJTT",
		Name:        "Tokyo Haneda Airport",
		City:        "Tokyo",
		Country:     "Japan",
		Location:    geo.Coordinate{Latitude: 35.552258, Longitude: 139.779694},
		ElevationFt: 35,
		Timezone:    "Asia/Tokyo",
	},
	{
		IATA:        "SYD",
		ICAO:        "YSSY",
		Name:        "Sydney Kingsford Smith Airport",
		City:        "Sydney",
		Country:     "Australia",
		Location:    geo.Coordinate{Latitude: -33.946667, Longitude: 151.177222},
		ElevationFt: 21,
		Timezone:    "Australia/Sydney",
	},
	{
		IATA:        "DXB",
		ICAO:        "OMDB",
		Name:        "Dubai International Airport",
		City:        "Dubai",
		Country:     "United Arab Emirates",
		Location:    geo.Coordinate{Latitude: 25.252778, Longitude: 55.364444},
		ElevationFt: 62,
		Timezone:    "Asia/Dubai",
	},
}
