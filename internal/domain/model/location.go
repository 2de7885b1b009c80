package model

import "sort"

// Location is a named spawn zone.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// DefaultLocations returns the stock spawn zones sorted by name.
func DefaultLocations() []Location {
	locs := []Location{
		{Name: "Praça Central", Lat: -27.630913, Lon: -48.679793},
		{Name: "Parque da Cidade", Lat: -27.639797, Lon: -48.667749},
		{Name: "Casa do Vô", Lat: -27.51563471648395, Lon: -48.64996016391755},
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Name < locs[j].Name })
	return locs
}
