package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/italolelis/offline_maps/internal/offline"
)

// parseProperty reads a property written as id=lat:lng. Commas are avoided because slice
// flags split on them.
func parseProperty(s string) (offline.Property, error) {
	id, coords, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return offline.Property{}, fmt.Errorf("invalid property %q: expected id=lat:lng", s)
	}

	latStr, lngStr, ok := strings.Cut(coords, ":")
	if !ok {
		return offline.Property{}, fmt.Errorf("invalid property %q: expected id=lat:lng", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return offline.Property{}, fmt.Errorf("invalid latitude in %q", s)
	}

	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil || lng < -180 || lng > 180 {
		return offline.Property{}, fmt.Errorf("invalid longitude in %q", s)
	}

	id = strings.TrimSpace(id)

	return offline.Property{ID: id, Title: id, Coordinates: [2]float64{lat, lng}}, nil
}

func parseProperties(values []string) ([]offline.Property, error) {
	props := make([]offline.Property, 0, len(values))

	for _, v := range values {
		p, err := parseProperty(v)
		if err != nil {
			return nil, err
		}

		props = append(props, p)
	}

	return props, nil
}
