package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var (
	latitudeNames  = []string{"lat", "latitude", "y", "lat_dd", "latitude_dd", "ycoord", "y_coord", "point_y"}
	longitudeNames = []string{"lon", "lng", "long", "longitude", "x", "lon_dd", "longitude_dd", "xcoord", "x_coord", "point_x"}
)

// coordinateColumns returns the indexes of the latitude and longitude
// columns, or -1 when not found. Names are matched case-insensitively and
// earlier entries in the name lists win.
func coordinateColumns(headers []string) (lat, lon int) {
	lat, lon = -1, -1
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, seen := index[key]; !seen {
			index[key] = i
		}
	}
	for _, n := range latitudeNames {
		if i, ok := index[n]; ok {
			lat = i
			break
		}
	}
	for _, n := range longitudeNames {
		if i, ok := index[n]; ok {
			lon = i
			break
		}
	}
	if lat == lon {
		return -1, -1
	}
	return lat, lon
}

// parseCoordinate parses a decimal degree value. Non-finite values are
// rejected.
func parseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite coordinate %q", s)
	}
	return v, nil
}

// pointFromProperties derives a point from lat/lon-like members of a
// generic JSON object.
func pointFromProperties(props map[string]any) (orb.Point, bool) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	lat, lon := coordinateColumns(keys)
	if lat < 0 || lon < 0 {
		return orb.Point{}, false
	}
	y, ok := toFloat(props[keys[lat]])
	if !ok {
		return orb.Point{}, false
	}
	x, ok := toFloat(props[keys[lon]])
	if !ok {
		return orb.Point{}, false
	}
	return orb.Point{x, y}, true
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := parseCoordinate(v)
		return f, err == nil
	}
	return 0, false
}
