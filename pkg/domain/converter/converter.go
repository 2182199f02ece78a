// Package converter turns raw FIT recordings into line-delimited GeoJSON
// features for the activity dataset.
package converter

import (
	"bytes"
	"fmt"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/tracktiles/server/pkg/integrations/intervals"
)

// MaxGapMeters is the distance between consecutive points above which a
// track is split into separate segments. Gaps come from tunnels, paused
// recordings and GPS dropouts; drawing a straight line across them
// produces visibly wrong tracks on the map.
const MaxGapMeters = 100.0

// FIT stores positions as signed 32-bit semicircles.
const semicircleToDegrees = 180.0 / 2147483648.0

// Feature is one self-contained dataset record. Coordinates may carry an
// optional third altitude element, which is why this is not the 2-D
// geometry type from orb/geojson.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

type Geometry struct {
	Type        string      `json:"type"` // "LineString" or "MultiLineString"
	Coordinates interface{} `json:"coordinates"`
}

// Properties carries the activity metadata each dataset record is keyed
// by. ID and Fingerprint are what the archive finalizer filters on.
type Properties struct {
	Name        string `json:"name"`
	Date        string `json:"date"`
	Type        string `json:"type"`
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

// FITToFeature decodes a FIT recording and returns a single feature with
// the activity's track, split on gaps larger than MaxGapMeters. A nil
// feature (with nil error) means the recording has no usable location
// data; that is an expected outcome, not a failure.
func FITToFeature(data []byte, activity *intervals.Activity) (*Feature, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty FIT data")
	}

	fitDec := decoder.New(bytes.NewReader(data))

	var coords [][]float64
	for fitDec.Next() {
		fitData, err := fitDec.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to decode FIT file: %w", err)
		}

		for _, msg := range fitData.Messages {
			if msg.Num != typedef.MesgNumRecord {
				continue
			}
			rec := mesgdef.NewRecord(&msg)

			// Position (FIT uses semicircles; 0x7FFFFFFF is invalid)
			if rec.PositionLat == 0x7FFFFFFF || rec.PositionLong == 0x7FFFFFFF {
				continue
			}
			lat := float64(rec.PositionLat) * semicircleToDegrees
			lon := float64(rec.PositionLong) * semicircleToDegrees

			// GeoJSON coordinate order is [lon, lat(, alt)]
			coord := []float64{lon, lat}

			// Altitude (FIT uses 5 * (altitude + 500); 0xFFFF is invalid)
			if rec.Altitude != 0xFFFF {
				coord = append(coord, (float64(rec.Altitude)/5)-500)
			}

			coords = append(coords, coord)
		}
	}

	// A single point cannot form a track
	if len(coords) < 2 {
		return nil, nil
	}

	segments := splitOnGaps(coords, MaxGapMeters)
	if len(segments) == 0 {
		return nil, nil
	}

	var geometry Geometry
	if len(segments) == 1 {
		geometry = Geometry{Type: "LineString", Coordinates: segments[0]}
	} else {
		geometry = Geometry{Type: "MultiLineString", Coordinates: segments}
	}

	return &Feature{
		Type:     "Feature",
		Geometry: geometry,
		Properties: Properties{
			Name:        activity.Name,
			Date:        activity.StartDateLocal,
			Type:        activity.Type,
			ID:          activity.ID,
			Fingerprint: activity.Fingerprint(),
		},
	}, nil
}

// splitOnGaps walks consecutive coordinate pairs and starts a new segment
// whenever the great-circle distance between them exceeds maxGapMeters.
// Segments with fewer than 2 points are dropped.
func splitOnGaps(coords [][]float64, maxGapMeters float64) [][][]float64 {
	var segments [][][]float64
	var current [][]float64

	for i, coord := range coords {
		current = append(current, coord)

		if i+1 < len(coords) {
			next := coords[i+1]
			dist := geo.DistanceHaversine(
				orb.Point{coord[0], coord[1]},
				orb.Point{next[0], next[1]},
			)
			if dist > maxGapMeters {
				if len(current) >= 2 {
					segments = append(segments, current)
				}
				current = nil
			}
		}
	}

	if len(current) >= 2 {
		segments = append(segments, current)
	}

	return segments
}
