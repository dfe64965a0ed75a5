// Package routing turns an ordered list of stops into the cell path a
// trip submits for matching. A Router may consult an external road
// network; the built-in fallback interpolates great-circle segments, so
// trip creation never fails just because a routing backend is down.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/triper/triper/pkg/geocell"
	"github.com/triper/triper/pkg/payload"
)

// ErrTooFewStops is returned when a route has no stops at all.
var ErrTooFewStops = errors.New("routing: at least one stop required")

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// Router produces the travelled path between two stops as a coordinate
// sequence including both endpoints.
type Router interface {
	Route(ctx context.Context, from, to Point) ([]Point, error)
}

const earthRadiusMeters = 6371000.0

// GreatCircleRouter is the fallback Router: it samples points along the
// straight great-circle segment, spaced at roughly one waypoint cell
// edge so the quantized path has no gaps.
type GreatCircleRouter struct{}

func (GreatCircleRouter) Route(_ context.Context, from, to Point) ([]Point, error) {
	dist := haversineMeters(from, to)
	steps := int(dist/geocell.ResolutionWaypoint.EdgeMeters()) + 1

	points := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		points = append(points, Point{
			Lat: from.Lat + (to.Lat-from.Lat)*f,
			Lng: normalizeLng(from.Lng + lngDelta(from.Lng, to.Lng)*f),
		})
	}
	return points, nil
}

// normalizeLng wraps a longitude back into [-180, 180] after
// interpolation across the antimeridian.
func normalizeLng(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}

// lngDelta picks the short way around the antimeridian.
func lngDelta(from, to float64) float64 {
	d := to - from
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

func haversineMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := lngDelta(a.Lng, b.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// CellPath routes through the stops in order and quantizes the combined
// path to waypoint cells, deduplicating and capping at the payload
// limit. With a single stop the path is that stop's cell. If the router
// fails on a segment, the segment falls back to a great-circle route
// rather than aborting the trip.
func CellPath(ctx context.Context, router Router, stops []Point) ([]geocell.Cell, error) {
	if len(stops) == 0 {
		return nil, ErrTooFewStops
	}
	if router == nil {
		router = GreatCircleRouter{}
	}

	var path []Point
	path = append(path, stops[0])
	for i := 1; i < len(stops); i++ {
		segment, err := router.Route(ctx, stops[i-1], stops[i])
		if err != nil {
			segment, err = GreatCircleRouter{}.Route(ctx, stops[i-1], stops[i])
			if err != nil {
				return nil, fmt.Errorf("route segment %d: %w", i, err)
			}
		}
		path = append(path, segment...)
	}

	seen := make(map[geocell.Cell]struct{})
	cells := make([]geocell.Cell, 0, payload.MaxWaypoints)
	for _, p := range path {
		cell, err := geocell.ToCell(p.Lat, p.Lng, geocell.ResolutionWaypoint)
		if err != nil {
			return nil, fmt.Errorf("quantize path point: %w", err)
		}
		if _, ok := seen[cell]; ok {
			continue
		}
		seen[cell] = struct{}{}
		cells = append(cells, cell)
	}

	if len(cells) > payload.MaxWaypoints {
		cells = downsample(cells, payload.MaxWaypoints)
	}
	return cells, nil
}

// downsample keeps n cells spread evenly across the path, always
// retaining the first and last.
func downsample(cells []geocell.Cell, n int) []geocell.Cell {
	out := make([]geocell.Cell, n)
	last := len(cells) - 1
	for i := 0; i < n; i++ {
		out[i] = cells[i*last/(n-1)]
	}
	return out
}
