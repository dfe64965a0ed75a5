// Package geocell quantizes geographic coordinates into hierarchical grid
// cells for privacy-preserving location matching. Raw coordinates are never
// compared directly: trips are reduced to sets of fixed-shape cells, and
// similarity is computed over cell identity alone.
//
// The grid is a plain latitude/longitude raster. Each resolution level maps
// to a cell edge length in meters, converted to degrees on a spherical
// earth. Edges shrink by a factor of 3 per level, so every cell at a fine
// resolution has exactly one ancestor at any coarser resolution.
package geocell

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean spherical earth radius used for all
// meter/degree conversions.
const EarthRadiusMeters = 6_371_000.0

// Resolution identifies a grid level. Higher values are finer, mirroring
// the hierarchical cell indexes the matching circuit was designed around.
type Resolution int

const (
	// ResolutionDestination is the coarse level used for public pre-filter
	// metadata. Cells are ~6.7 km on a side.
	ResolutionDestination Resolution = 6

	// ResolutionWaypoint is the fine level used for private route
	// waypoints. Cells are ~2.2 km on a side (~5 km² at the equator).
	ResolutionWaypoint Resolution = 7
)

const (
	minResolution Resolution = 0
	maxResolution Resolution = 7

	// waypointEdgeMeters is the cell edge at ResolutionWaypoint. Every
	// coarser level multiplies the edge by 3, keeping the hierarchy total.
	waypointEdgeMeters = 2236.0
)

// ErrInvalidGeometry is returned for out-of-range coordinates, unsupported
// resolutions, or malformed cell identifiers. Inputs are never clamped.
var ErrInvalidGeometry = errors.New("geocell: invalid geometry")

// Cell is an opaque fixed-width cell identifier. The zero value is reserved
// and never identifies a real cell; codecs use it as a padding sentinel.
//
// Layout: [4 bits resolution tag | 2 bits unused | 29 bits biased x | 29 bits biased y].
// The resolution tag is stored as resolution+1 so that a valid Cell is
// always non-zero.
type Cell uint64

const (
	cellIndexBits = 29
	cellIndexBias = int64(1) << (cellIndexBits - 1)
	cellIndexMask = (uint64(1) << cellIndexBits) - 1
	cellResShift  = 2*cellIndexBits + 2
)

// Supported reports whether r is a grid level this package understands.
func (r Resolution) Supported() bool {
	return r >= minResolution && r <= maxResolution
}

// EdgeMeters returns the cell edge length in meters at this resolution.
func (r Resolution) EdgeMeters() float64 {
	edge := waypointEdgeMeters
	for l := r; l < maxResolution; l++ {
		edge *= 3
	}
	return edge
}

// edgeDegrees returns the cell edge length converted to degrees of arc.
func (r Resolution) edgeDegrees() float64 {
	return r.EdgeMeters() / EarthRadiusMeters * (180.0 / math.Pi)
}

// ToCell quantizes a coordinate to the cell containing it at the given
// resolution. The mapping is deterministic: the same coordinate always
// yields the same cell.
func ToCell(lat, lng float64, res Resolution) (Cell, error) {
	if !res.Supported() {
		return 0, fmt.Errorf("%w: unsupported resolution %d", ErrInvalidGeometry, res)
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return 0, fmt.Errorf("%w: coordinate (%v, %v) out of range", ErrInvalidGeometry, lat, lng)
	}

	edge := res.edgeDegrees()
	x := int64(math.Floor(lng / edge))
	y := int64(math.Floor(lat / edge))

	return packCell(res, x, y), nil
}

// CellCenter returns the coordinate at the center of the cell. The center
// always lies within the cell's own boundary, so quantize/center round
// trips stay inside the originating cell.
func CellCenter(c Cell) (lat, lng float64, err error) {
	res, x, y, err := unpackCell(c)
	if err != nil {
		return 0, 0, err
	}

	edge := res.edgeDegrees()
	return (float64(y) + 0.5) * edge, (float64(x) + 0.5) * edge, nil
}

// Resolution returns the grid level the cell was derived at, or -1 for the
// zero sentinel and malformed identifiers.
func (c Cell) Resolution() Resolution {
	res, _, _, err := unpackCell(c)
	if err != nil {
		return -1
	}
	return res
}

// Valid reports whether c identifies a real cell.
func (c Cell) Valid() bool {
	_, _, _, err := unpackCell(c)
	return err == nil
}

// Parent returns the unique ancestor of c at a coarser resolution. Because
// edges scale by exact powers of 3, the ancestor is total and deterministic
// for every supported coarser level.
func Parent(c Cell, coarser Resolution) (Cell, error) {
	res, x, y, err := unpackCell(c)
	if err != nil {
		return 0, err
	}
	if !coarser.Supported() || coarser >= res {
		return 0, fmt.Errorf("%w: resolution %d is not coarser than %d", ErrInvalidGeometry, coarser, res)
	}

	factor := int64(1)
	for l := coarser; l < res; l++ {
		factor *= 3
	}

	return packCell(coarser, floorDiv(x, factor), floorDiv(y, factor)), nil
}

// Neighbors returns all cells within ring steps of c, excluding c itself.
// Rows that would fall past the poles are dropped. Callers wanting
// proximity pre-filtering issue one query per returned cell.
func Neighbors(c Cell, ring int) ([]Cell, error) {
	res, x, y, err := unpackCell(c)
	if err != nil {
		return nil, err
	}
	if ring < 1 {
		return nil, fmt.Errorf("%w: ring radius must be at least 1", ErrInvalidGeometry)
	}

	edge := res.edgeDegrees()
	maxY := int64(math.Floor(90 / edge))
	minY := int64(math.Floor(-90 / edge))

	cells := make([]Cell, 0, (2*ring+1)*(2*ring+1)-1)
	for dy := -int64(ring); dy <= int64(ring); dy++ {
		ny := y + dy
		if ny < minY || ny > maxY {
			continue
		}
		for dx := -int64(ring); dx <= int64(ring); dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			cells = append(cells, packCell(res, x+dx, ny))
		}
	}
	return cells, nil
}

func packCell(res Resolution, x, y int64) Cell {
	ux := uint64(x+cellIndexBias) & cellIndexMask
	uy := uint64(y+cellIndexBias) & cellIndexMask
	return Cell(uint64(res+1)<<cellResShift | ux<<cellIndexBits | uy)
}

func unpackCell(c Cell) (Resolution, int64, int64, error) {
	if c == 0 {
		return 0, 0, 0, fmt.Errorf("%w: zero cell identifier", ErrInvalidGeometry)
	}
	res := Resolution(uint64(c)>>cellResShift) - 1
	if !res.Supported() {
		return 0, 0, 0, fmt.Errorf("%w: malformed cell identifier %#x", ErrInvalidGeometry, uint64(c))
	}
	x := int64(uint64(c)>>cellIndexBits&cellIndexMask) - cellIndexBias
	y := int64(uint64(c)&cellIndexMask) - cellIndexBias
	return res, x, y, nil
}

// floorDiv divides rounding toward negative infinity, so grid indexes west
// of Greenwich and south of the equator nest the same way as positive ones.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
