package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triper/triper/pkg/geocell"
	"github.com/triper/triper/pkg/payload"
)

func TestCellPathSingleStop(t *testing.T) {
	cells, err := CellPath(context.Background(), nil, []Point{{Lat: 48.8566, Lng: 2.3522}})
	require.NoError(t, err)
	require.Len(t, cells, 1)

	want, err := geocell.ToCell(48.8566, 2.3522, geocell.ResolutionWaypoint)
	require.NoError(t, err)
	assert.Equal(t, want, cells[0])
}

func TestCellPathNoStops(t *testing.T) {
	_, err := CellPath(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrTooFewStops)
}

func TestCellPathConnectsStopsWithinCap(t *testing.T) {
	stops := []Point{
		{Lat: 48.8566, Lng: 2.3522}, // Paris
		{Lat: 45.7640, Lng: 4.8357}, // Lyon
	}
	cells, err := CellPath(context.Background(), nil, stops)
	require.NoError(t, err)

	require.NotEmpty(t, cells)
	assert.LessOrEqual(t, len(cells), payload.MaxWaypoints)

	first, err := geocell.ToCell(stops[0].Lat, stops[0].Lng, geocell.ResolutionWaypoint)
	require.NoError(t, err)
	last, err := geocell.ToCell(stops[1].Lat, stops[1].Lng, geocell.ResolutionWaypoint)
	require.NoError(t, err)
	assert.Equal(t, first, cells[0])
	assert.Equal(t, last, cells[len(cells)-1])

	seen := make(map[geocell.Cell]struct{})
	for _, c := range cells {
		_, dup := seen[c]
		assert.False(t, dup, "cell path must not repeat cells")
		seen[c] = struct{}{}
	}
}

type failingRouter struct{}

func (failingRouter) Route(context.Context, Point, Point) ([]Point, error) {
	return nil, errors.New("backend down")
}

func TestCellPathFallsBackWhenRouterFails(t *testing.T) {
	stops := []Point{
		{Lat: 48.8566, Lng: 2.3522},
		{Lat: 45.7640, Lng: 4.8357},
	}
	cells, err := CellPath(context.Background(), failingRouter{}, stops)
	require.NoError(t, err)
	assert.NotEmpty(t, cells)
}

func TestGreatCircleRouteCrossesAntimeridianShortWay(t *testing.T) {
	points, err := GreatCircleRouter{}.Route(context.Background(),
		Point{Lat: 0, Lng: 179.5}, Point{Lat: 0, Lng: -179.5})
	require.NoError(t, err)

	// One degree of longitude, not 359: a short hop's sample count stays
	// small.
	assert.Less(t, len(points), 100)
}
