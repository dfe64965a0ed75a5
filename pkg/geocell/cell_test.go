package geocell

import (
	"errors"
	"math"
	"testing"
)

func TestToCellDeterministic(t *testing.T) {
	coords := []struct{ lat, lng float64 }{
		{48.8566, 2.3522},   // Paris
		{-33.8688, 151.209}, // Sydney
		{0, 0},
		{-89.9, -179.9},
		{89.9, 179.9},
	}

	for _, c := range coords {
		first, err := ToCell(c.lat, c.lng, ResolutionWaypoint)
		if err != nil {
			t.Fatalf("ToCell(%v, %v): %v", c.lat, c.lng, err)
		}
		second, err := ToCell(c.lat, c.lng, ResolutionWaypoint)
		if err != nil {
			t.Fatalf("ToCell(%v, %v) second call: %v", c.lat, c.lng, err)
		}
		if first != second {
			t.Errorf("ToCell(%v, %v) not deterministic: %#x vs %#x", c.lat, c.lng, uint64(first), uint64(second))
		}
		if first == 0 {
			t.Errorf("ToCell(%v, %v) returned the reserved zero cell", c.lat, c.lng)
		}
	}
}

func TestCellCenterWithinCell(t *testing.T) {
	coords := []struct{ lat, lng float64 }{
		{48.8566, 2.3522},
		{-33.8688, 151.209},
		{35.6762, 139.6503},
		{-0.0001, -0.0001},
	}

	for _, res := range []Resolution{ResolutionDestination, ResolutionWaypoint} {
		edge := res.edgeDegrees()
		for _, c := range coords {
			cell, err := ToCell(c.lat, c.lng, res)
			if err != nil {
				t.Fatalf("ToCell: %v", err)
			}
			lat, lng, err := CellCenter(cell)
			if err != nil {
				t.Fatalf("CellCenter: %v", err)
			}

			// The center must land in the same cell as the original point.
			if math.Abs(lat-c.lat) > edge || math.Abs(lng-c.lng) > edge {
				t.Errorf("res %d: center (%v, %v) too far from origin (%v, %v)", res, lat, lng, c.lat, c.lng)
			}
			roundTrip, err := ToCell(lat, lng, res)
			if err != nil {
				t.Fatalf("ToCell(center): %v", err)
			}
			if roundTrip != cell {
				t.Errorf("res %d: center of %#x quantizes to %#x", res, uint64(cell), uint64(roundTrip))
			}
		}
	}
}

func TestToCellRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		lat, lng float64
		res      Resolution
	}{
		{"lat too high", 90.01, 0, ResolutionWaypoint},
		{"lat too low", -91, 0, ResolutionWaypoint},
		{"lng too high", 0, 180.5, ResolutionWaypoint},
		{"lng too low", 0, -200, ResolutionWaypoint},
		{"lat NaN", math.NaN(), 0, ResolutionWaypoint},
		{"resolution too fine", 10, 10, 8},
		{"negative resolution", 10, 10, -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ToCell(tc.lat, tc.lng, tc.res); !errors.Is(err, ErrInvalidGeometry) {
				t.Errorf("expected ErrInvalidGeometry, got %v", err)
			}
		})
	}
}

func TestParentIsUniqueAndContainsChild(t *testing.T) {
	coords := []struct{ lat, lng float64 }{
		{48.8566, 2.3522},
		{-33.8688, 151.209},
		{-12.0464, -77.0428}, // Lima: both indexes negative
	}

	for _, c := range coords {
		fine, err := ToCell(c.lat, c.lng, ResolutionWaypoint)
		if err != nil {
			t.Fatalf("ToCell fine: %v", err)
		}
		parent, err := Parent(fine, ResolutionDestination)
		if err != nil {
			t.Fatalf("Parent: %v", err)
		}

		// Quantizing the original point directly at the coarse resolution
		// must land in the same ancestor.
		direct, err := ToCell(c.lat, c.lng, ResolutionDestination)
		if err != nil {
			t.Fatalf("ToCell coarse: %v", err)
		}
		if parent != direct {
			t.Errorf("(%v, %v): parent %#x != direct coarse cell %#x", c.lat, c.lng, uint64(parent), uint64(direct))
		}
		if parent.Resolution() != ResolutionDestination {
			t.Errorf("parent resolution: got %d, want %d", parent.Resolution(), ResolutionDestination)
		}
	}
}

func TestParentRejectsFinerOrEqualResolution(t *testing.T) {
	cell, err := ToCell(10, 10, ResolutionDestination)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parent(cell, ResolutionDestination); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("same resolution: expected ErrInvalidGeometry, got %v", err)
	}
	if _, err := Parent(cell, ResolutionWaypoint); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("finer resolution: expected ErrInvalidGeometry, got %v", err)
	}
}

func TestNeighborsRingOne(t *testing.T) {
	cell, err := ToCell(48.8566, 2.3522, ResolutionDestination)
	if err != nil {
		t.Fatal(err)
	}

	neighbors, err := Neighbors(cell, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 8 {
		t.Fatalf("ring 1 neighbor count: got %d, want 8", len(neighbors))
	}

	seen := map[Cell]struct{}{}
	for _, n := range neighbors {
		if n == cell {
			t.Error("neighbors must not include the center cell")
		}
		if n.Resolution() != ResolutionDestination {
			t.Errorf("neighbor resolution: got %d, want %d", n.Resolution(), ResolutionDestination)
		}
		if _, dup := seen[n]; dup {
			t.Errorf("duplicate neighbor %#x", uint64(n))
		}
		seen[n] = struct{}{}
	}
}

func TestNeighborsRejectsBadRing(t *testing.T) {
	cell, err := ToCell(0, 0, ResolutionWaypoint)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Neighbors(cell, 0); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestZeroCellIsInvalid(t *testing.T) {
	var c Cell
	if c.Valid() {
		t.Error("zero cell must be invalid")
	}
	if _, _, err := CellCenter(c); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("CellCenter(0): expected ErrInvalidGeometry, got %v", err)
	}
}

func TestDestinationEdgeIsTripleWaypointEdge(t *testing.T) {
	ratio := ResolutionDestination.EdgeMeters() / ResolutionWaypoint.EdgeMeters()
	if math.Abs(ratio-3) > 1e-9 {
		t.Errorf("edge ratio: got %v, want exactly 3", ratio)
	}
}
