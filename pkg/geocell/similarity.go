package geocell

// RouteSimilarity scores how much two routes overlap, as the Jaccard index
// of their waypoint cell sets scaled to 0..100 with half-up rounding.
// Duplicate cells within a route are counted once. If either route is
// empty the score is 0.
//
// Identical non-empty sets score 100; disjoint sets score 0.
func RouteSimilarity(a, b []Cell) int {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for c := range setA {
		if _, ok := setB[c]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	// Scale to a percentage, rounding half-up.
	return (200*intersection + union) / (2 * union)
}

func toSet(cells []Cell) map[Cell]struct{} {
	set := make(map[Cell]struct{}, len(cells))
	for _, c := range cells {
		if c != 0 {
			set[c] = struct{}{}
		}
	}
	return set
}
