// Package prefilter implements the cheap public-data candidate search
// that runs before any confidential computation is triggered. Candidates
// are public projections of trips: coarse destination cell, date window,
// owner, liveness. Nothing here ever touches a private payload.
//
// Queries match the destination cell exactly. Proximity search is the
// caller's concern: issue one query per cell of a neighbor ring.
package prefilter

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/triper/triper/pkg/geocell"
)

// ErrUnavailable is returned when the candidate store cannot be reached.
// It is a transient infrastructure failure, distinct from an empty result,
// and the only error class callers should retry.
var ErrUnavailable = errors.New("prefilter: candidate store unavailable")

// Candidate is the public-only projection of a trip used for filtering.
type Candidate struct {
	TripID          string
	Owner           string
	DestinationCell geocell.Cell
	StartDate       int64 // unix seconds, inclusive
	EndDate         int64 // unix seconds, exclusive
	Active          bool
	CreatedAt       time.Time
}

// DateRange is a half-open [Start, End) window in unix seconds.
type DateRange struct {
	Start int64
	End   int64
}

// Overlaps reports whether [start, end) intersects the range.
func (r DateRange) Overlaps(start, end int64) bool {
	return start < r.End && end > r.Start
}

// Query describes one candidate search.
type Query struct {
	DestinationCell geocell.Cell
	Dates           DateRange
	ExcludeOwners   []string
	// Limit truncates the result after ordering. Zero or negative means
	// no truncation.
	Limit int
}

// Store answers candidate queries. Query is an idempotent read with no
// side effects. Result ordering is creation time ascending with the trip
// ID as tie-break, so truncation under Limit is deterministic and stable
// for a fixed data set.
type Store interface {
	Query(ctx context.Context, q Query) ([]Candidate, error)
}

// matches applies the query predicates shared by all store
// implementations: exact destination cell, active, overlapping dates,
// owner not excluded.
func matches(c *Candidate, q Query) bool {
	if !c.Active || c.DestinationCell != q.DestinationCell {
		return false
	}
	if !q.Dates.Overlaps(c.StartDate, c.EndDate) {
		return false
	}
	for _, owner := range q.ExcludeOwners {
		if c.Owner == owner {
			return false
		}
	}
	return true
}

// order sorts candidates into the documented stable order and applies the
// limit.
func order(candidates []Candidate, limit int) []Candidate {
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].TripID < candidates[j].TripID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
