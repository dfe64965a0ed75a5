// Package payload defines the trip and profile domain objects and their
// fixed-layout field encoding. The field order and widths are a protocol
// contract shared with the external matching circuit: the circuit reads
// payloads as a flat sequence of fixed-width values, so any layout change
// requires a ProtocolVersion bump on both sides.
package payload

import (
	"errors"
	"math/bits"

	"github.com/triper/triper/pkg/geocell"
)

// ProtocolVersion identifies the field layout. It must match the version
// the computation circuit was compiled against.
const ProtocolVersion = 1

const (
	// MaxWaypoints is the fixed number of waypoint slots per trip. Unused
	// slots are padded with SentinelWaypoint so every trip encodes to the
	// same length.
	MaxWaypoints = 20

	// MaxInterests is the capacity of the interest bitmask.
	MaxInterests = 32

	// SentinelWaypoint fills unused waypoint slots. It coincides with the
	// reserved zero cell identifier, so a live waypoint can never collide
	// with padding.
	SentinelWaypoint = uint64(0)
)

// Interest category bit positions. The ordering is part of the protocol
// contract: position 0 is hiking on every client and in the circuit.
const (
	InterestHiking = iota
	InterestFood
	InterestCulture
	InterestNightlife
	InterestNature
	InterestBeach
	InterestShopping
	InterestSports
	InterestPhotography
	InterestMusic
)

// ErrInvalidPayload is returned when a domain object violates its own
// preconditions (too many waypoints, inverted dates, oversized text).
// Oversized input is rejected, never truncated.
var ErrInvalidPayload = errors.New("payload: invalid payload")

// ErrProtocolMismatch is returned when a field sequence does not match the
// expected layout: wrong field count, out-of-width values, or padding
// where a live value belongs. Decoding fails loudly instead of producing
// a plausible-looking wrong record.
var ErrProtocolMismatch = errors.New("payload: protocol layout mismatch")

// InterestSet is a fixed-width boolean vector of interest categories,
// one bit per category.
type InterestSet uint32

// With returns a copy of the set with the given category bit set.
func (s InterestSet) With(category int) InterestSet {
	if category < 0 || category >= MaxInterests {
		return s
	}
	return s | 1<<uint(category)
}

// Has reports whether the category bit is set.
func (s InterestSet) Has(category int) bool {
	if category < 0 || category >= MaxInterests {
		return false
	}
	return s&(1<<uint(category)) != 0
}

// Count returns the number of set categories.
func (s InterestSet) Count() int {
	return bits.OnesCount32(uint32(s))
}

// Trip is the private trip payload: an ordered route of waypoint cells,
// a travel window, and the owner's interest categories. This is the data
// the matching circuit consumes; it never leaves the client unencrypted.
type Trip struct {
	Waypoints []geocell.Cell
	StartDate int64 // unix seconds, inclusive
	EndDate   int64 // unix seconds, exclusive
	Interests InterestSet
}

// Validate checks the trip's preconditions: at most MaxWaypoints valid
// waypoint-resolution cells and a non-inverted date window.
func (t *Trip) Validate() error {
	if len(t.Waypoints) > MaxWaypoints {
		return errors.Join(ErrInvalidPayload, errors.New("too many waypoints"))
	}
	for _, w := range t.Waypoints {
		if !w.Valid() || w.Resolution() != geocell.ResolutionWaypoint {
			return errors.Join(ErrInvalidPayload, errors.New("waypoint is not a valid waypoint-resolution cell"))
		}
	}
	if t.StartDate <= 0 || t.EndDate <= 0 || t.EndDate < t.StartDate {
		return errors.Join(ErrInvalidPayload, errors.New("invalid date window"))
	}
	return nil
}

// Equal reports whether two trips carry the same payload.
func (t *Trip) Equal(other *Trip) bool {
	if t.StartDate != other.StartDate || t.EndDate != other.EndDate || t.Interests != other.Interests {
		return false
	}
	if len(t.Waypoints) != len(other.Waypoints) {
		return false
	}
	for i := range t.Waypoints {
		if t.Waypoints[i] != other.Waypoints[i] {
			return false
		}
	}
	return true
}
