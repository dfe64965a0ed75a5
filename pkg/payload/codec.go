package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/triper/triper/pkg/geocell"
)

// Trip field layout, protocol version 1. Offsets are fixed; the circuit
// reads the payload positionally.
const (
	tripWaypointOffset  = 0
	tripCountOffset     = MaxWaypoints
	tripStartOffset     = MaxWaypoints + 1
	tripEndOffset       = MaxWaypoints + 2
	tripInterestsOffset = MaxWaypoints + 3

	// TripFieldCount is the total number of field elements in an encoded
	// trip. Constant regardless of how many waypoints are populated.
	TripFieldCount = MaxWaypoints + 4
)

// EncodeTrip serializes a trip into its fixed-order field sequence:
// 20 waypoint slots (sentinel-padded), waypoint count, start date, end
// date, interest bitmask. Every valid trip has exactly one encoding.
func EncodeTrip(t *Trip) ([]uint64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	fields := make([]uint64, TripFieldCount)
	for i, w := range t.Waypoints {
		fields[tripWaypointOffset+i] = uint64(w)
	}
	for i := len(t.Waypoints); i < MaxWaypoints; i++ {
		fields[tripWaypointOffset+i] = SentinelWaypoint
	}
	fields[tripCountOffset] = uint64(len(t.Waypoints))
	fields[tripStartOffset] = uint64(t.StartDate)
	fields[tripEndOffset] = uint64(t.EndDate)
	fields[tripInterestsOffset] = uint64(t.Interests)

	return fields, nil
}

// DecodeTrip is the inverse of EncodeTrip. The count field is authoritative
// for iteration bounds; the decoder still verifies that live slots hold
// real cells and padded slots hold the sentinel, and rejects anything else
// as a layout mismatch.
func DecodeTrip(fields []uint64) (*Trip, error) {
	if len(fields) != TripFieldCount {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrProtocolMismatch, len(fields), TripFieldCount)
	}

	count := fields[tripCountOffset]
	if count > MaxWaypoints {
		return nil, fmt.Errorf("%w: waypoint count %d exceeds %d", ErrProtocolMismatch, count, MaxWaypoints)
	}

	waypoints := make([]geocell.Cell, 0, count)
	for i := 0; i < MaxWaypoints; i++ {
		raw := fields[tripWaypointOffset+i]
		if uint64(i) < count {
			cell := geocell.Cell(raw)
			if raw == SentinelWaypoint || !cell.Valid() {
				return nil, fmt.Errorf("%w: live waypoint slot %d holds %#x", ErrProtocolMismatch, i, raw)
			}
			waypoints = append(waypoints, cell)
		} else if raw != SentinelWaypoint {
			return nil, fmt.Errorf("%w: padded waypoint slot %d holds %#x", ErrProtocolMismatch, i, raw)
		}
	}

	if fields[tripInterestsOffset] > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: interest bitmask exceeds %d bits", ErrProtocolMismatch, MaxInterests)
	}

	t := &Trip{
		Waypoints: waypoints,
		StartDate: int64(fields[tripStartOffset]),
		EndDate:   int64(fields[tripEndOffset]),
		Interests: InterestSet(fields[tripInterestsOffset]),
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: decoded trip invalid: %v", ErrProtocolMismatch, err)
	}
	return t, nil
}

// FieldsToBytes flattens a field sequence into the little-endian byte
// layout the cipher operates on. 8 bytes per field, fixed order.
func FieldsToBytes(fields []uint64) []byte {
	buf := make([]byte, len(fields)*8)
	for i, f := range fields {
		binary.LittleEndian.PutUint64(buf[i*8:], f)
	}
	return buf
}

// BytesToFields is the inverse of FieldsToBytes. A length that is not a
// whole number of fields is a layout mismatch.
func BytesToFields(buf []byte) ([]uint64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole field sequence", ErrProtocolMismatch, len(buf))
	}
	fields := make([]uint64, len(buf)/8)
	for i := range fields {
		fields[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return fields, nil
}
