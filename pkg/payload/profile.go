package payload

import (
	"bytes"
	"fmt"
)

// Profile size limits. Display name and bio are short free-text fields;
// the ceiling keeps the encrypted profile within its on-ledger account
// allocation.
const (
	// ProfileNameMaxBytes bounds the display name.
	ProfileNameMaxBytes = 64

	// ProfileBioMaxBytes bounds the bio.
	ProfileBioMaxBytes = 256

	// MaxEncryptedProfileBytes is the hard ceiling on the encrypted
	// profile payload. Input that would exceed it is rejected up front.
	MaxEncryptedProfileBytes = 512
)

// Profile field layout, protocol version 1: interest bitmask, travel
// style, name length, 8 name fields (64 bytes), bio length, 32 bio fields
// (256 bytes).
const (
	profileInterestsOffset = 0
	profileStyleOffset     = 1
	profileNameLenOffset   = 2
	profileNameOffset      = 3
	profileNameFields      = ProfileNameMaxBytes / 8
	profileBioLenOffset    = profileNameOffset + profileNameFields
	profileBioOffset       = profileBioLenOffset + 1
	profileBioFields       = ProfileBioMaxBytes / 8

	// ProfileFieldCount is the total number of field elements in an
	// encoded profile.
	ProfileFieldCount = profileBioOffset + profileBioFields
)

// Profile is the private profile payload: interest categories plus
// optional short free-text fields. Like trips, it is encrypted before it
// leaves the client.
type Profile struct {
	Interests   InterestSet
	TravelStyle uint8
	DisplayName string
	Bio         string
}

// Validate checks the profile's size preconditions.
func (p *Profile) Validate() error {
	if len(p.DisplayName) > ProfileNameMaxBytes {
		return fmt.Errorf("%w: display name exceeds %d bytes", ErrInvalidPayload, ProfileNameMaxBytes)
	}
	if len(p.Bio) > ProfileBioMaxBytes {
		return fmt.Errorf("%w: bio exceeds %d bytes", ErrInvalidPayload, ProfileBioMaxBytes)
	}
	return nil
}

// EncodeProfile serializes a profile into its fixed-order field sequence.
// Text is packed into 8-byte fields, zero-padded; the length fields are
// authoritative.
func EncodeProfile(p *Profile) ([]uint64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	fields := make([]uint64, ProfileFieldCount)
	fields[profileInterestsOffset] = uint64(p.Interests)
	fields[profileStyleOffset] = uint64(p.TravelStyle)
	fields[profileNameLenOffset] = uint64(len(p.DisplayName))
	packText(fields[profileNameOffset:profileNameOffset+profileNameFields], p.DisplayName)
	fields[profileBioLenOffset] = uint64(len(p.Bio))
	packText(fields[profileBioOffset:profileBioOffset+profileBioFields], p.Bio)

	return fields, nil
}

// DecodeProfile is the inverse of EncodeProfile.
func DecodeProfile(fields []uint64) (*Profile, error) {
	if len(fields) != ProfileFieldCount {
		return nil, fmt.Errorf("%w: got %d fields, want %d", ErrProtocolMismatch, len(fields), ProfileFieldCount)
	}
	if fields[profileInterestsOffset] > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: interest bitmask exceeds %d bits", ErrProtocolMismatch, MaxInterests)
	}
	if fields[profileStyleOffset] > 0xff {
		return nil, fmt.Errorf("%w: travel style exceeds 8 bits", ErrProtocolMismatch)
	}

	name, err := unpackText(fields[profileNameOffset:profileNameOffset+profileNameFields], fields[profileNameLenOffset], ProfileNameMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: display name: %v", ErrProtocolMismatch, err)
	}
	bio, err := unpackText(fields[profileBioOffset:profileBioOffset+profileBioFields], fields[profileBioLenOffset], ProfileBioMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bio: %v", ErrProtocolMismatch, err)
	}

	return &Profile{
		Interests:   InterestSet(fields[profileInterestsOffset]),
		TravelStyle: uint8(fields[profileStyleOffset]),
		DisplayName: name,
		Bio:         bio,
	}, nil
}

func packText(fields []uint64, s string) {
	buf := make([]byte, len(fields)*8)
	copy(buf, s)
	for i := range fields {
		fields[i] = uint64(buf[i*8]) | uint64(buf[i*8+1])<<8 | uint64(buf[i*8+2])<<16 | uint64(buf[i*8+3])<<24 |
			uint64(buf[i*8+4])<<32 | uint64(buf[i*8+5])<<40 | uint64(buf[i*8+6])<<48 | uint64(buf[i*8+7])<<56
	}
}

func unpackText(fields []uint64, length uint64, maxLen int) (string, error) {
	if length > uint64(maxLen) {
		return "", fmt.Errorf("length %d exceeds %d", length, maxLen)
	}
	buf := make([]byte, len(fields)*8)
	for i, f := range fields {
		buf[i*8] = byte(f)
		buf[i*8+1] = byte(f >> 8)
		buf[i*8+2] = byte(f >> 16)
		buf[i*8+3] = byte(f >> 24)
		buf[i*8+4] = byte(f >> 32)
		buf[i*8+5] = byte(f >> 40)
		buf[i*8+6] = byte(f >> 48)
		buf[i*8+7] = byte(f >> 56)
	}
	// Padding beyond the declared length must be zero.
	if !bytes.Equal(buf[length:], make([]byte, uint64(len(buf))-length)) {
		return "", fmt.Errorf("non-zero padding past declared length %d", length)
	}
	return string(buf[:length]), nil
}
