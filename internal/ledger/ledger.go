// Package ledger defines the engine's view of the external account store.
// The ledger itself (consensus, rent, programs) is an opaque collaborator:
// the engine only needs public account reads and signed, at-most-once,
// all-or-nothing writes. Account structures mirror the on-chain layout:
// public trip metadata carries no sensitive data, while the encrypted
// payload and its key material live in a separate envelope only released
// under the reveal gate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triper/triper/pkg/geocell"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("ledger: account not found")

	// ErrAlreadyExists is returned when creating an account that exists.
	ErrAlreadyExists = errors.New("ledger: account already exists")

	// ErrUnauthorized is returned when a write is attempted by a party
	// that does not own the account.
	ErrUnauthorized = errors.New("ledger: not authorized")

	// ErrRecordArchived is returned for any mutation of a record that has
	// been migrated to cold storage. Archived records are read-only.
	ErrRecordArchived = errors.New("ledger: record archived")

	// ErrUnknownStatus is returned when an on-ledger status tag does not
	// map to a known MatchStatus. Unrecognized tags fail loudly instead
	// of defaulting to Pending.
	ErrUnknownStatus = errors.New("ledger: unknown match status tag")

	// ErrNotMutual is returned when a reveal is requested for a match
	// that has not reached mutual acceptance.
	ErrNotMutual = errors.New("ledger: match is not mutual")
)

// MatchStatus is the closed set of consent states a match can be in.
type MatchStatus int

const (
	// StatusPending is the initial state after score computation.
	StatusPending MatchStatus = iota
	// StatusMutual means both parties accepted.
	StatusMutual
	// StatusRejected means either party rejected; final.
	StatusRejected
	// StatusExpired means the overlap window elapsed without resolution.
	StatusExpired
)

// String returns the canonical on-ledger tag for the status.
func (s MatchStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusMutual:
		return "mutual"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseMatchStatus maps an on-ledger tag back to a MatchStatus. The
// mapping is exhaustive over the closed set; anything else is an error.
func ParseMatchStatus(tag string) (MatchStatus, error) {
	switch tag {
	case "pending":
		return StatusPending, nil
	case "mutual":
		return StatusMutual, nil
	case "rejected":
		return StatusRejected, nil
	case "expired":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, tag)
	}
}

// Terminal reports whether the status admits no further transitions.
func (s MatchStatus) Terminal() bool {
	return s == StatusMutual || s == StatusRejected || s == StatusExpired
}

// TripAccount is the public trip record. It carries only what the
// pre-filter needs: coarse destination cell, date window, liveness.
type TripAccount struct {
	ID              string
	Owner           string // base58 account address
	DestinationCell geocell.Cell
	StartDate       int64 // unix seconds
	EndDate         int64
	Active          bool
	Archived        bool
	CreatedAt       time.Time
}

// TripEnvelope is the private side of a trip: the encrypted payload plus
// the key material a matched party needs to decrypt it after reveal.
type TripEnvelope struct {
	TripID     string
	Ciphertext []byte
	PublicKey  []byte // owner's ephemeral X25519 public key
	Nonce      []byte
}

// ProfileAccount is the public profile record with its encrypted payload.
type ProfileAccount struct {
	Owner         string
	EncryptedData []byte
	PublicKey     []byte
	TripCount     uint32
	TotalMatches  uint32
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MatchRecord holds the scores and consent flags for one computed match.
// Created only from a finished computation; mutated only by the consent
// lifecycle; never deleted, only superseded by status.
type MatchRecord struct {
	ID            string
	TripA         string
	TripB         string
	OwnerA        string
	OwnerB        string
	RouteScore    uint8 // 0-100
	DateScore     uint8
	InterestScore uint8 // canonical 0-100 integer form
	TotalScore    uint8
	Status        MatchStatus
	AAccepted     bool
	BAccepted     bool
	ComputationID string
	CreatedAt     time.Time
	ExpiresAt     int64 // unix seconds; end of the trips' overlap window
	Archived      bool
}

// Client is the engine's handle on the account store. Implementations
// must make writes at-most-once and all-or-nothing; a returned nil error
// means the write committed.
type Client interface {
	// Trips.
	CreateTrip(ctx context.Context, trip *TripAccount, envelope *TripEnvelope) error
	GetTrip(ctx context.Context, id string) (*TripAccount, error)

	// GetTripEnvelope reads a trip's compute envelope. The envelope is
	// public ledger data: the payload inside is sealed to the compute
	// cluster, so possession reveals nothing.
	GetTripEnvelope(ctx context.Context, id string) (*TripEnvelope, error)

	DeactivateTrip(ctx context.Context, id, owner string) error

	// ArchiveTrip migrates a trip to cold storage. Post-condition: the
	// trip and its envelope become read-only.
	ArchiveTrip(ctx context.Context, id, owner string) error

	// Profiles.
	PutProfile(ctx context.Context, profile *ProfileAccount) error
	GetProfile(ctx context.Context, owner string) (*ProfileAccount, error)

	// Matches.
	CreateMatch(ctx context.Context, record *MatchRecord) error
	GetMatch(ctx context.Context, id string) (*MatchRecord, error)
	UpdateMatch(ctx context.Context, record *MatchRecord) error
	PendingMatches(ctx context.Context) ([]*MatchRecord, error)

	// MatchesByOwner returns every match record the given address is a
	// party to, in any status. Candidate search consults it so a pair
	// with an existing record is never computed again.
	MatchesByOwner(ctx context.Context, owner string) ([]*MatchRecord, error)

	// PutRevealEnvelope publishes a party's trip re-sealed to the
	// counterparty's encryption key. Only allowed once the match is
	// Mutual; the trip envelope held since creation is addressed to the
	// compute cluster and is useless to the counterparty.
	PutRevealEnvelope(ctx context.Context, matchID, owner string, envelope *TripEnvelope) error

	// RevealEnvelope releases the counterparty's encrypted trip envelope
	// to a requester, strictly gated on the match being Mutual.
	RevealEnvelope(ctx context.Context, matchID, requester string) (*TripEnvelope, error)
}
