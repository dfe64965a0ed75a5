package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/triper/triper/internal/wallet"
)

// MemoryClient is an in-process Client used by tests and single-node
// development. Writes are signed with the local identity and recorded in
// a commit log, mimicking the at-most-once transaction semantics of the
// real ledger.
type MemoryClient struct {
	mu        sync.RWMutex
	signer    *wallet.Identity
	trips     map[string]*TripAccount
	envelopes map[string]*TripEnvelope
	reveals   map[string]*TripEnvelope // keyed by matchID + "|" + owner
	profiles  map[string]*ProfileAccount
	matches   map[string]*MatchRecord
	commits   []Commit
}

// Commit is one entry in the simulated transaction log.
type Commit struct {
	Op        string
	AccountID string
	Signature []byte
}

// NewMemoryClient creates an empty in-memory ledger signing with id.
func NewMemoryClient(id *wallet.Identity) *MemoryClient {
	return &MemoryClient{
		signer:    id,
		trips:     make(map[string]*TripAccount),
		envelopes: make(map[string]*TripEnvelope),
		reveals:   make(map[string]*TripEnvelope),
		profiles:  make(map[string]*ProfileAccount),
		matches:   make(map[string]*MatchRecord),
	}
}

// commit appends a signed entry to the transaction log. Callers hold mu.
func (c *MemoryClient) commit(op, accountID string) {
	digest := sha256.Sum256([]byte(op + "|" + accountID))
	var sig []byte
	if c.signer != nil {
		sig = c.signer.Sign(digest[:])
	}
	c.commits = append(c.commits, Commit{Op: op, AccountID: accountID, Signature: sig})
}

// Commits returns a copy of the transaction log.
func (c *MemoryClient) Commits() []Commit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Commit, len(c.commits))
	copy(out, c.commits)
	return out
}

// CreateTrip stores a trip account and its encrypted envelope atomically.
func (c *MemoryClient) CreateTrip(_ context.Context, trip *TripAccount, envelope *TripEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.trips[trip.ID]; ok {
		return fmt.Errorf("%w: trip %s", ErrAlreadyExists, trip.ID)
	}
	t := *trip
	c.trips[trip.ID] = &t
	if envelope != nil {
		e := *envelope
		c.envelopes[trip.ID] = &e
	}
	c.commit("create_trip", trip.ID)
	return nil
}

// GetTrip returns a copy of the trip account.
func (c *MemoryClient) GetTrip(_ context.Context, id string) (*TripAccount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	trip, ok := c.trips[id]
	if !ok {
		return nil, fmt.Errorf("%w: trip %s", ErrNotFound, id)
	}
	t := *trip
	return &t, nil
}

// GetTripEnvelope returns a copy of the trip's compute envelope.
func (c *MemoryClient) GetTripEnvelope(_ context.Context, id string) (*TripEnvelope, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	envelope, ok := c.envelopes[id]
	if !ok {
		return nil, fmt.Errorf("%w: envelope for trip %s", ErrNotFound, id)
	}
	e := *envelope
	return &e, nil
}

// DeactivateTrip marks a trip inactive. Only the owner may do so.
func (c *MemoryClient) DeactivateTrip(_ context.Context, id, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	trip, ok := c.trips[id]
	if !ok {
		return fmt.Errorf("%w: trip %s", ErrNotFound, id)
	}
	if trip.Archived {
		return fmt.Errorf("%w: trip %s", ErrRecordArchived, id)
	}
	if trip.Owner != owner {
		return fmt.Errorf("%w: trip %s is not owned by %s", ErrUnauthorized, id, owner)
	}
	trip.Active = false
	c.commit("deactivate_trip", id)
	return nil
}

// ArchiveTrip migrates a trip to cold storage; it becomes read-only.
func (c *MemoryClient) ArchiveTrip(_ context.Context, id, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	trip, ok := c.trips[id]
	if !ok {
		return fmt.Errorf("%w: trip %s", ErrNotFound, id)
	}
	if trip.Archived {
		return fmt.Errorf("%w: trip %s", ErrRecordArchived, id)
	}
	if trip.Owner != owner {
		return fmt.Errorf("%w: trip %s is not owned by %s", ErrUnauthorized, id, owner)
	}
	trip.Archived = true
	trip.Active = false
	c.commit("archive_trip", id)
	return nil
}

// PutProfile creates or replaces a profile account.
func (c *MemoryClient) PutProfile(_ context.Context, profile *ProfileAccount) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := *profile
	c.profiles[profile.Owner] = &p
	c.commit("put_profile", profile.Owner)
	return nil
}

// GetProfile returns a copy of a profile account.
func (c *MemoryClient) GetProfile(_ context.Context, owner string) (*ProfileAccount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	profile, ok := c.profiles[owner]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, owner)
	}
	p := *profile
	return &p, nil
}

// CreateMatch stores a new match record.
func (c *MemoryClient) CreateMatch(_ context.Context, record *MatchRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.matches[record.ID]; ok {
		return fmt.Errorf("%w: match %s", ErrAlreadyExists, record.ID)
	}
	r := *record
	c.matches[record.ID] = &r
	c.commit("record_match", record.ID)
	return nil
}

// GetMatch returns a copy of a match record.
func (c *MemoryClient) GetMatch(_ context.Context, id string) (*MatchRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	r := *record
	return &r, nil
}

// UpdateMatch replaces a match record. Mutating an archived record fails.
func (c *MemoryClient) UpdateMatch(_ context.Context, record *MatchRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.matches[record.ID]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, record.ID)
	}
	if existing.Archived {
		return fmt.Errorf("%w: match %s", ErrRecordArchived, record.ID)
	}
	r := *record
	c.matches[record.ID] = &r
	c.commit("update_match", record.ID)
	return nil
}

// PendingMatches returns copies of all records still in StatusPending.
func (c *MemoryClient) PendingMatches(_ context.Context) ([]*MatchRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*MatchRecord
	for _, record := range c.matches {
		if record.Status == StatusPending {
			r := *record
			out = append(out, &r)
		}
	}
	return out, nil
}

// MatchesByOwner returns copies of all records the address is a party
// to, oldest first.
func (c *MemoryClient) MatchesByOwner(_ context.Context, owner string) ([]*MatchRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*MatchRecord
	for _, record := range c.matches {
		if record.OwnerA == owner || record.OwnerB == owner {
			r := *record
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PutRevealEnvelope stores an envelope a party re-sealed for the
// counterparty. Rejected unless the match is Mutual and owner is party.
func (c *MemoryClient) PutRevealEnvelope(_ context.Context, matchID, owner string, envelope *TripEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	if record.Status != StatusMutual {
		return fmt.Errorf("%w: match %s is %s", ErrNotMutual, matchID, record.Status)
	}
	if owner != record.OwnerA && owner != record.OwnerB {
		return fmt.Errorf("%w: %s is not party to match %s", ErrUnauthorized, owner, matchID)
	}

	e := *envelope
	c.reveals[matchID+"|"+owner] = &e
	c.commit("put_reveal", matchID)
	return nil
}

// RevealEnvelope releases the counterparty's envelope to a requester who
// is party to a mutual match. The counterparty's published reveal
// envelope takes precedence; absent one, the original trip envelope is
// returned so the requester can at least verify its key material. Any
// non-mutual state fails closed.
func (c *MemoryClient) RevealEnvelope(_ context.Context, matchID, requester string) (*TripEnvelope, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	if record.Status != StatusMutual {
		return nil, fmt.Errorf("%w: match %s is %s", ErrNotMutual, matchID, record.Status)
	}

	var peer, peerTrip string
	switch requester {
	case record.OwnerA:
		peer, peerTrip = record.OwnerB, record.TripB
	case record.OwnerB:
		peer, peerTrip = record.OwnerA, record.TripA
	default:
		return nil, fmt.Errorf("%w: %s is not party to match %s", ErrUnauthorized, requester, matchID)
	}

	if envelope, ok := c.reveals[matchID+"|"+peer]; ok {
		e := *envelope
		return &e, nil
	}
	envelope, ok := c.envelopes[peerTrip]
	if !ok {
		return nil, fmt.Errorf("%w: envelope for trip %s", ErrNotFound, peerTrip)
	}
	e := *envelope
	return &e, nil
}
