// Package match implements the consent lifecycle on top of the ledger:
// a match is created Pending from a finished score computation, both
// parties independently accept or reject, and only mutual acceptance
// unlocks the counterparty's encrypted trip payload. Score data alone
// never reveals anything; the gate is the state machine here.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/triper/triper/internal/compute"
	"github.com/triper/triper/internal/ledger"
)

var (
	// ErrNotParticipant is returned when an address that is neither party
	// tries to act on a match.
	ErrNotParticipant = errors.New("match: address is not a participant")

	// ErrAlreadyResolved is returned when a decision arrives for a match
	// in a terminal state other than the one the decision would produce.
	ErrAlreadyResolved = errors.New("match: already resolved")
)

// Lifecycle drives consent state transitions. All transitions are
// linearized per match record, so concurrent accepts from both parties
// cannot both observe the pre-mutual state.
type Lifecycle struct {
	client ledger.Client
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLifecycle wires a lifecycle onto a ledger client.
func NewLifecycle(client ledger.Client, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Lifecycle) lock(matchID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[matchID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[matchID] = m
	}
	return m
}

// dropLock forgets a match's serialization point once the record is
// terminal. Terminal states are absorbing, so a latecomer re-creating
// the lock can only observe the final state.
func (l *Lifecycle) dropLock(matchID string) {
	l.mu.Lock()
	delete(l.locks, matchID)
	l.mu.Unlock()
}

// Create records a new Pending match from a finished computation. The
// expiry is the end of the trips' overlap window: past it, an
// unresolved match can no longer become mutual.
func (l *Lifecycle) Create(ctx context.Context, tripA, tripB *ledger.TripAccount, scores compute.Scores, computationID string) (*ledger.MatchRecord, error) {
	expires := tripA.EndDate
	if tripB.EndDate < expires {
		expires = tripB.EndDate
	}

	record := &ledger.MatchRecord{
		ID:            uuid.NewString(),
		TripA:         tripA.ID,
		TripB:         tripB.ID,
		OwnerA:        tripA.Owner,
		OwnerB:        tripB.Owner,
		RouteScore:    scores.Route,
		DateScore:     scores.Date,
		InterestScore: scores.Interest,
		TotalScore:    scores.Total,
		Status:        ledger.StatusPending,
		ComputationID: computationID,
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     expires,
	}
	if err := l.client.CreateMatch(ctx, record); err != nil {
		return nil, fmt.Errorf("create match record: %w", err)
	}

	l.logger.Info("match created",
		"match_id", record.ID,
		"trip_a", record.TripA,
		"trip_b", record.TripB,
		"total_score", record.TotalScore)
	return record, nil
}

// Accept registers one party's acceptance. When the other party has
// already accepted, the match transitions to Mutual atomically with this
// call. Accepting a match that is already Mutual is a no-op; accepting a
// Rejected or Expired match fails.
func (l *Lifecycle) Accept(ctx context.Context, matchID, address string) (*ledger.MatchRecord, error) {
	return l.decide(ctx, matchID, address, true)
}

// Reject finalizes the match as Rejected regardless of the other
// party's flag. Rejecting an already-Rejected match is a no-op.
func (l *Lifecycle) Reject(ctx context.Context, matchID, address string) (*ledger.MatchRecord, error) {
	return l.decide(ctx, matchID, address, false)
}

func (l *Lifecycle) decide(ctx context.Context, matchID, address string, accept bool) (*ledger.MatchRecord, error) {
	mu := l.lock(matchID)
	mu.Lock()
	defer mu.Unlock()

	record, err := l.client.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}
	if record.Archived {
		return nil, ledger.ErrRecordArchived
	}

	switch address {
	case record.OwnerA, record.OwnerB:
	default:
		return nil, ErrNotParticipant
	}

	if record.Status.Terminal() {
		l.dropLock(matchID)
		// Idempotent re-assertion of the state already reached.
		if accept && record.Status == ledger.StatusMutual {
			return record, nil
		}
		if !accept && record.Status == ledger.StatusRejected {
			return record, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, record.Status)
	}

	if !accept {
		record.Status = ledger.StatusRejected
	} else {
		if address == record.OwnerA {
			record.AAccepted = true
		} else {
			record.BAccepted = true
		}
		if record.AAccepted && record.BAccepted {
			record.Status = ledger.StatusMutual
		}
	}

	if err := l.client.UpdateMatch(ctx, record); err != nil {
		return nil, fmt.Errorf("update match: %w", err)
	}
	if record.Status.Terminal() {
		l.dropLock(matchID)
	}

	l.logger.Info("match decision recorded",
		"match_id", matchID,
		"address", address,
		"accepted", accept,
		"status", record.Status.String())
	return record, nil
}

// ExpireDue sweeps pending matches whose overlap window has passed and
// transitions them to Expired. Returns the number of matches expired.
func (l *Lifecycle) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	pending, err := l.client.PendingMatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending matches: %w", err)
	}

	expired := 0
	for _, record := range pending {
		if record.ExpiresAt > now.Unix() {
			continue
		}

		mu := l.lock(record.ID)
		mu.Lock()
		current, err := l.client.GetMatch(ctx, record.ID)
		if err != nil {
			mu.Unlock()
			l.logger.Warn("reload pending match", "match_id", record.ID, "error", err)
			continue
		}
		// A decision may have landed between the list and the sweep.
		if current.Status != ledger.StatusPending {
			mu.Unlock()
			continue
		}
		current.Status = ledger.StatusExpired
		err = l.client.UpdateMatch(ctx, current)
		mu.Unlock()
		if err != nil {
			l.logger.Warn("expire match", "match_id", record.ID, "error", err)
			continue
		}
		l.dropLock(record.ID)
		expired++
	}

	if expired > 0 {
		l.logger.Info("expired stale matches", "count", expired)
	}
	return expired, nil
}
