// Package matcher drives the full matching flow for the local account:
// publish a trip, find candidates through the public pre-filter, run the
// confidential score computation against each, and record the results as
// pending matches for the consent lifecycle. Failures are tagged with
// the stage they came from, so a pre-filter outage is never mistaken for
// a failed computation.
package matcher

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
	"github.com/triper/triper/internal/match"
	"github.com/triper/triper/internal/prefilter"
	"github.com/triper/triper/internal/routing"
	"github.com/triper/triper/internal/session"
	"github.com/triper/triper/internal/wallet"
	"github.com/triper/triper/pkg/geocell"
	"github.com/triper/triper/pkg/payload"
)

const (
	// queryMaxRetries bounds retries of a transient pre-filter outage.
	queryMaxRetries = 3
	queryBackoff    = 500 * time.Millisecond
)

// Stage labels where in the flow an error happened.
type Stage string

const (
	StagePrefilter   Stage = "prefilter"
	StageSubmission  Stage = "submission"
	StageComputation Stage = "computation"
	StageConsent     Stage = "consent"
)

// StageError wraps a failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// TripDraft is the local, plaintext description of a trip to publish.
type TripDraft struct {
	Stops     []routing.Point
	StartDate int64 // unix seconds
	EndDate   int64
	Interests payload.InterestSet
}

// Matcher owns the local account's matching flow.
type Matcher struct {
	identity   *wallet.Identity
	client     ledger.Client
	store      prefilter.Store
	orch       *compute.Orchestrator
	lifecycle  *match.Lifecycle
	router     routing.Router
	clusterKey []byte // compute cluster's published X25519 key
	logger     *slog.Logger

	awaitTimeout time.Duration
	neighborRing int

	mu            sync.RWMutex
	minTotalScore int
}

// Config collects the matcher's collaborators.
type Config struct {
	Identity     *wallet.Identity
	Ledger       ledger.Client
	Prefilter    prefilter.Store
	Orchestrator *compute.Orchestrator
	Lifecycle    *match.Lifecycle
	Router       routing.Router
	ClusterKey   []byte
	Logger       *slog.Logger
	AwaitTimeout time.Duration
	// NeighborRing widens the destination search by that many cell rings.
	NeighborRing int
	// MinTotalScore drops computed matches below it before recording.
	MinTotalScore int
}

// New assembles a matcher.
func New(cfg Config) *Matcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.AwaitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Matcher{
		identity:      cfg.Identity,
		client:        cfg.Ledger,
		store:         cfg.Prefilter,
		orch:          cfg.Orchestrator,
		lifecycle:     cfg.Lifecycle,
		router:        cfg.Router,
		clusterKey:    cfg.ClusterKey,
		logger:        logger,
		awaitTimeout:  timeout,
		neighborRing:  cfg.NeighborRing,
		minTotalScore: cfg.MinTotalScore,
	}
}

// SetMinTotalScore adjusts the recording threshold at runtime, used by
// configuration hot reload.
func (m *Matcher) SetMinTotalScore(score int) {
	m.mu.Lock()
	m.minTotalScore = score
	m.mu.Unlock()
}

func (m *Matcher) minScore() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.minTotalScore
}

// PublishTrip routes the draft, seals the private payload to the compute
// cluster, and publishes the trip account, its envelope, and the public
// pre-filter candidate. Returns the trip ID and the plaintext trip; the
// caller keeps the plaintext for an eventual reveal, it never leaves the
// process.
func (m *Matcher) PublishTrip(ctx context.Context, draft TripDraft) (string, *payload.Trip, error) {
	waypoints, err := routing.CellPath(ctx, m.router, draft.Stops)
	if err != nil {
		return "", nil, fmt.Errorf("derive route cells: %w", err)
	}

	trip := &payload.Trip{
		Waypoints: waypoints,
		StartDate: draft.StartDate,
		EndDate:   draft.EndDate,
		Interests: draft.Interests,
	}
	if err := trip.Validate(); err != nil {
		return "", nil, err
	}

	// The destination is the coarse ancestor of the final waypoint.
	destination, err := geocell.Parent(waypoints[len(waypoints)-1], geocell.ResolutionDestination)
	if err != nil {
		return "", nil, fmt.Errorf("derive destination cell: %w", err)
	}

	envelope, err := m.seal(trip)
	if err != nil {
		return "", nil, err
	}

	tripID := uuid.NewString()
	envelope.TripID = tripID
	account := &ledger.TripAccount{
		ID:              tripID,
		Owner:           m.identity.Address,
		DestinationCell: destination,
		StartDate:       draft.StartDate,
		EndDate:         draft.EndDate,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.client.CreateTrip(ctx, account, envelope); err != nil {
		return "", nil, fmt.Errorf("publish trip: %w", err)
	}

	if putter, ok := m.store.(interface{ Put(prefilter.Candidate) }); ok {
		putter.Put(prefilter.Candidate{
			TripID:          tripID,
			Owner:           account.Owner,
			DestinationCell: destination,
			StartDate:       draft.StartDate,
			EndDate:         draft.EndDate,
			Active:          true,
			CreatedAt:       account.CreatedAt,
		})
	}

	m.logger.Info("trip published",
		"trip_id", tripID,
		"waypoints", len(waypoints),
		"destination_cell", uint64(destination))
	return tripID, trip, nil
}

func (m *Matcher) seal(trip *payload.Trip) (*ledger.TripEnvelope, error) {
	fields, err := payload.EncodeTrip(trip)
	if err != nil {
		return nil, fmt.Errorf("encode trip: %w", err)
	}

	ephemeral, err := session.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate submission key pair: %w", err)
	}
	defer ephemeral.Zero()

	sess, err := session.Open(ephemeral, m.clusterKey)
	if err != nil {
		return nil, fmt.Errorf("open submission session: %w", err)
	}
	defer sess.Close()

	nonce, err := session.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext, err := sess.Seal(fields, nonce)
	if err != nil {
		return nil, fmt.Errorf("seal trip payload: %w", err)
	}

	return &ledger.TripEnvelope{
		Ciphertext: ciphertext,
		PublicKey:  ephemeral.Public,
		Nonce:      nonce,
	}, nil
}

// FindMatches queries the pre-filter for candidates overlapping the
// trip's destination and dates, runs a confidential score computation
// against each, and records pending matches. Self, parties with a live
// match, and pairs that already have a record are excluded, so repeated
// runs never duplicate a computation. Returns the created match
// records; candidates whose computation failed are skipped with a log
// line, not fatal to the batch.
func (m *Matcher) FindMatches(ctx context.Context, tripID string) ([]*ledger.MatchRecord, error) {
	trip, err := m.client.GetTrip(ctx, tripID)
	if err != nil {
		return nil, stageErr(StagePrefilter, fmt.Errorf("load trip: %w", err))
	}
	if trip.Owner != m.identity.Address {
		return nil, stageErr(StagePrefilter, ledger.ErrUnauthorized)
	}

	excluded, knownPairs, err := m.matchedParties(ctx)
	if err != nil {
		return nil, stageErr(StagePrefilter, fmt.Errorf("load existing matches: %w", err))
	}

	// One query per cell: the exact destination plus its neighbor ring
	// when configured.
	cells := []geocell.Cell{trip.DestinationCell}
	if m.neighborRing > 0 {
		ring, err := geocell.Neighbors(trip.DestinationCell, m.neighborRing)
		if err != nil {
			return nil, stageErr(StagePrefilter, err)
		}
		cells = append(cells, ring...)
	}

	var candidates []prefilter.Candidate
	seen := make(map[string]struct{})
	for _, cell := range cells {
		batch, err := m.queryCandidates(ctx, prefilter.Query{
			DestinationCell: cell,
			Dates:           prefilter.DateRange{Start: trip.StartDate, End: trip.EndDate},
			ExcludeOwners:   excluded,
		})
		if err != nil {
			return nil, stageErr(StagePrefilter, err)
		}
		for _, candidate := range batch {
			if _, ok := seen[candidate.TripID]; ok {
				continue
			}
			seen[candidate.TripID] = struct{}{}
			if _, ok := knownPairs[pairKey(tripID, candidate.TripID)]; ok {
				continue
			}
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ownEnvelope, err := m.client.GetTripEnvelope(ctx, tripID)
	if err != nil {
		return nil, stageErr(StageSubmission, fmt.Errorf("load own envelope: %w", err))
	}

	var records []*ledger.MatchRecord
	for _, candidate := range candidates {
		record, err := m.matchCandidate(ctx, trip, ownEnvelope, candidate)
		if err != nil {
			m.logger.Warn("candidate match failed",
				"trip_id", tripID,
				"candidate_trip", candidate.TripID,
				"error", err)
			continue
		}
		if record == nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// matchedParties loads the local account's existing match records and
// derives the exclusions for candidate search: owners with a live
// (Pending or Mutual) match are excluded wholesale, and every trip pair
// that already has a record of any status is skipped, so a pair is never
// computed twice. A rejected or expired peer stays eligible for a fresh
// trip.
func (m *Matcher) matchedParties(ctx context.Context) ([]string, map[string]struct{}, error) {
	records, err := m.client.MatchesByOwner(ctx, m.identity.Address)
	if err != nil {
		return nil, nil, err
	}

	excluded := []string{m.identity.Address}
	excludedSet := map[string]struct{}{m.identity.Address: {}}
	pairs := make(map[string]struct{}, len(records))
	for _, record := range records {
		pairs[pairKey(record.TripA, record.TripB)] = struct{}{}
		if record.Status != ledger.StatusPending && record.Status != ledger.StatusMutual {
			continue
		}
		peer := record.OwnerA
		if peer == m.identity.Address {
			peer = record.OwnerB
		}
		if _, ok := excludedSet[peer]; !ok {
			excludedSet[peer] = struct{}{}
			excluded = append(excluded, peer)
		}
	}
	return excluded, pairs, nil
}

// pairKey is an order-independent key for a trip pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// queryCandidates retries transient store outages with exponential
// backoff. Only ErrUnavailable is retried; anything else is terminal.
func (m *Matcher) queryCandidates(ctx context.Context, q prefilter.Query) ([]prefilter.Candidate, error) {
	var lastErr error
	for attempt := 0; attempt < queryMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := queryBackoff * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		candidates, err := m.store.Query(ctx, q)
		if err == nil {
			return candidates, nil
		}
		if !errors.Is(err, prefilter.ErrUnavailable) {
			return nil, err
		}
		lastErr = err
		m.logger.Warn("candidate store unavailable", "attempt", attempt+1)
	}
	return nil, lastErr
}

func (m *Matcher) matchCandidate(ctx context.Context, trip *ledger.TripAccount, ownEnvelope *ledger.TripEnvelope, candidate prefilter.Candidate) (*ledger.MatchRecord, error) {
	peerTrip, err := m.client.GetTrip(ctx, candidate.TripID)
	if err != nil {
		return nil, stageErr(StageSubmission, fmt.Errorf("load candidate trip: %w", err))
	}
	peerEnvelope, err := m.client.GetTripEnvelope(ctx, candidate.TripID)
	if err != nil {
		return nil, stageErr(StageSubmission, fmt.Errorf("load candidate envelope: %w", err))
	}

	handle, err := m.orch.Submit(ctx, compute.Submission{
		TripA:       trip.ID,
		TripB:       peerTrip.ID,
		CiphertextA: ownEnvelope.Ciphertext,
		CiphertextB: peerEnvelope.Ciphertext,
		PublicKeyA:  ownEnvelope.PublicKey,
		PublicKeyB:  peerEnvelope.PublicKey,
		NonceA:      ownEnvelope.Nonce,
		NonceB:      peerEnvelope.Nonce,
	})
	if err != nil {
		return nil, stageErr(StageSubmission, err)
	}

	scores, err := handle.Await(ctx, m.awaitTimeout)
	if err != nil {
		return nil, stageErr(StageComputation, err)
	}

	if min := m.minScore(); int(scores.Total) < min {
		m.logger.Debug("match below threshold",
			"trip_a", trip.ID,
			"trip_b", peerTrip.ID,
			"total", scores.Total,
			"min", min)
		return nil, nil
	}

	record, err := m.lifecycle.Create(ctx, trip, peerTrip, scores, handle.ComputationID())
	if err != nil {
		return nil, stageErr(StageConsent, err)
	}
	return record, nil
}
