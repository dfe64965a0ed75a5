package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/triper/triper/internal/ipc"
	"github.com/triper/triper/internal/ledger"
	"github.com/triper/triper/internal/match"
	"github.com/triper/triper/internal/matcher"
	"github.com/triper/triper/internal/routing"
	"github.com/triper/triper/pkg/payload"
)

// agentAdapter implements ipc.Agent over the daemon's collaborators. It
// keeps the plaintext of trips published in this session so that a
// mutual match can be followed by a reveal envelope without ever
// persisting plaintext.
type agentAdapter struct {
	d *Daemon
}

func matchInfo(record *ledger.MatchRecord) ipc.MatchInfo {
	return ipc.MatchInfo{
		ID:            record.ID,
		TripA:         record.TripA,
		TripB:         record.TripB,
		RouteScore:    record.RouteScore,
		DateScore:     record.DateScore,
		InterestScore: record.InterestScore,
		TotalScore:    record.TotalScore,
		Status:        record.Status.String(),
		ExpiresAt:     record.ExpiresAt,
	}
}

func (a *agentAdapter) Status(ctx context.Context) (*ipc.StatusInfo, error) {
	pending, err := a.d.client.PendingMatches(ctx)
	if err != nil {
		return nil, err
	}
	a.d.mu.RLock()
	mode := a.d.cfg.Compute.Mode
	a.d.mu.RUnlock()
	return &ipc.StatusInfo{
		Address:        a.d.identity.Address,
		ComputeMode:    mode,
		PendingMatches: len(pending),
	}, nil
}

func (a *agentAdapter) PublishTrip(ctx context.Context, req *ipc.TripRequest) (string, error) {
	stops := make([]routing.Point, len(req.Stops))
	for i, s := range req.Stops {
		stops[i] = routing.Point{Lat: s.Lat, Lng: s.Lng}
	}
	interests := payload.InterestSet(0)
	for _, category := range req.Interests {
		interests = interests.With(category)
	}

	tripID, trip, err := a.d.matcher.PublishTrip(ctx, matcher.TripDraft{
		Stops:     stops,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Interests: interests,
	})
	if err != nil {
		return "", err
	}
	a.d.rememberTrip(tripID, trip)
	return tripID, nil
}

func (a *agentAdapter) FindMatches(ctx context.Context, tripID string) ([]ipc.MatchInfo, error) {
	records, err := a.d.matcher.FindMatches(ctx, tripID)
	if err != nil {
		return nil, err
	}
	infos := make([]ipc.MatchInfo, len(records))
	for i, record := range records {
		infos[i] = matchInfo(record)
	}
	return infos, nil
}

func (a *agentAdapter) Matches(ctx context.Context) ([]ipc.MatchInfo, error) {
	records, err := a.d.client.MatchesByOwner(ctx, a.d.identity.Address)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	infos := make([]ipc.MatchInfo, len(records))
	for i, record := range records {
		infos[i] = matchInfo(record)
	}
	return infos, nil
}

func (a *agentAdapter) Accept(ctx context.Context, matchID string) (*ipc.MatchInfo, error) {
	record, err := a.d.lifecycle.Accept(ctx, matchID, a.d.identity.Address)
	if err != nil {
		return nil, err
	}

	// A mutual match unlocks the reveal: re-seal our trip for the
	// counterparty. Best effort; the CLI can see a missing reveal and the
	// peer can retry their fetch.
	if record.Status == ledger.StatusMutual {
		if err := a.publishReveal(ctx, record); err != nil {
			a.d.logger.Warn("publish reveal envelope failed",
				"match_id", record.ID, "error", err)
		}
	}

	info := matchInfo(record)
	return &info, nil
}

func (a *agentAdapter) publishReveal(ctx context.Context, record *ledger.MatchRecord) error {
	ownTripID := record.TripA
	peer := record.OwnerB
	if a.d.identity.Address == record.OwnerB {
		ownTripID = record.TripB
		peer = record.OwnerA
	}

	trip := a.d.recallTrip(ownTripID)
	if trip == nil {
		return fmt.Errorf("no plaintext for trip %s in this session", ownTripID)
	}
	profile, err := a.d.client.GetProfile(ctx, peer)
	if err != nil {
		return fmt.Errorf("load counterparty profile: %w", err)
	}
	return match.PublishReveal(ctx, a.d.client, record.ID, a.d.identity, trip, profile.PublicKey)
}

func (a *agentAdapter) Reject(ctx context.Context, matchID string) (*ipc.MatchInfo, error) {
	record, err := a.d.lifecycle.Reject(ctx, matchID, a.d.identity.Address)
	if err != nil {
		return nil, err
	}
	info := matchInfo(record)
	return &info, nil
}

func (a *agentAdapter) Reveal(ctx context.Context, matchID string) (*ipc.TripInfo, error) {
	trip, err := match.Reveal(ctx, a.d.client, matchID, a.d.identity)
	if err != nil {
		return nil, err
	}

	waypoints := make([]uint64, len(trip.Waypoints))
	for i, cell := range trip.Waypoints {
		waypoints[i] = uint64(cell)
	}
	var interests []int
	for category := 0; category < payload.MaxInterests; category++ {
		if trip.Interests.Has(category) {
			interests = append(interests, category)
		}
	}
	return &ipc.TripInfo{
		Waypoints: waypoints,
		StartDate: trip.StartDate,
		EndDate:   trip.EndDate,
		Interests: interests,
	}, nil
}

// publishProfile puts the daemon's public profile on the ledger so
// counterparties can address reveal envelopes to it.
func (d *Daemon) publishProfile(ctx context.Context) error {
	return d.client.PutProfile(ctx, &ledger.ProfileAccount{
		Owner:     d.identity.Address,
		PublicKey: d.identity.EncryptionPublic,
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
}

func (d *Daemon) rememberTrip(tripID string, trip *payload.Trip) {
	d.mu.Lock()
	d.trips[tripID] = trip
	d.mu.Unlock()
}

func (d *Daemon) recallTrip(tripID string) *payload.Trip {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trips[tripID]
}
