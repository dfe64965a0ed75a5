package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/triper/triper/internal/wallet"
	"github.com/triper/triper/pkg/geocell"
)

func newClient(t *testing.T) (*MemoryClient, *wallet.Identity) {
	t.Helper()
	id, err := wallet.Generate()
	require.NoError(t, err)
	return NewMemoryClient(id), id
}

func sampleTrip(t *testing.T, id, owner string) *TripAccount {
	t.Helper()
	cell, err := geocell.ToCell(48.85, 2.35, geocell.ResolutionDestination)
	require.NoError(t, err)
	start := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC).Unix()
	return &TripAccount{
		ID:              id,
		Owner:           owner,
		DestinationCell: cell,
		StartDate:       start,
		EndDate:         start + 7*24*3600,
		Active:          true,
		CreatedAt:       time.Now(),
	}
}

func TestParseMatchStatusExhaustive(t *testing.T) {
	for _, status := range []MatchStatus{StatusPending, StatusMutual, StatusRejected, StatusExpired} {
		parsed, err := ParseMatchStatus(status.String())
		require.NoError(t, err)
		require.Equal(t, status, parsed)
	}
}

func TestParseMatchStatusFailsLoudly(t *testing.T) {
	for _, tag := range []string{"", "Pending", "PENDING", "unknown", "5"} {
		_, err := ParseMatchStatus(tag)
		require.ErrorIs(t, err, ErrUnknownStatus, "tag %q must not default to pending", tag)
	}
}

func TestTripCreateGetDeactivate(t *testing.T) {
	ctx := context.Background()
	client, id := newClient(t)

	trip := sampleTrip(t, "trip-1", id.Address)
	require.NoError(t, client.CreateTrip(ctx, trip, &TripEnvelope{TripID: "trip-1", Ciphertext: []byte{1}}))

	err := client.CreateTrip(ctx, trip, nil)
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, err := client.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	require.True(t, got.Active)

	require.ErrorIs(t, client.DeactivateTrip(ctx, "trip-1", "someone-else"), ErrUnauthorized)
	require.NoError(t, client.DeactivateTrip(ctx, "trip-1", id.Address))

	got, err = client.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestArchivedTripIsReadOnly(t *testing.T) {
	ctx := context.Background()
	client, id := newClient(t)

	require.NoError(t, client.CreateTrip(ctx, sampleTrip(t, "trip-1", id.Address), nil))
	require.NoError(t, client.ArchiveTrip(ctx, "trip-1", id.Address))

	// Reads still work.
	got, err := client.GetTrip(ctx, "trip-1")
	require.NoError(t, err)
	require.True(t, got.Archived)
	require.False(t, got.Active)

	// Any further mutation is a distinguishable failure, not a no-op.
	require.ErrorIs(t, client.DeactivateTrip(ctx, "trip-1", id.Address), ErrRecordArchived)
	require.ErrorIs(t, client.ArchiveTrip(ctx, "trip-1", id.Address), ErrRecordArchived)
}

func TestMatchRecordLifecycleStorage(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	record := &MatchRecord{
		ID: "match-1", TripA: "trip-a", TripB: "trip-b",
		OwnerA: "alice", OwnerB: "bob",
		TotalScore: 72, Status: StatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, client.CreateMatch(ctx, record))
	require.ErrorIs(t, client.CreateMatch(ctx, record), ErrAlreadyExists)

	pending, err := client.PendingMatches(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	record.Status = StatusMutual
	require.NoError(t, client.UpdateMatch(ctx, record))

	pending, err = client.PendingMatches(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = client.GetMatch(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMatchesByOwnerCoversAllStatuses(t *testing.T) {
	ctx := context.Background()
	client, _ := newClient(t)

	now := time.Now()
	records := []*MatchRecord{
		{ID: "m-1", TripA: "t1", TripB: "t2", OwnerA: "alice", OwnerB: "bob",
			Status: StatusPending, CreatedAt: now},
		{ID: "m-2", TripA: "t3", TripB: "t4", OwnerA: "carol", OwnerB: "alice",
			Status: StatusRejected, CreatedAt: now.Add(time.Second)},
		{ID: "m-3", TripA: "t5", TripB: "t6", OwnerA: "carol", OwnerB: "bob",
			Status: StatusMutual, CreatedAt: now.Add(2 * time.Second)},
	}
	for _, r := range records {
		require.NoError(t, client.CreateMatch(ctx, r))
	}

	got, err := client.MatchesByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2, "both sides of the pair and every status count")
	require.Equal(t, "m-1", got[0].ID, "oldest first")
	require.Equal(t, "m-2", got[1].ID)

	got, err = client.MatchesByOwner(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRevealEnvelopeGatedOnMutual(t *testing.T) {
	ctx := context.Background()
	client, alice := newClient(t)

	require.NoError(t, client.CreateTrip(ctx, sampleTrip(t, "trip-a", alice.Address),
		&TripEnvelope{TripID: "trip-a", Ciphertext: []byte{0xaa}}))
	require.NoError(t, client.CreateTrip(ctx, sampleTrip(t, "trip-b", "bob"),
		&TripEnvelope{TripID: "trip-b", Ciphertext: []byte{0xbb}}))

	record := &MatchRecord{
		ID: "match-1", TripA: "trip-a", TripB: "trip-b",
		OwnerA: alice.Address, OwnerB: "bob", Status: StatusPending,
	}
	require.NoError(t, client.CreateMatch(ctx, record))

	_, err := client.RevealEnvelope(ctx, "match-1", alice.Address)
	require.ErrorIs(t, err, ErrNotMutual)

	record.Status = StatusMutual
	require.NoError(t, client.UpdateMatch(ctx, record))

	envelope, err := client.RevealEnvelope(ctx, "match-1", alice.Address)
	require.NoError(t, err)
	require.Equal(t, []byte{0xbb}, envelope.Ciphertext, "alice receives bob's envelope")

	_, err = client.RevealEnvelope(ctx, "match-1", "mallory")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCommitLogIsSigned(t *testing.T) {
	ctx := context.Background()
	client, id := newClient(t)

	require.NoError(t, client.CreateTrip(ctx, sampleTrip(t, "trip-1", id.Address), nil))

	commits := client.Commits()
	require.Len(t, commits, 1)
	require.Equal(t, "create_trip", commits[0].Op)
	require.NotEmpty(t, commits[0].Signature)
}

func TestErrorsAreDistinguishable(t *testing.T) {
	require.False(t, errors.Is(ErrRecordArchived, ErrUnauthorized))
	require.False(t, errors.Is(ErrNotMutual, ErrNotFound))
}
