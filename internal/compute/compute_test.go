package compute

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triper/triper/internal/session"
	"github.com/triper/triper/pkg/geocell"
	"github.com/triper/triper/pkg/payload"
)

const day = int64(24 * 60 * 60)

func cell(t *testing.T, lat, lng float64) geocell.Cell {
	t.Helper()
	c, err := geocell.ToCell(lat, lng, geocell.ResolutionWaypoint)
	require.NoError(t, err)
	return c
}

func sealTrip(t *testing.T, clusterPub []byte, trip *payload.Trip) (ciphertext, publicKey, nonce []byte) {
	t.Helper()

	kp, err := session.GenerateKeyPair()
	require.NoError(t, err)
	sess, err := session.Open(kp, clusterPub)
	require.NoError(t, err)
	defer sess.Close()

	fields, err := payload.EncodeTrip(trip)
	require.NoError(t, err)

	nonce, err = session.NewNonce()
	require.NoError(t, err)
	ciphertext, err = sess.Seal(fields, nonce)
	require.NoError(t, err)
	return ciphertext, kp.Public, nonce
}

func submission(t *testing.T, clusterPub []byte, a, b *payload.Trip) Submission {
	t.Helper()
	ctA, pubA, nonceA := sealTrip(t, clusterPub, a)
	ctB, pubB, nonceB := sealTrip(t, clusterPub, b)
	return Submission{
		TripA: "trip-a", TripB: "trip-b",
		CiphertextA: ctA, CiphertextB: ctB,
		PublicKeyA: pubA, PublicKeyB: pubB,
		NonceA: nonceA, NonceB: nonceB,
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	svc, err := NewMockService()
	require.NoError(t, err)
	defer svc.Close()

	orch := NewOrchestrator(svc, nil)
	orch.Start()
	defer orch.Close()

	paris := cell(t, 48.8566, 2.3522)
	lyon := cell(t, 45.7640, 4.8357)
	nice := cell(t, 43.7102, 7.2620)

	tripA := &payload.Trip{
		Waypoints: []geocell.Cell{paris, lyon},
		StartDate: 100 * day,
		EndDate:   110 * day,
		Interests: payload.InterestSet(0).With(payload.InterestHiking),
	}
	tripB := &payload.Trip{
		Waypoints: []geocell.Cell{lyon, nice},
		StartDate: 105 * day,
		EndDate:   115 * day,
		Interests: payload.InterestSet(0).With(payload.InterestHiking),
	}

	h, err := orch.Submit(context.Background(), submission(t, svc.ClusterPublicKey(), tripA, tripB))
	require.NoError(t, err)
	require.NotEmpty(t, h.ComputationID())

	scores, err := h.Await(context.Background(), 5*time.Second)
	require.NoError(t, err)

	// One shared waypoint out of three distinct cells.
	assert.Equal(t, uint8(33), scores.Route)
	// Five overlapping days against a ten-day average duration.
	assert.Equal(t, uint8(50), scores.Date)
	assert.Equal(t, uint8(100), scores.Interest)
	assert.Equal(t, uint8((40*33+35*50+25*100)/100), scores.Total)
}

// stubService lets the test control exactly when a result is delivered.
type stubService struct {
	results   chan Result
	submitted chan *Request
}

func newStubService() *stubService {
	return &stubService{
		results:   make(chan Result, 1),
		submitted: make(chan *Request, 1),
	}
}

func (s *stubService) Submit(_ context.Context, req *Request) error {
	s.submitted <- req
	return nil
}

func (s *stubService) Results() <-chan Result { return s.results }

func TestAwaitTimeoutLeavesHandleOutstanding(t *testing.T) {
	svc := newStubService()
	orch := NewOrchestrator(svc, nil)
	orch.Start()
	defer orch.Close()

	h, err := orch.Submit(context.Background(), Submission{TripA: "a", TripB: "b"})
	require.NoError(t, err)

	// No result delivered yet: the first Await must time out without
	// consuming the handle.
	_, err = h.Await(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrAwaitTimeout)

	req := <-svc.submitted
	svc.results <- Result{
		ComputationID: req.ComputationID,
		Scores:        &Scores{Route: 33, Date: 50, Interest: 100, Total: 55},
	}

	scores, err := h.Await(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint8(55), scores.Total)
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	svc := newStubService()
	orch := NewOrchestrator(svc, nil)
	orch.Start()
	defer orch.Close()

	h, err := orch.Submit(context.Background(), Submission{TripA: "a", TripB: "b"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Await(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAbortedComputationFailsLoudly(t *testing.T) {
	svc, err := NewMockService()
	require.NoError(t, err)
	defer svc.Close()
	svc.FailNextComputation("node quorum lost")

	orch := NewOrchestrator(svc, nil)
	orch.Start()
	defer orch.Close()

	trip := &payload.Trip{
		Waypoints: []geocell.Cell{cell(t, 48.8566, 2.3522)},
		StartDate: day,
		EndDate:   2 * day,
	}
	h, err := orch.Submit(context.Background(), submission(t, svc.ClusterPublicKey(), trip, trip))
	require.NoError(t, err)

	_, err = h.Await(context.Background(), 5*time.Second)
	require.ErrorIs(t, err, ErrComputationFailed)
	assert.Contains(t, err.Error(), "node quorum lost")
}

func TestTamperedCiphertextAborts(t *testing.T) {
	svc, err := NewMockService()
	require.NoError(t, err)
	defer svc.Close()

	orch := NewOrchestrator(svc, nil)
	orch.Start()
	defer orch.Close()

	trip := &payload.Trip{
		Waypoints: []geocell.Cell{cell(t, 48.8566, 2.3522)},
		StartDate: day,
		EndDate:   2 * day,
	}
	sub := submission(t, svc.ClusterPublicKey(), trip, trip)
	sub.CiphertextB[0] ^= 0xff

	h, err := orch.Submit(context.Background(), sub)
	require.NoError(t, err)

	_, err = h.Await(context.Background(), 5*time.Second)
	require.ErrorIs(t, err, ErrComputationFailed)
	assert.Contains(t, err.Error(), "party B")
}

func TestConcurrentAwaitersAllObserveResult(t *testing.T) {
	svc, err := NewMockService()
	require.NoError(t, err)
	defer svc.Close()

	orch := NewOrchestrator(svc, nil)
	orch.Start()
	defer orch.Close()

	trip := &payload.Trip{
		Waypoints: []geocell.Cell{cell(t, 48.8566, 2.3522)},
		StartDate: day,
		EndDate:   2 * day,
	}
	h, err := orch.Submit(context.Background(), submission(t, svc.ClusterPublicKey(), trip, trip))
	require.NoError(t, err)

	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := h.Await(context.Background(), 5*time.Second)
			results <- err
		}()
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-results)
	}
}

func TestSubmitAfterCloseRejected(t *testing.T) {
	svc, err := NewMockService()
	require.NoError(t, err)
	defer svc.Close()

	orch := NewOrchestrator(svc, nil)
	orch.Start()
	orch.Close()

	_, err = orch.Submit(context.Background(), Submission{})
	assert.ErrorIs(t, err, ErrOrchestratorClosed)
}

func TestScoreTripsIdenticalTrips(t *testing.T) {
	trip := &payload.Trip{
		Waypoints: []geocell.Cell{cell(t, 48.8566, 2.3522), cell(t, 45.7640, 4.8357)},
		StartDate: 10 * day,
		EndDate:   20 * day,
		Interests: payload.InterestSet(0).With(payload.InterestHiking).With(payload.InterestFood),
	}
	scores := ScoreTrips(trip, trip)
	assert.Equal(t, uint8(100), scores.Route)
	assert.Equal(t, uint8(100), scores.Date)
	assert.Equal(t, uint8(100), scores.Interest)
	assert.Equal(t, uint8(100), scores.Total)
}

func TestDateScoreDisjointRangesIsZero(t *testing.T) {
	assert.Equal(t, 0, dateScore(0, 10*day, 20*day, 30*day))
	// Ranges touching at an endpoint do not overlap.
	assert.Equal(t, 0, dateScore(0, 10*day, 10*day, 20*day))
}

func TestInterestScoreBothEmptyIsPerfect(t *testing.T) {
	assert.Equal(t, 100, interestScore(0, 0))
	assert.Equal(t, 0, interestScore(payload.InterestSet(0).With(payload.InterestHiking), 0))
}

func TestMockServiceCloseWithBackloggedResults(t *testing.T) {
	svc, err := NewMockService()
	require.NoError(t, err)

	// Overfill the result buffer with aborting computations and never
	// drain it, so emitters are blocked when Close runs.
	for i := 0; i < 32; i++ {
		err := svc.Submit(context.Background(), &Request{
			ComputationID: fmt.Sprintf("comp-%d", i),
			Submission:    Submission{TripA: "a", TripB: "b"},
		})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return with a full result channel")
	}
}

func TestInterestScorePartialOverlap(t *testing.T) {
	a := payload.InterestSet(0).
		With(payload.InterestHiking).
		With(payload.InterestFood).
		With(payload.InterestCulture)
	b := payload.InterestSet(0).
		With(payload.InterestHiking).
		With(payload.InterestFood).
		With(payload.InterestNightlife).
		With(payload.InterestBeach)
	// Two shared out of five distinct.
	assert.Equal(t, 40, interestScore(a, b))
}
