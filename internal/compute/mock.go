package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/triper/triper/internal/session"
	"github.com/triper/triper/pkg/geocell"
	"github.com/triper/triper/pkg/payload"
)

// Weights of the three sub-scores in the combined total, in percent.
const (
	weightRoute    = 40
	weightDate     = 35
	weightInterest = 25
)

// MockService emulates the compute cluster in-process for development
// and tests. It holds the cluster's own key pair, so it can genuinely
// unseal both parties' payloads and run the scoring circuit on the
// decrypted fields. Results are delivered asynchronously on the same
// channel contract the real cluster uses.
type MockService struct {
	cluster *session.KeyPair
	results chan Result

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}

	// FailNext aborts the next computation with the given reason.
	failNext string
}

// NewMockService generates a cluster key pair and returns a ready
// service. ClusterPublicKey is what parties open their sessions against.
func NewMockService() (*MockService, error) {
	kp, err := session.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate cluster key pair: %w", err)
	}
	return &MockService{
		cluster: kp,
		results: make(chan Result, 16),
		stop:    make(chan struct{}),
	}, nil
}

// ClusterPublicKey returns the cluster's X25519 public key.
func (m *MockService) ClusterPublicKey() []byte {
	pub := make([]byte, len(m.cluster.Public))
	copy(pub, m.cluster.Public[:])
	return pub
}

// FailNextComputation makes the next Submit produce an aborted result.
func (m *MockService) FailNextComputation(reason string) {
	m.mu.Lock()
	m.failNext = reason
	m.mu.Unlock()
}

// Submit decrypts both payloads and scores them on a goroutine, emitting
// the result on the Results channel.
func (m *MockService) Submit(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrOrchestratorClosed
	}
	reason := m.failNext
	m.failNext = ""
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(req, reason)
	return nil
}

// Results returns the callback channel.
func (m *MockService) Results() <-chan Result { return m.results }

// Close stops the service. Pending computations may be dropped.
func (m *MockService) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	close(m.results)
}

func (m *MockService) run(req *Request, failReason string) {
	defer m.wg.Done()

	res := Result{ComputationID: req.ComputationID}
	if failReason != "" {
		res.Aborted = true
		res.Reason = failReason
		m.emit(res)
		return
	}

	tripA, err := m.unsealTrip(req.CiphertextA, req.PublicKeyA, req.NonceA)
	if err != nil {
		res.Aborted = true
		res.Reason = fmt.Sprintf("party A payload: %v", err)
		m.emit(res)
		return
	}
	tripB, err := m.unsealTrip(req.CiphertextB, req.PublicKeyB, req.NonceB)
	if err != nil {
		res.Aborted = true
		res.Reason = fmt.Sprintf("party B payload: %v", err)
		m.emit(res)
		return
	}

	scores := ScoreTrips(tripA, tripB)
	res.Scores = &scores
	m.emit(res)
}

// emit delivers a result without holding the service mutex, so a full
// channel cannot wedge Close.
func (m *MockService) emit(res Result) {
	select {
	case m.results <- res:
	case <-m.stop:
	}
}

func (m *MockService) unsealTrip(ciphertext, publicKey, nonce []byte) (*payload.Trip, error) {
	sess, err := session.Open(m.cluster, publicKey)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	fields, err := sess.Unseal(ciphertext, nonce)
	if err != nil {
		return nil, err
	}
	return payload.DecodeTrip(fields)
}

// ScoreTrips runs the reference scoring circuit on two decoded trips.
// This is the plaintext twin of the confidential circuit: route overlap
// by cell-set Jaccard, date compatibility by overlap against average
// trip duration, interest affinity by bitmask Jaccard.
func ScoreTrips(a, b *payload.Trip) Scores {
	route := geocell.RouteSimilarity(a.Waypoints, b.Waypoints)
	date := dateScore(a.StartDate, a.EndDate, b.StartDate, b.EndDate)
	interest := interestScore(a.Interests, b.Interests)

	total := (weightRoute*route + weightDate*date + weightInterest*interest) / 100
	return Scores{
		Route:    uint8(route),
		Date:     uint8(date),
		Interest: uint8(interest),
		Total:    uint8(total),
	}
}

// dateScore measures how much of the parties' average trip duration the
// overlap window covers, as a 0-100 integer.
func dateScore(aStart, aEnd, bStart, bEnd int64) int {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	overlap := end - start

	avgDuration := ((aEnd - aStart) + (bEnd - bStart)) / 2
	if avgDuration <= 0 {
		return 0
	}

	score := overlap * 100 / avgDuration
	if score > 100 {
		score = 100
	}
	return int(score)
}

// interestScore is the Jaccard index over the two interest bitmasks as a
// 0-100 integer. Two empty sets count as perfectly compatible.
func interestScore(a, b payload.InterestSet) int {
	intersection := payload.InterestSet(uint32(a) & uint32(b)).Count()
	union := payload.InterestSet(uint32(a) | uint32(b)).Count()
	if union == 0 {
		return 100
	}
	return intersection * 100 / union
}
