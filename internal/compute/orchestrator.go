package compute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle tracks one outstanding computation. Await may be called any
// number of times, from any number of goroutines: the result is cached
// and the done channel is closed rather than drained, so a timed-out
// caller can come back later without losing the result.
type Handle struct {
	id string

	done chan struct{}

	mu      sync.Mutex
	scores  *Scores
	failure error
}

// ComputationID returns the cluster-side tracking ID for this handle.
func (h *Handle) ComputationID() string { return h.id }

// Await blocks until the computation resolves, the timeout elapses, or
// ctx is cancelled. Timeout and cancellation leave the handle
// outstanding; a later Await can still observe the result.
func (h *Handle) Await(ctx context.Context, timeout time.Duration) (Scores, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return h.result()
	case <-timer.C:
		return Scores{}, ErrAwaitTimeout
	case <-ctx.Done():
		return Scores{}, ctx.Err()
	}
}

func (h *Handle) result() (Scores, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failure != nil {
		return Scores{}, h.failure
	}
	return *h.scores, nil
}

func (h *Handle) resolve(s *Scores, err error) {
	h.mu.Lock()
	h.scores = s
	h.failure = err
	h.mu.Unlock()
	close(h.done)
}

// Orchestrator bridges synchronous callers onto the asynchronous compute
// service: Submit returns a Handle immediately, and a listener goroutine
// matches incoming results to their handles by computation ID.
type Orchestrator struct {
	svc    Service
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*Handle
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewOrchestrator wires an orchestrator to svc. Call Start before Submit.
func NewOrchestrator(svc Service, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		svc:     svc,
		logger:  logger,
		pending: make(map[string]*Handle),
		stop:    make(chan struct{}),
	}
}

// Start launches the result listener.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.listen()
}

// Close stops the listener and fails every outstanding handle with
// ErrOrchestratorClosed so awaiters are not stranded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stop)
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, h := range o.pending {
		h.resolve(nil, ErrOrchestratorClosed)
		delete(o.pending, id)
	}
}

// Submit sends one computation to the cluster and returns its handle.
// The computation ID is minted here so the caller can persist it before
// the result lands.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*Handle, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrOrchestratorClosed
	}
	h := &Handle{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	o.pending[h.id] = h
	o.mu.Unlock()

	req := &Request{ComputationID: h.id, Submission: sub}
	if err := o.svc.Submit(ctx, req); err != nil {
		o.mu.Lock()
		delete(o.pending, h.id)
		o.mu.Unlock()
		return nil, fmt.Errorf("submit computation: %w", err)
	}

	o.logger.Debug("computation submitted",
		"computation_id", h.id,
		"trip_a", sub.TripA,
		"trip_b", sub.TripB)
	return h, nil
}

func (o *Orchestrator) listen() {
	defer o.wg.Done()
	results := o.svc.Results()
	for {
		select {
		case <-o.stop:
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			o.dispatch(res)
		}
	}
}

func (o *Orchestrator) dispatch(res Result) {
	o.mu.Lock()
	h, ok := o.pending[res.ComputationID]
	if ok {
		delete(o.pending, res.ComputationID)
	}
	o.mu.Unlock()

	if !ok {
		o.logger.Warn("result for unknown computation", "computation_id", res.ComputationID)
		return
	}

	if res.Aborted {
		o.logger.Warn("computation aborted",
			"computation_id", res.ComputationID,
			"reason", res.Reason)
		h.resolve(nil, fmt.Errorf("%w: %s", ErrComputationFailed, res.Reason))
		return
	}

	o.logger.Debug("computation finished",
		"computation_id", res.ComputationID,
		"total", res.Scores.Total)
	h.resolve(res.Scores, nil)
}
