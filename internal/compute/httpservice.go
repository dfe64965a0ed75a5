package compute

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrClusterUnavailable is returned when the compute gateway cannot be
// reached or is refusing work.
var ErrClusterUnavailable = errors.New("compute: cluster unavailable")

const (
	submitPath = "/v1/computations"
	statusPath = "/v1/computations/%s"

	httpMaxRetries   = 3
	httpRetryBackoff = time.Second
	httpPollInterval = 2 * time.Second
)

// HTTPService talks to a compute gateway over JSON HTTP. Submissions are
// POSTed once; a per-computation goroutine then polls the gateway until
// the computation finishes or aborts, at which point a Result is emitted
// on the shared channel.
type HTTPService struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	results chan Result

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	stop   chan struct{}
}

// NewHTTPService creates a client for the gateway at baseURL.
func NewHTTPService(baseURL string, logger *slog.Logger) *HTTPService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		results: make(chan Result, 16),
		stop:    make(chan struct{}),
	}
}

type submitRequest struct {
	ComputationID string `json:"computation_id"`
	TripA         string `json:"trip_a"`
	TripB         string `json:"trip_b"`
	CiphertextA   string `json:"ciphertext_a"`
	CiphertextB   string `json:"ciphertext_b"`
	PublicKeyA    string `json:"public_key_a"`
	PublicKeyB    string `json:"public_key_b"`
	NonceA        string `json:"nonce_a"`
	NonceB        string `json:"nonce_b"`
}

type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Scores *struct {
		Route    uint8 `json:"route"`
		Date     uint8 `json:"date"`
		Interest uint8 `json:"interest"`
		Total    uint8 `json:"total"`
	} `json:"scores,omitempty"`
}

// Submit POSTs the computation to the gateway, retrying transient
// failures with exponential backoff, then starts polling for the result.
func (s *HTTPService) Submit(ctx context.Context, req *Request) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrOrchestratorClosed
	}
	s.mu.Unlock()

	body, err := json.Marshal(submitRequest{
		ComputationID: req.ComputationID,
		TripA:         req.TripA,
		TripB:         req.TripB,
		CiphertextA:   base64.StdEncoding.EncodeToString(req.CiphertextA),
		CiphertextB:   base64.StdEncoding.EncodeToString(req.CiphertextB),
		PublicKeyA:    base64.StdEncoding.EncodeToString(req.PublicKeyA),
		PublicKeyB:    base64.StdEncoding.EncodeToString(req.PublicKeyB),
		NonceA:        base64.StdEncoding.EncodeToString(req.NonceA),
		NonceB:        base64.StdEncoding.EncodeToString(req.NonceB),
	})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			backoff := httpRetryBackoff * (1 << (attempt - 1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.post(ctx, body)
		if lastErr == nil {
			s.mu.Lock()
			s.wg.Add(1)
			s.mu.Unlock()
			go s.poll(req.ComputationID)
			return nil
		}
		s.logger.Warn("computation submit failed",
			"computation_id", req.ComputationID,
			"attempt", attempt+1,
			"error", lastErr)
	}
	return fmt.Errorf("%w: %v", ErrClusterUnavailable, lastErr)
}

func (s *HTTPService) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+submitPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// Results returns the callback channel.
func (s *HTTPService) Results() <-chan Result { return s.results }

// Close stops all pollers and closes the result channel.
func (s *HTTPService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	close(s.results)
}

func (s *HTTPService) poll(computationID string) {
	defer s.wg.Done()
	ticker := time.NewTicker(httpPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		status, err := s.fetchStatus(computationID)
		if err != nil {
			s.logger.Warn("poll computation status",
				"computation_id", computationID,
				"error", err)
			continue
		}

		switch status.Status {
		case "pending", "running":
			continue
		case "finished":
			if status.Scores == nil {
				s.emit(Result{ComputationID: computationID, Aborted: true, Reason: "finished without scores"})
				return
			}
			s.emit(Result{
				ComputationID: computationID,
				Scores: &Scores{
					Route:    status.Scores.Route,
					Date:     status.Scores.Date,
					Interest: status.Scores.Interest,
					Total:    status.Scores.Total,
				},
			})
			return
		default:
			s.emit(Result{ComputationID: computationID, Aborted: true, Reason: status.Reason})
			return
		}
	}
}

func (s *HTTPService) fetchStatus(computationID string) (*statusResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := s.baseURL + fmt.Sprintf(statusPath, computationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClusterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

func (s *HTTPService) emit(res Result) {
	select {
	case s.results <- res:
	case <-s.stop:
	}
}
