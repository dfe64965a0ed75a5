package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// defaultRPCTimeout is the default timeout for IPC calls.
const defaultRPCTimeout = 5 * time.Second

// ErrEmptySocketPath is returned when an empty socket path is provided.
var ErrEmptySocketPath = errors.New("socket path cannot be empty")

// Client talks to the agent daemon over its Unix socket.
type Client struct {
	http *http.Client
}

// NewClient creates a new IPC client for the daemon socket at sockPath.
func NewClient(sockPath string) (*Client, error) {
	if sockPath == "" {
		return nil, ErrEmptySocketPath
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", sockPath)
		},
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   defaultRPCTimeout,
		},
	}, nil
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// call performs one JSON request against the daemon. The host in the URL
// is a placeholder; the transport always dials the socket.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://triper"+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach agent daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e errorBody
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
			return fmt.Errorf("agent: %s", e.Error)
		}
		return fmt.Errorf("agent returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	var info StatusInfo
	if err := c.call(ctx, http.MethodGet, "/v1/status", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PublishTrip publishes a trip and returns its ID.
func (c *Client) PublishTrip(ctx context.Context, req *TripRequest) (string, error) {
	var out struct {
		TripID string `json:"trip_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/trips", req, &out); err != nil {
		return "", err
	}
	return out.TripID, nil
}

// FindMatches runs candidate matching for a trip.
func (c *Client) FindMatches(ctx context.Context, tripID string) ([]MatchInfo, error) {
	var out []MatchInfo
	if err := c.call(ctx, http.MethodPost, "/v1/trips/"+tripID+"/matches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Matches lists pending matches.
func (c *Client) Matches(ctx context.Context) ([]MatchInfo, error) {
	var out []MatchInfo
	if err := c.call(ctx, http.MethodGet, "/v1/matches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Accept records the local party's acceptance.
func (c *Client) Accept(ctx context.Context, matchID string) (*MatchInfo, error) {
	var out MatchInfo
	if err := c.call(ctx, http.MethodPost, "/v1/matches/"+matchID+"/accept", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject records the local party's rejection.
func (c *Client) Reject(ctx context.Context, matchID string) (*MatchInfo, error) {
	var out MatchInfo
	if err := c.call(ctx, http.MethodPost, "/v1/matches/"+matchID+"/reject", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reveal fetches the counterparty's revealed trip for a mutual match.
func (c *Client) Reveal(ctx context.Context, matchID string) (*TripInfo, error) {
	var out TripInfo
	if err := c.call(ctx, http.MethodGet, "/v1/matches/"+matchID+"/reveal", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
