// Package ipc exposes the agent daemon to local tooling over a Unix
// socket. The wire format is JSON over HTTP: every operation the CLI
// needs maps to one route, and errors travel as a JSON body with the
// HTTP status carrying the class.
package ipc

import "context"

// StatusInfo is the daemon status snapshot.
type StatusInfo struct {
	Address        string `json:"address"`
	ComputeMode    string `json:"compute_mode"`
	PendingMatches int    `json:"pending_matches"`
}

// Stop is one coordinate of a trip draft.
type Stop struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TripRequest describes a trip to publish.
type TripRequest struct {
	Stops     []Stop `json:"stops"`
	StartDate int64  `json:"start_date"`
	EndDate   int64  `json:"end_date"`
	Interests []int  `json:"interests"`
}

// MatchInfo is the public view of a match record.
type MatchInfo struct {
	ID            string `json:"id"`
	TripA         string `json:"trip_a"`
	TripB         string `json:"trip_b"`
	RouteScore    uint8  `json:"route_score"`
	DateScore     uint8  `json:"date_score"`
	InterestScore uint8  `json:"interest_score"`
	TotalScore    uint8  `json:"total_score"`
	Status        string `json:"status"`
	ExpiresAt     int64  `json:"expires_at"`
}

// TripInfo is a revealed counterparty trip.
type TripInfo struct {
	Waypoints []uint64 `json:"waypoints"`
	StartDate int64    `json:"start_date"`
	EndDate   int64    `json:"end_date"`
	Interests []int    `json:"interests"`
}

// Agent is the daemon surface the IPC server exposes.
type Agent interface {
	Status(ctx context.Context) (*StatusInfo, error)
	PublishTrip(ctx context.Context, req *TripRequest) (string, error)
	FindMatches(ctx context.Context, tripID string) ([]MatchInfo, error)
	Matches(ctx context.Context) ([]MatchInfo, error)
	Accept(ctx context.Context, matchID string) (*MatchInfo, error)
	Reject(ctx context.Context, matchID string) (*MatchInfo, error)
	Reveal(ctx context.Context, matchID string) (*TripInfo, error)
}
