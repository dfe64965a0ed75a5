// Package compute orchestrates confidential match computations. The MPC
// cluster itself is an opaque asynchronous collaborator: the engine
// submits two encrypted payloads plus session metadata, and the cluster
// eventually emits a callback event carrying the scores. Nothing in this
// package ever sees trip plaintext; only the dev-mode mock, standing in
// for the cluster, holds a decryption key.
package compute

import (
	"context"
	"errors"
)

var (
	// ErrAwaitTimeout is returned when no result arrived within the
	// caller's deadline. The handle remains outstanding: re-awaiting the
	// same handle is safe, resubmitting the computation is not.
	ErrAwaitTimeout = errors.New("compute: await timed out")

	// ErrComputationFailed is returned when the cluster reports a
	// computation as aborted. Never mapped to a zero score.
	ErrComputationFailed = errors.New("compute: computation failed")

	// ErrOrchestratorClosed is returned when submitting after Close.
	ErrOrchestratorClosed = errors.New("compute: orchestrator closed")
)

// Scores carries the four sub-scores from a finished computation, each a
// 0-100 integer. The interest score uses the canonical integer form;
// fractional presentations are converted at the edge, not here.
type Scores struct {
	Route    uint8
	Date     uint8
	Interest uint8
	Total    uint8
}

// Submission is one computation request over two parties' sealed
// payloads. Each ciphertext travels with the ephemeral public key and
// nonce the cluster needs to re-derive that party's session key.
type Submission struct {
	TripA, TripB             string
	CiphertextA, CiphertextB []byte
	PublicKeyA, PublicKeyB   []byte
	NonceA, NonceB           []byte
}

// Request is a Submission tagged with its computation tracking ID.
type Request struct {
	ComputationID string
	Submission
}

// Result is one callback event from the cluster. Exactly one of Scores
// or Aborted is meaningful.
type Result struct {
	ComputationID string
	Scores        *Scores
	Aborted       bool
	Reason        string
}

// Service is the engine's handle on the compute cluster. Submit must be
// at-most-once per computation ID; Results delivers callback events until
// the service is closed.
type Service interface {
	Submit(ctx context.Context, req *Request) error
	Results() <-chan Result
}
