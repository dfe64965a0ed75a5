package ipc

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/triper/triper/internal/ledger"
	"github.com/triper/triper/internal/match"
	"github.com/triper/triper/internal/prefilter"
)

// Server serves the Agent surface on a Unix socket.
type Server struct {
	sockPath string
	agent    Agent
	http     *http.Server
	listener net.Listener
}

// NewServer creates a new IPC server.
func NewServer(sockPath string, agent Agent) (*Server, error) {
	// Remove existing socket if present
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(sockPath, 0600); err != nil {
		listener.Close()
		return nil, err
	}

	s := &Server{
		sockPath: sockPath,
		agent:    agent,
		listener: listener,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/trips", s.handlePublishTrip)
	mux.HandleFunc("POST /v1/trips/{id}/matches", s.handleFindMatches)
	mux.HandleFunc("GET /v1/matches", s.handleMatches)
	mux.HandleFunc("POST /v1/matches/{id}/accept", s.handleAccept)
	mux.HandleFunc("POST /v1/matches/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /v1/matches/{id}/reveal", s.handleReveal)
	s.http = &http.Server{Handler: mux}

	return s, nil
}

// Start begins serving requests. Blocks until Stop.
func (s *Server) Start() error {
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.http.Close()
	os.Remove(s.sockPath)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, match.ErrNotParticipant):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrNotMutual), errors.Is(err, match.ErrAlreadyResolved),
		errors.Is(err, ledger.ErrRecordArchived):
		status = http.StatusConflict
	case errors.Is(err, prefilter.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.agent.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePublishTrip(w http.ResponseWriter, r *http.Request) {
	var req TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	tripID, err := s.agent.PublishTrip(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"trip_id": tripID})
}

func (s *Server) handleFindMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.agent.FindMatches(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.agent.Matches(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	info, err := s.agent.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	info, err := s.agent.Reject(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	trip, err := s.agent.Reveal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
