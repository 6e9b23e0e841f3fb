package webrtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates a participant's access token for a room and
// returns the identity and display name it grants.
type Authenticator interface {
	Authenticate(token, room string) (identity, name string, err error)
}

// SignalingOption configures a [SignalingServer].
type SignalingOption func(*SignalingServer)

// WithAuthenticator requires every join to carry "Authorization: Bearer <token>"
// accepted by a. The participant identity is taken from the token, not the body.
func WithAuthenticator(a Authenticator) SignalingOption {
	return func(s *SignalingServer) {
		s.auth = a
	}
}

// SignalingServer handles WebRTC signaling via plain HTTP endpoints.
type SignalingServer struct {
	platform *Platform
	auth     Authenticator
}

// NewSignalingServer creates a signaling server backed by the given platform.
func NewSignalingServer(platform *Platform, opts ...SignalingOption) *SignalingServer {
	s := &SignalingServer{platform: platform}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns an http.Handler that serves the signaling endpoints:
//
//	POST   /rooms/{roomID}/join    — peer sends SDP offer, gets SDP answer
//	POST   /rooms/{roomID}/ice     — peer sends ICE candidate
//	DELETE /rooms/{roomID}/leave   — peer disconnects
func (s *SignalingServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms/{roomID}/join", s.handleJoin)
	mux.HandleFunc("POST /rooms/{roomID}/ice", s.handleICE)
	mux.HandleFunc("DELETE /rooms/{roomID}/leave", s.handleLeave)
	return mux
}

// joinRequest is the JSON body for the join endpoint.
type joinRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	SDPOffer string `json:"sdp_offer"`
}

// joinResponse is the JSON body returned from the join endpoint.
type joinResponse struct {
	UserID    string `json:"user_id"`
	SDPAnswer string `json:"sdp_answer"`
}

var errMissingBearer = errors.New("missing bearer token")

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(tok) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(tok), nil
}

// handleJoin handles POST /rooms/{roomID}/join.
func (s *SignalingServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if s.auth != nil {
		tok, err := bearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		identity, name, err := s.auth.Authenticate(tok, roomID)
		if err != nil {
			http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		req.UserID = identity
		if req.Username == "" {
			req.Username = name
		}
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.SDPOffer == "" {
		http.Error(w, "sdp_offer is required", http.StatusBadRequest)
		return
	}

	conn := s.platform.room(roomID)
	answer, err := conn.AddPeer(r.Context(), req.UserID, req.Username, req.SDPOffer)
	if err != nil {
		http.Error(w, "failed to add peer: "+err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(joinResponse{UserID: req.UserID, SDPAnswer: answer})
}

// iceRequest is the JSON body for the ICE candidate endpoint.
type iceRequest struct {
	UserID    string `json:"user_id"`
	Candidate string `json:"candidate"`
}

// handleICE handles POST /rooms/{roomID}/ice.
func (s *SignalingServer) handleICE(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	var req iceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	conn, ok := s.platform.Room(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err := conn.AddICECandidate(req.UserID, req.Candidate); err != nil {
		http.Error(w, "failed to add ICE candidate: "+err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// leaveRequest is the JSON body for the leave endpoint.
type leaveRequest struct {
	UserID string `json:"user_id"`
}

// handleLeave handles DELETE /rooms/{roomID}/leave.
func (s *SignalingServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, ok := s.platform.Room(roomID)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	if err := conn.RemovePeer(req.UserID); err != nil {
		http.Error(w, "failed to remove peer: "+err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}
