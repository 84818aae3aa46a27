// Package httpapi is the agent's HTTP control surface: join and leave
// meetings, inspect sessions, and read pool occupancy. It is a thin JSON
// layer over the orchestrator; all policy lives below it.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/meeting-agent-lab/internal/logging"
	"github.com/meeting-agent-lab/internal/meeting"
)

type Server struct {
	orch *meeting.Orchestrator
	mux  *http.ServeMux
}

func NewServer(orch *meeting.Orchestrator) *Server {
	s := &Server{orch: orch, mux: http.NewServeMux()}
	s.mux.HandleFunc("/join", s.handleJoin)
	s.mux.HandleFunc("/leave", s.handleLeave)
	s.mux.HandleFunc("/sessions", s.handleSessions)
	s.mux.HandleFunc("/sessions/", s.handleSession)
	s.mux.HandleFunc("/pool/stats", s.handlePoolStats)
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type joinRequest struct {
	MeetingURL         string `json:"meeting_url"`
	SessionID          string `json:"session_id"`
	HostEmail          string `json:"host_email"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
}

type joinResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	InLobby   bool   `json:"in_lobby,omitempty"`
	SlotIndex int    `json:"slot_index"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, joinResponse{Error: "invalid request body"})
		return
	}
	if req.MeetingURL == "" {
		writeJSON(w, http.StatusBadRequest, joinResponse{Error: "meeting_url is required"})
		return
	}

	res, err := s.orch.Join(r.Context(), meeting.JoinRequest{
		MeetingURL:  req.MeetingURL,
		SessionID:   req.SessionID,
		HostEmail:   req.HostEmail,
		MaxDuration: time.Duration(req.MaxDurationMinutes) * time.Minute,
	})
	if err != nil {
		var capErr *meeting.CapacityError
		if errors.As(err, &capErr) {
			writeJSON(w, http.StatusTooManyRequests, joinResponse{Error: capErr.Error()})
			return
		}
		logging.Warnw("httpapi: join failed", "meeting_url", req.MeetingURL, "err", err)
		writeJSON(w, http.StatusBadGateway, joinResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		Success:   true,
		SessionID: res.SessionID,
		InLobby:   res.InLobby,
		SlotIndex: res.SlotIndex,
	})
}

type leaveRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	if err := s.orch.Leave(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, meeting.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.orch.Sessions()})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	snap, err := s.orch.Status(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.PoolStats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debugw("httpapi: response encode failed", "err", err)
	}
}
