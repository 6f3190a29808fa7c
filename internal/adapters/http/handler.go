package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/PabloGalante/insurance-agent/internal/app/conversation"
	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

const (
	maxRequestBytes  = 64 << 10
	defaultListLimit = 20

	// redactedError replaces failure details, which may carry upstream bodies.
	redactedError = "turn failed"
)

type Server struct {
	svc *conversation.Service
}

// NewServer returns the API handler with request id, access log and CORS
// middleware applied.
func NewServer(svc *conversation.Service) http.Handler {
	s := &Server{svc: svc}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)

	return chainMiddlewares(mux, withCORS, withLogging, withRequestID)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type listSessionsResponse struct {
	Sessions []domain.SessionSummary `json:"sessions"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	res, err := s.svc.ProcessTurn(r.Context(), conversation.TurnInput{
		SessionID: domain.SessionID(req.SessionID),
		UserID:    domain.UserID(req.UserID),
		AuthToken: bearerToken(r),
		Message:   req.Message,
	})

	var perr *domain.PersistenceError
	if errors.As(err, &perr) && res != nil {
		// the reply was produced; the client learns the state was not kept
		observability.LoggerFromContext(r.Context()).Warn("turn not persisted", "op", perr.Op, "error", perr.Err)
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}

	state, err := s.svc.GetSession(r.Context(), domain.SessionID(r.PathValue("id")), domain.UserID(userID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if state.Error != "" {
		state.Error = redactedError
	}
	if state.Context.LastError != "" {
		state.Context.LastError = redactedError
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		badRequest(w, "user_id is required")
		return
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions, err := s.svc.ListSessions(r.Context(), domain.UserID(userID), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		badRequest(w, err.Error())
	case errors.As(err, &verr):
		badRequest(w, verr.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, domain.ErrSessionOwnership):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "session belongs to another user"})
	case errors.Is(err, conversation.ErrListingUnsupported):
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": err.Error()})
	default:
		observability.LoggerFromContext(r.Context()).Error("request failed", "error", err)
		internalError(w)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func internalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}
