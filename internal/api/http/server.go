package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appAuth "github.com/keyfold/keyfold/internal/application/auth"
	appPairing "github.com/keyfold/keyfold/internal/application/pairing"
	domainPairing "github.com/keyfold/keyfold/internal/domain/pairing"
	"github.com/keyfold/keyfold/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	pairingSvc *appPairing.Service
	verifier   appAuth.Verifier
	hub        *sse.Hub
	logger     zerolog.Logger
}

func NewServer(pairingSvc *appPairing.Service, verifier appAuth.Verifier, hub *sse.Hub, logger zerolog.Logger) *Server {
	return &Server{
		pairingSvc: pairingSvc,
		verifier:   verifier,
		hub:        hub,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.With(s.requireAuth).Post("/", s.createSession)
			r.With(s.requireAuth).Get("/{sessionId}", s.getSessionStatus)
			r.With(s.requireAuth).Delete("/{sessionId}", s.cancelSession)
			r.With(s.requireAuth).Post("/{sessionId}/ack", s.ackSession)

			// possession of the session ID is the capability; the scanning
			// device never authenticates
			r.Post("/{sessionId}/complete", s.completeSession)
		})

		r.With(s.requireAuth).Get("/events", s.eventsEndpoint)
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondPairingError maps the pairing error taxonomy onto the HTTP surface.
func respondPairingError(w http.ResponseWriter, err error) {
	var verr *domainPairing.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", verr.Error())
	case errors.Is(err, domainPairing.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
	case errors.Is(err, domainPairing.ErrGone):
		respondError(w, http.StatusGone, "GONE", "session finished and was cleaned up")
	case errors.Is(err, domainPairing.ErrSessionExpired):
		respondError(w, http.StatusGone, "SESSION_EXPIRED", "code expired, request a new one")
	case errors.Is(err, domainPairing.ErrAlreadyFinalized):
		respondError(w, http.StatusConflict, "ALREADY_FINALIZED", "session already finalized")
	case errors.Is(err, domainPairing.ErrNotFinalized):
		respondError(w, http.StatusConflict, "NOT_FINALIZED", "session still active")
	case errors.Is(err, domainPairing.ErrNotOwner):
		respondError(w, http.StatusForbidden, "FORBIDDEN", "not the session owner")
	case errors.Is(err, domainPairing.ErrDuplicateSession):
		respondError(w, http.StatusConflict, "DUPLICATE_SESSION", "session id collision")
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
