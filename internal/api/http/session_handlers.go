package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appPairing "github.com/keyfold/keyfold/internal/application/pairing"
	domainPairing "github.com/keyfold/keyfold/internal/domain/pairing"
	domainPass "github.com/keyfold/keyfold/internal/domain/pass"
)

type createSessionRequest struct {
	TargetKind      string          `json:"targetKind"`
	TargetData      json.RawMessage `json:"targetData"`
	LifetimeSeconds int             `json:"lifetimeSeconds,omitempty"`
}

type createSessionResponse struct {
	SessionID       string `json:"sessionId"`
	Payload         string `json:"payload"`
	ExpiresAt       string `json:"expiresAt"`
	LifetimeSeconds int    `json:"lifetimeSeconds"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	ownerRef, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	res, err := s.pairingSvc.Create(r.Context(), appPairing.CreateInput{
		TargetKind:      req.TargetKind,
		TargetData:      req.TargetData,
		LifetimeSeconds: req.LifetimeSeconds,
		OwnerRef:        ownerRef,
	})
	if err != nil {
		respondPairingError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       res.SessionID,
		Payload:         res.Payload,
		ExpiresAt:       res.ExpiresAt.Format(time.RFC3339),
		LifetimeSeconds: res.LifetimeSeconds,
	})
}

type statusResponse struct {
	Status    domainPairing.Status `json:"status"`
	Scanned   bool                 `json:"scanned"`
	ExpiresAt string               `json:"expiresAt"`
	ResultRef *string              `json:"resultRef,omitempty"`
}

func (s *Server) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.pairingSvc.Status(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		respondPairingError(w, err)
		return
	}
	resp := statusResponse{
		Status:    res.Status,
		Scanned:   res.Scanned,
		ExpiresAt: res.ExpiresAt.Format(time.RFC3339),
	}
	if res.ResultRef != nil {
		ref := res.ResultRef.String()
		resp.ResultRef = &ref
	}
	respondJSON(w, http.StatusOK, resp)
}

type completeSessionRequest struct {
	ScannerRef string `json:"scannerRef,omitempty"`
}

type completeSessionResponse struct {
	Status    domainPairing.Status `json:"status"`
	ResultRef *string              `json:"resultRef,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	var req completeSessionRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}

	res, err := s.pairingSvc.Complete(r.Context(), chi.URLParam(r, "sessionId"), req.ScannerRef)

	var rcErr *domainPairing.ResourceCreationError
	switch {
	case err == nil:
	case errors.As(err, &rcErr):
		// the scan itself was consumed; tell the device the pass was not saved
		respondJSON(w, http.StatusInternalServerError, completeSessionResponse{
			Status: domainPairing.StatusCompleted,
			Error:  "RESOURCE_CREATE_FAILED",
		})
		return
	case errors.Is(err, domainPass.ErrNotCreated):
		// clean failure, the session was rolled back; the device may rescan
		respondError(w, http.StatusBadGateway, "RESOURCE_CREATE_FAILED", "pass could not be saved, scan again")
		return
	default:
		respondPairingError(w, err)
		return
	}

	resp := completeSessionResponse{Status: res.Status}
	if res.ResultRef != nil {
		ref := res.ResultRef.String()
		resp.ResultRef = &ref
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	ownerRef, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	status, err := s.pairingSvc.Cancel(r.Context(), chi.URLParam(r, "sessionId"), ownerRef)
	if err != nil {
		respondPairingError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": status})
}

func (s *Server) ackSession(w http.ResponseWriter, r *http.Request) {
	ownerRef, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	if err := s.pairingSvc.Acknowledge(r.Context(), chi.URLParam(r, "sessionId"), ownerRef); err != nil {
		respondPairingError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}
