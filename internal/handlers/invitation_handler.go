package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/securetrack/server/internal/middleware"
	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/services"
)

// InvitationHandler issues and redeems invitation codes
type InvitationHandler struct {
	invitations *services.InvitationService
}

// NewInvitationHandler creates a new InvitationHandler
func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// Issue creates a code the caller can hand out
func (h *InvitationHandler) Issue(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())

	inv, err := h.invitations.Issue(r.Context(), userID)
	if err != nil {
		writeInvitationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.InvitationToResponse(inv))
}

// List returns the codes the caller has issued
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())

	invs, err := h.invitations.ListIssued(r.Context(), userID)
	if err != nil {
		writeInvitationError(w, r, err)
		return
	}

	resp := models.InvitationListResponse{Invitations: make([]models.InvitationResponse, 0, len(invs))}
	for _, inv := range invs {
		resp.Invitations = append(resp.Invitations, models.InvitationToResponse(inv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Redeem adds the code's owner to the caller's trusted contacts
func (h *InvitationHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())

	var req models.RedeemInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, err := h.invitations.Redeem(r.Context(), req.Code, userID)
	if err != nil {
		writeInvitationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.ContactToResponse(link))
}

func writeInvitationError(w http.ResponseWriter, r *http.Request, err error) {
	var invErr models.InvitationError
	var contactErr models.ContactError
	switch {
	case errors.Is(err, models.ErrInvitationNotFound), errors.Is(err, models.ErrUnknownUser):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvitationUsed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvitationExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, models.ErrInvitationCollision):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &invErr), errors.As(err, &contactErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		observability.WithContext(r.Context()).Errorf("Invitation request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
