package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/securetrack/server/internal/middleware"
	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/services"
)

// ContactHandler manages the caller's trusted contacts
type ContactHandler struct {
	contacts *services.TrustedContactService
}

// NewContactHandler creates a new ContactHandler
func NewContactHandler(contacts *services.TrustedContactService) *ContactHandler {
	return &ContactHandler{contacts: contacts}
}

// List returns the caller's trusted contacts
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())

	links, err := h.contacts.List(r.Context(), userID)
	if err != nil {
		writeContactError(w, r, err)
		return
	}

	resp := models.ContactListResponse{
		Contacts:   make([]models.ContactResponse, 0, len(links)),
		TotalCount: len(links),
	}
	for _, l := range links {
		resp.Contacts = append(resp.Contacts, models.ContactToResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Add trusts another user
func (h *ContactHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())

	var req models.AddTrustedContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, err := h.contacts.Add(r.Context(), userID, req.ContactUserID, req.DisplayName)
	if err != nil {
		writeContactError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.ContactToResponse(link))
}

// Remove stops trusting a user
func (h *ContactHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())

	if err := h.contacts.Remove(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeContactError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeContactError(w http.ResponseWriter, r *http.Request, err error) {
	var contactErr models.ContactError
	switch {
	case errors.Is(err, models.ErrContactNotFound), errors.Is(err, models.ErrUnknownUser):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &contactErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		observability.WithContext(r.Context()).Errorf("Trusted contact request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
