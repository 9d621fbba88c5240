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

// CallableHandler serves remote procedures in the callable wire format:
// {"data": ...} in, {"result": ...} or {"error": {"status", "message"}} out
type CallableHandler struct {
	alarms *services.AlarmService
}

// NewCallableHandler creates a new CallableHandler
func NewCallableHandler(alarms *services.AlarmService) *CallableHandler {
	return &CallableHandler{alarms: alarms}
}

type sendAlarmRequest struct {
	Data models.AlarmRequest `json:"data"`
}

// SendAlarm rings the target user's devices
func (h *CallableHandler) SendAlarm(w http.ResponseWriter, r *http.Request) {
	var req sendAlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCallableError(w, &services.CallableError{
			Status:  services.StatusInvalidArgument,
			Message: "Invalid request body",
		})
		return
	}

	callerID := middleware.GetUserIDFromContext(r.Context())
	reply, err := h.alarms.SendAlarm(r.Context(), callerID, req.Data.TargetUserID)
	if err != nil {
		var callErr *services.CallableError
		if !errors.As(err, &callErr) {
			observability.WithContext(r.Context()).Errorf("sendAlarm failed: %v", err)
			callErr = &services.CallableError{Status: services.StatusInternal, Message: "Internal error"}
		}
		writeCallableError(w, callErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"result": reply})
}

func writeCallableError(w http.ResponseWriter, err *services.CallableError) {
	writeJSON(w, err.HTTPStatus(), map[string]interface{}{"error": err})
}
