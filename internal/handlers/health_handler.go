package handlers

import (
	"net/http"
	"time"

	"github.com/securetrack/server/internal/models"
)

// ClientCounter reports connected feed clients
type ClientCounter interface {
	GetClientCount() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	storeBackend string
	clients      ClientCounter
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(storeBackend string, clients ClientCounter) *HealthHandler {
	return &HealthHandler{storeBackend: storeBackend, clients: clients}
}

// HealthCheck returns the server health status
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Store:     h.storeBackend,
	}
	if h.clients != nil {
		response.Clients = h.clients.GetClientCount()
	}
	writeJSON(w, http.StatusOK, response)
}
