package handlers

import (
	"net/http"

	"github.com/onnwee/event-companion/backend/internal/network"
)

// HealthHandler reports liveness plus the agent's view of connectivity and
// the remote API breaker.
type HealthHandler struct {
	monitor network.Monitor
	queue   interface{ QueueLen() int }
	breaker func() string
}

// NewHealthHandler creates a health handler. breaker may be nil.
func NewHealthHandler(m network.Monitor, queue interface{ QueueLen() int }, breaker func() string) *HealthHandler {
	return &HealthHandler{monitor: m, queue: queue, breaker: breaker}
}

type healthResponse struct {
	Status     string         `json:"status"`
	Network    network.Status `json:"network"`
	QueueDepth int            `json:"queue_depth"`
	APIBreaker string         `json:"api_breaker,omitempty"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Network:    h.monitor.Fetch(r.Context()),
		QueueDepth: h.queue.QueueLen(),
	}
	if h.breaker != nil {
		resp.APIBreaker = h.breaker()
	}
	writeJSON(w, r, http.StatusOK, resp)
}
