package gateway

import (
	"net/http"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/infra/middleware"
)

// StatusResponse is the JSON body returned by GET /v1/status.
type StatusResponse struct {
	Service ServiceStatus          `json:"service"`
	Turns   TurnStatus             `json:"turns"`
	Active  []domain.StreamSession `json:"active"`
	Clients int64                  `json:"ws_clients"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// TurnStatus holds turn counters.
type TurnStatus struct {
	Active    int   `json:"active"`
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Version is reported by the status endpoint; set at build time.
var Version = "dev"

// statusHandler serves GET /v1/status.
func statusHandler(svc TurnService, startTime time.Time, m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := svc.Active()
		middleware.WriteJSON(w, http.StatusOK, StatusResponse{
			Service: ServiceStatus{
				Name:          "chatstream",
				Version:       Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Turns: TurnStatus{
				Active:    len(active),
				Started:   m.TurnsStarted.Load(),
				Completed: m.TurnsCompleted.Load(),
				Failed:    m.TurnsFailed.Load(),
				Cancelled: m.TurnsCancelled.Load(),
			},
			Active:  active,
			Clients: m.WSClients.Load(),
		})
	}
}
