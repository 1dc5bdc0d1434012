package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerStatus is satisfied by the NATS client.
type BrokerStatus interface {
	Connected() bool
}

type healthBody struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	NATS     string `json:"nats"`
}

// Health reports database reachability and the broker connection state. A
// broker outage only degrades notifications, so it never fails the check.
// broker may be nil when NATS is disabled.
func Health(db Pinger, broker BrokerStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{Status: "healthy", Database: "up", NATS: "disabled"}
		if broker != nil {
			body.NATS = "down"
			if broker.Connected() {
				body.NATS = "up"
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			body.Status = "unhealthy"
			body.Database = "down"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}
