package replicator

import (
	"net/http"

	"broker-replicator/internal/infra/httpserver"
)

var _ httpserver.Controller = (*HealthController)(nil)

// HealthController reports the bridge counters to the health checker. It
// only reads Stats snapshots and never touches the replication path.
type HealthController struct {
	direction Direction
	stats     *Stats
}

func NewHealthController(direction Direction, stats *Stats) *HealthController {
	return &HealthController{direction: direction, stats: stats}
}

func (c *HealthController) AddRoutes(router *http.ServeMux) {
	router.Handle("GET /health", c.getHealth())
}

type healthResponse struct {
	Status            string  `json:"status"`
	Direction         string  `json:"direction"`
	MessagesProcessed int64   `json:"messages_processed"`
	Errors            int64   `json:"errors"`
	Uptime            float64 `json:"uptime"`
}

func (c *HealthController) getHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := c.stats.Snapshot()
		output := healthResponse{
			Status:            "healthy",
			Direction:         string(c.direction),
			MessagesProcessed: snapshot.Messages,
			Errors:            snapshot.Errors,
			Uptime:            snapshot.Uptime.Seconds(),
		}
		httpserver.ReplyJSONResponse(w, http.StatusOK, output)
	}
}
