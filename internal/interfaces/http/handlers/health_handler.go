package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexivo/sentinel/internal/infrastructure/persistence/sqlite"
)

// HealthHandler answers liveness probes from the watchdog that restarts
// the agent process.
type HealthHandler struct {
	db *sqlite.DBConnection
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(db *sqlite.DBConnection) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthCheck reports process and store health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	checks := map[string]string{"store": "ok"}
	status := http.StatusOK

	if err := h.db.Ping(c.Request.Context()); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    map[bool]string{true: "healthy", false: "unhealthy"}[status == http.StatusOK],
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
