package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// Handler exposes liveness and readiness probes. Readiness fails while the
// record store is unreachable; the feed broker is deliberately excluded
// since the API degrades to snapshot-only reads without it.
type Handler struct {
	db *sqlx.DB
}

func NewHandler(db *sqlx.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("", h.Readiness)
		health.GET("/live", h.Liveness)
		health.GET("/ready", h.Readiness)
	}
}

func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "up"})
}

func (h *Handler) Readiness(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "down",
			"checks": gin.H{"database": "unreachable"},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "up",
		"checks": gin.H{"database": "ok"},
	})
}
