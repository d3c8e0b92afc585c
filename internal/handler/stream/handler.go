package stream

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/view"
	"github.com/careflow/clinical-records/pkg/feed"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/messaging"
)

// Handler streams live dashboard snapshots over SSE. Each connection owns
// one view.Dashboard; disconnecting stops both underlying subscriptions,
// so no listener outlives its client.
type Handler struct {
	patientRepo      repository.PatientRepository
	notificationRepo repository.NotificationRepository
	broker           messaging.Broker
	logger           *logger.Logger
	feedOpts         *feed.Options
}

func NewHandler(
	patientRepo repository.PatientRepository,
	notificationRepo repository.NotificationRepository,
	broker messaging.Broker,
	log *logger.Logger,
	feedOpts *feed.Options,
) *Handler {
	return &Handler{
		patientRepo:      patientRepo,
		notificationRepo: notificationRepo,
		broker:           broker,
		logger:           log.WithComponent("stream"),
		feedOpts:         feedOpts,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream", h.Stream)
}

func (h *Handler) Stream(c *gin.Context) {
	actor := middleware.Actor(c)

	dash := view.NewDashboard(actor, h.patientRepo, h.notificationRepo, h.broker, h.logger, h.feedOpts)

	updates := make(chan view.DashboardSnapshot, 16)
	dash.OnUpdate(func(s view.DashboardSnapshot) {
		select {
		case updates <- s:
		default:
			// Slow consumer: drop intermediate snapshots, the next one
			// carries the full state anyway.
		}
	})

	if err := dash.Start(c.Request.Context()); err != nil {
		handler.RespondError(c, err)
		return
	}
	defer dash.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("snapshot", dash.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snapshot := <-updates:
			c.SSEvent("snapshot", snapshot)
			return true
		}
	})
	c.Status(http.StatusOK)
}
