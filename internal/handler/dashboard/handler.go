package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/authz"
	"github.com/careflow/clinical-records/internal/view"
)

// Handler serves a one-shot projection of the live dashboard. It reuses
// view.Derive so the HTTP shape matches what streaming clients assemble
// from the feed.
type Handler struct {
	patientRepo      repository.PatientRepository
	notificationRepo repository.NotificationRepository
}

func NewHandler(patientRepo repository.PatientRepository, notificationRepo repository.NotificationRepository) *Handler {
	return &Handler{
		patientRepo:      patientRepo,
		notificationRepo: notificationRepo,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard", h.GetDashboard)
}

func (h *Handler) GetDashboard(c *gin.Context) {
	actor := middleware.Actor(c)

	filter := &model.PatientFilter{}
	if !authz.Allowed(actor.Role, authz.ActionViewAllPatients) {
		filter.AddedBy = &actor.ID
	}
	patients, err := h.patientRepo.List(c.Request.Context(), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	notifications, err := h.notificationRepo.ListForUser(c.Request.Context(), actor.ID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(view.Derive(patients, notifications)))
}
