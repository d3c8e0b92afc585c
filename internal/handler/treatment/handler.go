package treatment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/service/workflow"
)

type Handler struct {
	workflow *workflow.Service
}

func NewHandler(wf *workflow.Service) *Handler {
	return &Handler{workflow: wf}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	treatments := r.Group("/treatments")
	{
		treatments.POST("/:id/approve", h.ApproveTreatment)
		treatments.POST("/:id/reject", h.RejectTreatment)
		treatments.PUT("/:id/status", h.SetStatus)
	}
}

func (h *Handler) ApproveTreatment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid treatment ID"))
		return
	}

	t, err := h.workflow.ApproveTreatment(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(t))
}

func (h *Handler) RejectTreatment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid treatment ID"))
		return
	}

	t, err := h.workflow.RejectTreatment(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(t))
}

func (h *Handler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid treatment ID"))
		return
	}

	var req model.SetTreatmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	t, err := h.workflow.SetTreatmentStatus(c.Request.Context(), id, req.Status, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(t))
}
