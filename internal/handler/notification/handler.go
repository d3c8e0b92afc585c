package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/service/notification"
)

type Handler struct {
	service notification.Service
}

func NewHandler(service notification.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.PUT("/:id/read", h.MarkRead)
		notifications.PUT("/read-all", h.MarkAllRead)
	}
}

func (h *Handler) List(c *gin.Context) {
	actor := middleware.Actor(c)
	notifications, err := h.service.List(c.Request.Context(), actor.ID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(notifications))
}

func (h *Handler) UnreadCount(c *gin.Context) {
	actor := middleware.Actor(c)
	count, err := h.service.UnreadCount(c.Request.Context(), actor.ID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"unread_count": count}))
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid notification ID"))
		return
	}

	actor := middleware.Actor(c)
	if err := h.service.MarkRead(c.Request.Context(), id, actor.ID); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	actor := middleware.Actor(c)
	if err := h.service.MarkAllRead(c.Request.Context(), actor.ID); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}
