package user

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/service/user"
	"github.com/careflow/clinical-records/internal/service/workflow"
)

type Handler struct {
	service  user.Service
	workflow *workflow.Service
}

func NewHandler(service user.Service, wf *workflow.Service) *Handler {
	return &Handler{service: service, workflow: wf}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.GET("/pending", h.ListPending)
		users.POST("/:id/approve", h.ApproveUser)
		users.POST("/doctors", h.CreateDoctor)
	}
}

func (h *Handler) ListPending(c *gin.Context) {
	users, err := h.service.ListPending(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(users))
}

func (h *Handler) ApproveUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid user ID"))
		return
	}

	approved, err := h.workflow.ApproveUser(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	approved.PasswordHash = ""
	c.JSON(http.StatusOK, handler.NewSuccessResponse(approved))
}

func (h *Handler) CreateDoctor(c *gin.Context) {
	var req model.CreateDoctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.service.CreateDoctor(c.Request.Context(), &req, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	created.PasswordHash = ""
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}
