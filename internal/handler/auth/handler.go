package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/service/user"
)

type Handler struct {
	userSvc user.Service
}

func NewHandler(userSvc user.Service) *Handler {
	return &Handler{userSvc: userSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/login", h.Login)
	}
}

func (h *Handler) Signup(c *gin.Context) {
	var req model.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.userSvc.Signup(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	created.PasswordHash = ""
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	tokens, err := h.userSvc.Login(c.Request.Context(), &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(tokens))
}
