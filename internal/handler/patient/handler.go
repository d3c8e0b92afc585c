package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/handler"
	"github.com/careflow/clinical-records/internal/middleware"
	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/service/patient"
	"github.com/careflow/clinical-records/internal/service/treatment"
	"github.com/careflow/clinical-records/internal/service/workflow"
)

type Handler struct {
	service      patient.Service
	treatmentSvc treatment.Service
	workflow     *workflow.Service
}

func NewHandler(service patient.Service, treatmentSvc treatment.Service, wf *workflow.Service) *Handler {
	return &Handler{
		service:      service,
		treatmentSvc: treatmentSvc,
		workflow:     wf,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.POST("", h.CreatePatient)
		patients.GET("", h.ListPatients)
		patients.GET("/:id", h.GetPatient)
		patients.POST("/:id/approve", h.ApprovePatient)
		patients.POST("/:id/reject", h.RejectPatient)

		patients.POST("/:id/treatments", h.CreateTreatment)
		patients.GET("/:id/treatments", h.ListTreatments)
	}
}

func (h *Handler) CreatePatient(c *gin.Context) {
	var req model.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.service.Create(c.Request.Context(), &req, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) ListPatients(c *gin.Context) {
	var status *string
	if s := c.Query("status"); s != "" {
		status = &s
	}

	patients, err := h.service.List(c.Request.Context(), status, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(patients))
}

func (h *Handler) GetPatient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	p, err := h.service.Get(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) ApprovePatient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	p, err := h.workflow.ApprovePatient(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) RejectPatient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	var req model.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	p, err := h.workflow.RejectPatient(c.Request.Context(), id, middleware.Actor(c), req.Reason)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(p))
}

func (h *Handler) CreateTreatment(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	var req model.CreateTreatmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	created, err := h.treatmentSvc.Create(c.Request.Context(), patientID, &req, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) ListTreatments(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid patient ID"))
		return
	}

	treatments, err := h.treatmentSvc.ListForPatient(c.Request.Context(), patientID, middleware.Actor(c))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(treatments))
}
