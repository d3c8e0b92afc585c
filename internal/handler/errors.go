package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careflow/clinical-records/pkg/apperror"
)

var statusByCode = map[apperror.ErrorCode]int{
	apperror.CodeUnauthorized:     http.StatusForbidden,
	apperror.CodeAlreadyDecided:   http.StatusConflict,
	apperror.CodeNotFound:         http.StatusNotFound,
	apperror.CodeStoreUnavailable: http.StatusServiceUnavailable,
	apperror.CodeBadRequest:       http.StatusBadRequest,
	apperror.CodeInternal:         http.StatusInternalServerError,
}

// RespondError maps the workflow error taxonomy onto HTTP statuses. The
// specific rejection reason always reaches the caller.
func RespondError(c *gin.Context, err error) {
	status, ok := statusByCode[apperror.CodeOf(err)]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, NewErrorResponse(err.Error()))
}
