package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dynabo/dynabo/internal/errs"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value,omitempty"`
	Hint   string `json:"hint,omitempty"`
	Status int    `json:"status"`
}

// respondError maps a platform error to its HTTP status and writes the
// structured error body. Non-platform errors are reported as internal
// failures without leaking their cause.
func respondError(c *gin.Context, err error) {
	pe, ok := errs.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:  "internal error",
			Status: http.StatusInternalServerError,
		})
		return
	}

	status := statusFor(pe.Kind)
	c.JSON(status, ErrorResponse{
		Error:  pe.Message,
		Code:   string(pe.Code),
		Field:  pe.Field,
		Value:  pe.Value,
		Hint:   pe.Hint,
		Status: status,
	})
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindState, errs.KindConcurrency:
		return http.StatusConflict
	case errs.KindUnsupported:
		return http.StatusBadRequest
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondBadJSON(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:  "invalid JSON request: " + err.Error(),
		Status: http.StatusBadRequest,
	})
}
