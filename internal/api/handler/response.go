package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindMalformedInput:
		return http.StatusBadRequest
	case domain.KindIndexNotReady:
		return http.StatusServiceUnavailable
	case domain.KindAcquisition, domain.KindTranscription, domain.KindEmbedding, domain.KindModelInvocation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse classifies err. Unclassified errors are logged and
// reported without their message.
func errorResponse(c *gin.Context, err error) (int, ErrorResponse) {
	kind := domain.KindOf(err)
	msg := err.Error()

	var de *domain.Error
	if kind == domain.KindInternal && !errors.As(err, &de) {
		logger.FromContext(c.Request.Context()).WithError(err).Error("Unclassified error at API boundary")
		msg = "internal error"
	}
	return statusForKind(kind), ErrorResponse{Status: "error", Kind: string(kind), Message: msg}
}

func writeError(c *gin.Context, err error) {
	code, body := errorResponse(c, err)
	c.JSON(code, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Status:  "error",
		Kind:    string(domain.KindMalformedInput),
		Message: msg,
	})
}
