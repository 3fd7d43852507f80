package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apiv1 "github.com/answerdhq/answerd/pkg/api/v1"

	"github.com/answerdhq/answerd/internal/project"
	"github.com/answerdhq/answerd/internal/session"
)

// writeError maps an internal error onto the public taxonomy and
// writes the uniform error body. Internal detail never leaves the
// process; clients see the stable code and a short message.
func writeError(c echo.Context, err error) error {
	var qe *apiv1.QuotaExceededError
	if errors.As(err, &qe) {
		return c.JSON(http.StatusTooManyRequests, apiv1.ErrorResponse{
			Code:    "quota_exceeded",
			Message: "rate limit exceeded",
			Limits:  qe.Windows,
		})
	}

	switch {
	case errors.Is(err, apiv1.ErrValidation):
		return c.JSON(http.StatusBadRequest, apiv1.ErrorResponse{
			Code:    "invalid_request",
			Message: "invalid request",
		})
	case errors.Is(err, apiv1.ErrAuthenticationFailed):
		return c.JSON(http.StatusUnauthorized, apiv1.ErrorResponse{
			Code:    "authentication_failed",
			Message: "authentication failed",
		})
	case errors.Is(err, apiv1.ErrAuthorizationDenied),
		errors.Is(err, session.ErrAssistantNotAllowed):
		return c.JSON(http.StatusForbidden, apiv1.ErrorResponse{
			Code:    "authorization_denied",
			Message: "authorization denied",
		})
	case errors.Is(err, apiv1.ErrDomainNotAllowed),
		errors.Is(err, session.ErrDomainNotAllowed):
		return c.JSON(http.StatusForbidden, apiv1.ErrorResponse{
			Code:    "domain_not_allowed",
			Message: "domain not allowed for this project",
		})
	case errors.Is(err, apiv1.ErrProjectNotFound),
		errors.Is(err, project.ErrNotFound):
		return c.JSON(http.StatusNotFound, apiv1.ErrorResponse{
			Code:    "project_not_found",
			Message: "project not found or inactive",
		})
	case errors.Is(err, session.ErrTooManySessions):
		return c.JSON(http.StatusTooManyRequests, apiv1.ErrorResponse{
			Code:    "too_many_sessions",
			Message: "concurrent session limit reached",
		})
	case errors.Is(err, project.ErrValidation):
		return c.JSON(http.StatusBadRequest, apiv1.ErrorResponse{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, project.ErrExists):
		return c.JSON(http.StatusConflict, apiv1.ErrorResponse{
			Code:    "already_exists",
			Message: "resource already exists",
		})
	case errors.Is(err, apiv1.ErrRetrievalUnavailable):
		return c.JSON(http.StatusServiceUnavailable, apiv1.ErrorResponse{
			Code:    "retrieval_unavailable",
			Message: "retrieval backend unavailable",
		})
	default:
		return c.JSON(http.StatusInternalServerError, apiv1.ErrorResponse{
			Code:    "internal_error",
			Message: "message processing failed",
		})
	}
}
