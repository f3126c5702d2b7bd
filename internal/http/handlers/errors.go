package handlers

import (
	"errors"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError maps domain errors to HTTP statuses. Unexpected errors are
// logged and hidden behind a generic message.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	reqID := middleware.GetRequestID(c)
	status := fiber.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, apperr.ErrForbidden):
		status, msg = fiber.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrNotFound):
		status, msg = fiber.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrInvalidStatus), errors.Is(err, apperr.ErrInvalidInput):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrInvalidCredentials):
		status, msg = fiber.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, apperr.ErrConflict):
		status, msg = fiber.StatusConflict, err.Error()
	case errors.Is(err, apperr.ErrPersistence):
		msg = "could not save changes, please retry"
		log.Error("persistence failure", zap.String("request_id", reqID), zap.Error(err))
	default:
		log.Error("unhandled error", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
}
