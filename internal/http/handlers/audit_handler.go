package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/admissions-portal/backend/internal/apperr"
	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditReader interface {
	List(ctx context.Context, f repositories.AuditFilter) ([]models.AuditEntry, error)
	ListByRecord(ctx context.Context, table, recordID string, limit, offset int) ([]models.AuditEntry, error)
}

type AuditHandler struct {
	audit AuditReader
	log   *zap.Logger
}

func NewAuditHandler(audit AuditReader, log *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// pageParams reads limit and offset. Both must be non-negative integers;
// a zero limit lets the repository pick its default.
func pageParams(c *fiber.Ctx) (limit, offset int, err error) {
	limit, err = strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit < 0 {
		return 0, 0, fmt.Errorf("limit must be a non-negative integer: %w", apperr.ErrInvalidInput)
	}
	offset, err = strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("offset must be a non-negative integer: %w", apperr.ErrInvalidInput)
	}
	return limit, offset, nil
}

func (h *AuditHandler) List(c *fiber.Ctx) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	f := repositories.AuditFilter{Limit: limit, Offset: offset}
	if v := c.Query("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid actor_id")
		}
		f.ActorID = &id
	}
	if v := c.Query("action"); v != "" {
		action := models.AuditAction(v)
		f.Action = &action
	}
	if v := c.Query("table"); v != "" {
		f.TableName = &v
	}

	entries, err := h.audit.List(c.UserContext(), f)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *AuditHandler) ListByRecord(c *fiber.Ctx) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	entries, err := h.audit.ListByRecord(c.UserContext(), c.Params("table"), c.Params("id"), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}
