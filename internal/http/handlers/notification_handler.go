package handlers

import (
	"context"

	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type NotificationService interface {
	List(ctx context.Context, adminID uuid.UUID, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, adminID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, adminID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, adminID uuid.UUID) error
	Delete(ctx context.Context, adminID, id uuid.UUID) error
}

type NotificationHandler struct {
	notifications NotificationService
	log           *zap.Logger
}

func NewNotificationHandler(notifications NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	adminID := middleware.GetAdminID(c)
	limit := c.QueryInt("limit", 0)

	items, err := h.notifications.List(c.UserContext(), adminID, limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	unread, err := h.notifications.UnreadCount(c.UserContext(), adminID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return c.JSON(dto.NotificationsResponse{Items: items, UnreadCount: unread})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	if err := h.notifications.MarkRead(c.UserContext(), middleware.GetAdminID(c), id); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	if err := h.notifications.MarkAllRead(c.UserContext(), middleware.GetAdminID(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *NotificationHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	if err := h.notifications.Delete(c.UserContext(), middleware.GetAdminID(c), id); err != nil {
		return respondError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
