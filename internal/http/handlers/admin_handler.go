package handlers

import (
	"context"

	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AdminManager interface {
	List(ctx context.Context, actor models.AdminIdentity) ([]models.AdminUser, error)
	Create(ctx context.Context, actor models.AdminIdentity, in services.CreateAdminInput) (*models.AdminUser, error)
	ChangeRole(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, role string) (*models.AdminUser, error)
	Delete(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID) error
	ChangePassword(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, password string) error
	SetTwoFactor(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, enabled bool) error
	SetModulePermission(ctx context.Context, actor models.AdminIdentity, targetID uuid.UUID, module string, canEdit bool) error
}

type AdminHandler struct {
	admins AdminManager
	log    *zap.Logger
}

func NewAdminHandler(admins AdminManager, log *zap.Logger) *AdminHandler {
	return &AdminHandler{admins: admins, log: log}
}

func (h *AdminHandler) List(c *fiber.Ctx) error {
	admins, err := h.admins.List(c.UserContext(), middleware.GetIdentity(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: admins})
}

func (h *AdminHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateAdminRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	admin, err := h.admins.Create(c.UserContext(), middleware.GetIdentity(c), services.CreateAdminInput{
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: admin})
}

func (h *AdminHandler) ChangeRole(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req dto.ChangeRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	admin, err := h.admins.ChangeRole(c.UserContext(), middleware.GetIdentity(c), id, req.Role)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: admin})
}

func (h *AdminHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	if err := h.admins.Delete(c.UserContext(), middleware.GetIdentity(c), id); err != nil {
		return respondError(c, h.log, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) ChangePassword(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.admins.ChangePassword(c.UserContext(), middleware.GetIdentity(c), id, req.Password); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AdminHandler) SetTwoFactor(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req dto.TwoFactorRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.admins.SetTwoFactor(c.UserContext(), middleware.GetIdentity(c), id, req.Enabled); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *AdminHandler) SetModulePermission(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req dto.ModulePermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.admins.SetModulePermission(c.UserContext(), middleware.GetIdentity(c), id, req.Module, req.CanEdit); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
