package handlers

import (
	"context"

	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, *models.AdminUser, error)
}

type EditChecker interface {
	CanEdit(ctx context.Context, kind models.RecordKind, actor models.AdminIdentity) (bool, error)
}

type AuthHandler struct {
	admins  Authenticator
	editing EditChecker
	log     *zap.Logger
}

func NewAuthHandler(admins Authenticator, editing EditChecker, log *zap.Logger) *AuthHandler {
	return &AuthHandler{admins: admins, editing: editing, log: log}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	token, admin, err := h.admins.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.AuthResponse{Token: token, Admin: admin})
}

// Me returns the session identity and its edit capability per module.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity := middleware.GetIdentity(c)
	canEdit := map[string]bool{}
	for _, kind := range []models.RecordKind{models.KindApplication, models.KindStory} {
		ok, err := h.editing.CanEdit(c.UserContext(), kind, identity)
		if err != nil {
			return respondError(c, h.log, err)
		}
		canEdit[kind.Module()] = ok
	}
	return c.JSON(dto.MeResponse{Admin: identity, CanEdit: canEdit})
}
