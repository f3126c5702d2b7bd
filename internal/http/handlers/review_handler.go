package handlers

import (
	"context"

	"github.com/admissions-portal/backend/internal/http/dto"
	"github.com/admissions-portal/backend/internal/middleware"
	"github.com/admissions-portal/backend/internal/models"
	"github.com/admissions-portal/backend/internal/repositories"
	"github.com/admissions-portal/backend/internal/review"
	"github.com/admissions-portal/backend/internal/viewers"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReviewService interface {
	Transition(ctx context.Context, ref review.RecordRef, newStatus string, actor models.AdminIdentity) (*models.ReviewableRecord, error)
	Get(ctx context.Context, ref review.RecordRef) (*models.ReviewableRecord, error)
	List(ctx context.Context, kind models.RecordKind, f repositories.RecordFilter) ([]models.ReviewableRecord, error)
}

const boardLimit = 500

// ReviewHandler serves one record kind. Applications and stories each get
// their own instance.
type ReviewHandler struct {
	kind    models.RecordKind
	reviews ReviewService
	viewers viewers.Snapshotter
	log     *zap.Logger
}

func NewReviewHandler(kind models.RecordKind, reviews ReviewService, viewerRegistry viewers.Snapshotter, log *zap.Logger) *ReviewHandler {
	return &ReviewHandler{kind: kind, reviews: reviews, viewers: viewerRegistry, log: log}
}

func (h *ReviewHandler) List(c *fiber.Ctx) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	filter := repositories.RecordFilter{Limit: limit, Offset: offset}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	recs, err := h.reviews.List(c.UserContext(), h.kind, filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: recs})
}

func (h *ReviewHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	rec, err := h.reviews.Get(c.UserContext(), review.RecordRef{Kind: h.kind, ID: id})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *ReviewHandler) Transition(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Status == "" {
		return badRequest(c, "status is required")
	}

	rec, err := h.reviews.Transition(c.UserContext(), review.RecordRef{Kind: h.kind, ID: id}, req.Status, middleware.GetIdentity(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rec})
}

func (h *ReviewHandler) loadBoard(ctx context.Context) (*review.Board, error) {
	recs, err := h.reviews.List(ctx, h.kind, repositories.RecordFilter{Limit: boardLimit})
	if err != nil {
		return nil, err
	}
	board := review.NewBoard(h.kind, h.reviews)
	board.Load(recs)
	return board, nil
}

func (h *ReviewHandler) Board(c *fiber.Ctx) error {
	board, err := h.loadBoard(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: board.Columns()})
}

// MoveCard applies a drag-and-drop and returns the resulting columns.
func (h *ReviewHandler) MoveCard(c *fiber.Ctx) error {
	var req dto.BoardMoveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, err := uuid.Parse(req.RecordID)
	if err != nil {
		return badRequest(c, "invalid record_id")
	}

	board, err := h.loadBoard(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err)
	}
	if err := board.Drop(c.UserContext(), id, req.From, req.To, middleware.GetIdentity(c)); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: board.Columns()})
}

func (h *ReviewHandler) Viewers(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid id")
	}
	snap, err := viewers.Peek(c.UserContext(), h.viewers, id, middleware.GetAdminID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: snap})
}
