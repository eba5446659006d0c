package handlers

import (
	"github.com/gin-gonic/gin"

	"orseries/internal/core/apperror"
	"orseries/internal/domain/ornumber"
	"orseries/internal/infrastructure/http/v1/dto"
)

// ORNumberHandler handles HTTP requests for OR number allocation and
// generation records.
type ORNumberHandler struct {
	*BaseHandler
	allocator *ornumber.Service
}

// NewORNumberHandler creates a new OR number handler.
func NewORNumberHandler(base *BaseHandler, allocator *ornumber.Service) *ORNumberHandler {
	return &ORNumberHandler{
		BaseHandler: base,
		allocator:   allocator,
	}
}

// Generate handles POST /or-numbers/generate
func (h *ORNumberHandler) Generate(c *gin.Context) {
	alloc, err := h.allocator.GenerateNextOrNumber(c.Request.Context(), h.UserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromAllocation(alloc))
}

// Validate handles GET /or-numbers/validate?or_number=
func (h *ORNumberHandler) Validate(c *gin.Context) {
	var req dto.ValidateOrNumberQuery
	if !h.BindQuery(c, &req) {
		return
	}

	ok, err := h.allocator.ValidateManualOrNumber(c.Request.Context(), req.OrNumber)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ValidateOrNumberResponse{OrNumber: req.OrNumber, Available: ok})
}

// RegisterManual handles POST /or-numbers/manual
func (h *ORNumberHandler) RegisterManual(c *gin.Context) {
	var req dto.ManualOrNumberRequest
	if !h.BindJSON(c, &req) {
		return
	}

	g, err := h.allocator.RegisterManualOrNumber(c.Request.Context(), h.UserID(c), req.OrNumber, req.Notes)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromGeneration(g))
}

// List handles GET /or-numbers. With or_number set it looks up that exact
// number instead of paging.
func (h *ORNumberHandler) List(c *gin.Context) {
	var req dto.ListGenerationsQuery
	if !h.BindQuery(c, &req) {
		return
	}
	req.Defaults()
	ctx := c.Request.Context()

	if req.OrNumber != "" {
		g, err := h.allocator.FindByOrNumber(ctx, req.OrNumber)
		switch {
		case apperror.IsNotFound(err):
			h.OK(c, dto.NewListResponse[dto.GenerationResponse](nil, 0, req.PageQuery))
		case err != nil:
			h.Error(c, err)
		default:
			h.OK(c, dto.NewListResponse([]dto.GenerationResponse{dto.FromGeneration(g)}, 1, req.PageQuery))
		}
		return
	}

	filter, err := req.ToFilter()
	if err != nil {
		h.Error(c, apperror.NewValidation(err.Error()))
		return
	}
	items, total, err := h.allocator.ListGenerations(ctx, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromGenerationList(items), total, req.PageQuery))
}

// Get handles GET /or-numbers/:id
func (h *ORNumberHandler) Get(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	g, err := h.allocator.GetGeneration(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromGeneration(g))
}

// Use handles POST /or-numbers/:id/use
func (h *ORNumberHandler) Use(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.MarkUsedRequest
	if !h.BindJSON(c, &req) {
		return
	}

	g, err := h.allocator.MarkUsed(c.Request.Context(), id, req.TransactionID)
	h.respond(c, g, err)
}

// Void handles POST /or-numbers/:id/void
func (h *ORNumberHandler) Void(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}

	g, err := h.allocator.Void(c.Request.Context(), id, h.UserID(c), req.Reason)
	h.respond(c, g, err)
}

// Cancel handles POST /or-numbers/:id/cancel
func (h *ORNumberHandler) Cancel(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}

	g, err := h.allocator.Cancel(c.Request.Context(), id, h.UserID(c), req.Reason)
	h.respond(c, g, err)
}

// Expire handles POST /or-numbers/:id/expire
func (h *ORNumberHandler) Expire(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.ReasonRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}

	g, err := h.allocator.Expire(c.Request.Context(), id, req.Reason)
	h.respond(c, g, err)
}

func (h *ORNumberHandler) respond(c *gin.Context, g *ornumber.Generation, err error) {
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromGeneration(g))
}
