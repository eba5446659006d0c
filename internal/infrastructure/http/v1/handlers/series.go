package handlers

import (
	"github.com/gin-gonic/gin"

	"orseries/internal/domain/ornumber"
	"orseries/internal/domain/series"
	"orseries/internal/infrastructure/http/v1/dto"
)

// SeriesHandler handles HTTP requests for OR series.
type SeriesHandler struct {
	*BaseHandler
	registry  *series.Service
	allocator *ornumber.Service
}

// NewSeriesHandler creates a new series handler.
func NewSeriesHandler(base *BaseHandler, registry *series.Service, allocator *ornumber.Service) *SeriesHandler {
	return &SeriesHandler{
		BaseHandler: base,
		registry:    registry,
		allocator:   allocator,
	}
}

// Create handles POST /series
func (h *SeriesHandler) Create(c *gin.Context) {
	var req dto.CreateSeriesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.registry.CreateSeries(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromSeries(item))
}

// List handles GET /series
func (h *SeriesHandler) List(c *gin.Context) {
	var req dto.ListSeriesQuery
	if !h.BindQuery(c, &req) {
		return
	}
	req.Defaults()

	items, total, err := h.registry.ListSeries(c.Request.Context(), req.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(dto.FromSeriesList(items), total, req.PageQuery))
}

// Active handles GET /series/active
func (h *SeriesHandler) Active(c *gin.Context) {
	item, err := h.registry.GetActiveSeries(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSeries(item))
}

// Get handles GET /series/:id
func (h *SeriesHandler) Get(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	item, err := h.registry.GetSeries(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSeries(item))
}

// Update handles PATCH /series/:id
func (h *SeriesHandler) Update(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateSeriesRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := h.registry.UpdateSeries(c.Request.Context(), id, req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSeries(item))
}

// Delete handles DELETE /series/:id
func (h *SeriesHandler) Delete(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.registry.DeleteSeries(c.Request.Context(), id); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "series deleted")
}

// Activate handles POST /series/:id/activate
func (h *SeriesHandler) Activate(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	item, err := h.registry.ActivateSeries(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSeries(item))
}

// Deactivate handles POST /series/:id/deactivate
func (h *SeriesHandler) Deactivate(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	item, err := h.registry.DeactivateSeries(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSeries(item))
}

// Statistics handles GET /series/:id/statistics
func (h *SeriesHandler) Statistics(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	stats, err := h.allocator.GetSeriesStatistics(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, stats)
}

// ActiveStatistics handles GET /series/active/statistics
func (h *SeriesHandler) ActiveStatistics(c *gin.Context) {
	stats, err := h.allocator.ActiveSeriesStatistics(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, stats)
}

// NearLimit handles GET /series/near-limit
func (h *SeriesHandler) NearLimit(c *gin.Context) {
	warning, err := h.allocator.CheckSeriesNearLimit(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, gin.H{
		"near_limit": warning != nil,
		"warning":    warning,
	})
}
