package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"orseries/internal/infrastructure/http/v1/dto"
	"orseries/internal/infrastructure/storage/postgres"
)

const defaultHistoryLimit = 50

// AuditHistory reads the audit log.
type AuditHistory interface {
	GetEntityHistory(ctx context.Context, entityType, entityID string, limit int) ([]postgres.AuditEntry, error)
}

// AuditHandler serves the change history of series and OR numbers.
type AuditHandler struct {
	*BaseHandler
	history AuditHistory
}

func NewAuditHandler(base *BaseHandler, history AuditHistory) *AuditHandler {
	return &AuditHandler{BaseHandler: base, history: history}
}

// History returns a handler for GET /<entity>/:id/history.
func (h *AuditHandler) History(entityType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := h.ParseID(c, "id")
		if !ok {
			return
		}
		var q dto.HistoryQuery
		if !h.BindQuery(c, &q) {
			return
		}
		if q.Limit == 0 {
			q.Limit = defaultHistoryLimit
		}

		entries, err := h.history.GetEntityHistory(c.Request.Context(), entityType, strconv.FormatInt(id, 10), q.Limit)
		if err != nil {
			h.Error(c, err)
			return
		}
		h.OK(c, gin.H{"items": dto.FromAuditEntries(entries)})
	}
}
