package dto

import (
	"encoding/json"
	"time"

	"github.com/samber/lo"

	"orseries/internal/infrastructure/storage/postgres"
)

// HistoryQuery for GET /.../:id/history.
type HistoryQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// AuditEntryResponse is one audit log entry.
type AuditEntryResponse struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	UserID    string          `json:"user_id"`
	UserEmail string          `json:"user_email,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func FromAuditEntries(entries []postgres.AuditEntry) []AuditEntryResponse {
	return lo.Map(entries, func(e postgres.AuditEntry, _ int) AuditEntryResponse {
		return AuditEntryResponse{
			ID:        e.ID.String(),
			Action:    string(e.Action),
			UserID:    e.UserID,
			UserEmail: e.UserEmail,
			RequestID: e.RequestID,
			Changes:   e.Changes,
			CreatedAt: e.CreatedAt,
		}
	})
}
