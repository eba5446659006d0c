// Package domain holds contracts shared by the series registry and the OR number allocator.
package domain

import (
	"context"
)

// Aggregate types used for audit entries and outbox events.
const (
	AggregateSeries   = "transaction_series"
	AggregateORNumber = "or_number_generation"
)

// Event is a domain event written to the transactional outbox.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       any
}

// EventPublisher stores events in the same transaction as the state change.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// AuditAction represents the type of audited operation.
type AuditAction string

const (
	AuditCreate     AuditAction = "create"
	AuditUpdate     AuditAction = "update"
	AuditDelete     AuditAction = "delete"
	AuditActivate   AuditAction = "activate"
	AuditDeactivate AuditAction = "deactivate"
	AuditGenerate   AuditAction = "generate"
	AuditTransition AuditAction = "transition"
)

// AuditRecorder appends to the audit log inside the current transaction.
type AuditRecorder interface {
	LogChange(ctx context.Context, entityType, entityID string, action AuditAction, changes map[string]any) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// NopAudit discards audit entries.
type NopAudit struct{}

func (NopAudit) LogChange(context.Context, string, string, AuditAction, map[string]any) error {
	return nil
}
