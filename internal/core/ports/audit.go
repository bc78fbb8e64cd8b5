package ports

import (
	"context"

	"github.com/99minutos/identity-system/internal/core/domain"
)

// AuditRepository persists the security audit trail.
type AuditRepository interface {
	InsertEvent(ctx context.Context, event *domain.AuditEvent) error
}

// AuditService processes a single audit event.
type AuditService interface {
	Process(ctx context.Context, event domain.AuditEvent) error
}

// Auditor accepts audit events without blocking the caller.
type Auditor interface {
	Enqueue(event domain.AuditEvent)
}
