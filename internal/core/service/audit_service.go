package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/pkg/metrics"
)

type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService returns an AuditService that persists each event to repo.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// Process writes a single audit event. Events without an action or subject
// are dropped.
func (s *auditService) Process(ctx context.Context, event domain.AuditEvent) error {
	if event.Action == "" || event.Subject == "" {
		metrics.AuditEventsTotal.WithLabelValues(string(event.Action), "dropped").Inc()
		s.log.Debug().Str("action", string(event.Action)).Msg("incomplete audit event dropped")
		return nil
	}

	if err := s.repo.InsertEvent(ctx, &event); err != nil {
		metrics.AuditEventsTotal.WithLabelValues(string(event.Action), "error").Inc()
		return fmt.Errorf("process audit event: %w", err)
	}

	metrics.AuditEventsTotal.WithLabelValues(string(event.Action), "stored").Inc()
	s.log.Debug().
		Str("action", string(event.Action)).
		Str("subject", event.Subject).
		Str("actor", event.Actor).
		Msg("audit event stored")
	return nil
}
