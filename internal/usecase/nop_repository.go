package usecase

import (
	"context"

	"github.com/example/face-verify/internal/repository"
)

// NopRepository is used when no database is configured. Logs are dropped.
type NopRepository struct{}

func (NopRepository) SaveLog(context.Context, *repository.VerificationLog) error { return nil }

func (NopRepository) FindByRequestIDAndUser(context.Context, string, string) (*repository.VerificationLog, error) {
	return nil, ErrResultNotFound
}

func (NopRepository) AggregateMetrics(context.Context) (*repository.MetricsAggregation, error) {
	return nil, ErrAuditDisabled
}
