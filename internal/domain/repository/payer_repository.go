package repository

import (
	"context"

	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// PayerRepository define el puerto de lectura para tomadores. GetByID devuelve (nil, nil) si no existe.
type PayerRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Payer, error)
}

// PayerWriter alta y listado de tomadores del tenant (API /api/payers).
type PayerWriter interface {
	Create(ctx context.Context, p *entity.Payer) error
	GetByTenantAndTaxID(ctx context.Context, tenantID, taxID string) (*entity.Payer, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*entity.Payer, error)
}
