package repository

import (
	"context"

	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// CompanyRepository define el puerto de lectura para la empresa emisora (tenant).
// La implementación vive en infrastructure.
type CompanyRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Company, error)
}

// CompanyWriter alta de empresas emisoras (nfsectl tenant create).
type CompanyWriter interface {
	Create(ctx context.Context, company *entity.Company) error
}
