package repository

import (
	"context"

	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// TenantConfigRepository define el puerto de lectura de la configuración de emisión del tenant.
type TenantConfigRepository interface {
	// GetByTenantID devuelve la configuración activa del tenant, o (nil, nil) si no tiene.
	// Es la consulta crítica antes de seleccionar el proveedor: sin configuración no se emite.
	GetByTenantID(ctx context.Context, tenantID string) (*entity.TenantConfig, error)
}

// TenantConfigWriter alta y modificación de la configuración de emisión (nfsectl).
type TenantConfigWriter interface {
	Upsert(ctx context.Context, cfg *entity.TenantConfig) error
}
