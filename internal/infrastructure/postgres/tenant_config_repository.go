package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

var (
	_ repository.TenantConfigRepository = (*TenantConfigRepo)(nil)
	_ repository.TenantConfigWriter     = (*TenantConfigRepo)(nil)
)

// TenantConfigRepo implementa TenantConfigRepository sobre PostgreSQL.
type TenantConfigRepo struct {
	pool *pgxpool.Pool
}

// NewTenantConfigRepository construye el repositorio.
func NewTenantConfigRepository(pool *pgxpool.Pool) *TenantConfigRepo {
	return &TenantConfigRepo{pool: pool}
}

// GetByTenantID es la consulta crítica antes de emitir.
// Devuelve nil, nil si el tenant no tiene configuración activa: el orquestador falla cerrado.
func (r *TenantConfigRepo) GetByTenantID(ctx context.Context, tenantID string) (*entity.TenantConfig, error) {
	const q = `
		SELECT tenant_id, provider, environment, client_id, client_secret_ref, static_token_ref,
		       certificate_ref, certificate_password_ref, is_active, created_at, updated_at
		FROM tenant_nfse_configs
		WHERE tenant_id = $1 AND is_active = true`
	cfg, err := scanTenantConfig(r.pool.QueryRow(ctx, q, tenantID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant_nfse_config: %w", err)
	}
	return cfg, nil
}

// Upsert crea o reemplaza la configuración del tenant (nfsectl).
func (r *TenantConfigRepo) Upsert(ctx context.Context, cfg *entity.TenantConfig) error {
	const q = `
		INSERT INTO tenant_nfse_configs
			(tenant_id, provider, environment, client_id, client_secret_ref, static_token_ref,
			 certificate_ref, certificate_password_ref, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			provider                 = EXCLUDED.provider,
			environment              = EXCLUDED.environment,
			client_id                = EXCLUDED.client_id,
			client_secret_ref        = EXCLUDED.client_secret_ref,
			static_token_ref         = EXCLUDED.static_token_ref,
			certificate_ref          = EXCLUDED.certificate_ref,
			certificate_password_ref = EXCLUDED.certificate_password_ref,
			is_active                = EXCLUDED.is_active,
			updated_at               = now()`
	_, err := r.pool.Exec(ctx, q,
		cfg.TenantID, cfg.Provider, cfg.Environment, cfg.ClientID, cfg.ClientSecretRef, cfg.StaticTokenRef,
		cfg.CertificateRef, cfg.CertificatePasswordRef, cfg.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant_nfse_config: %w", err)
	}
	return nil
}

func scanTenantConfig(row pgxScanner) (*entity.TenantConfig, error) {
	var c entity.TenantConfig
	err := row.Scan(
		&c.TenantID, &c.Provider, &c.Environment, &c.ClientID, &c.ClientSecretRef, &c.StaticTokenRef,
		&c.CertificateRef, &c.CertificatePasswordRef, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
