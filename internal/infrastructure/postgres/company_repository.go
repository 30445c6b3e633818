package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

// Asegura que CompanyRepo implementa los puertos de empresa.
var (
	_ repository.CompanyRepository = (*CompanyRepo)(nil)
	_ repository.CompanyWriter     = (*CompanyRepo)(nil)
)

// CompanyRepo implementación del puerto CompanyRepository sobre PostgreSQL.
type CompanyRepo struct {
	pool *pgxpool.Pool
}

// NewCompanyRepository construye el adaptador de persistencia para empresas.
func NewCompanyRepository(pool *pgxpool.Pool) *CompanyRepo {
	return &CompanyRepo{pool: pool}
}

// Create persiste una nueva empresa (nfsectl tenant create).
func (r *CompanyRepo) Create(ctx context.Context, company *entity.Company) error {
	query := `
		INSERT INTO companies (id, name, cnpj, municipal_registration, municipality_code, simples_nacional,
		                       email, phone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		company.ID, company.Name, company.CNPJ, company.MunicipalRegistration, company.MunicipalityCode,
		company.SimplesNacional, company.Email, company.Phone, company.Status,
		company.CreatedAt, company.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("empresa con CNPJ %s ya existe: %w", company.CNPJ, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// GetByID obtiene una empresa por ID. (nil, nil) si no existe.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, name, cnpj, municipal_registration, municipality_code, simples_nacional,
		       email, phone, status, created_at, updated_at
		FROM companies WHERE id = $1`
	var c entity.Company
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.CNPJ, &c.MunicipalRegistration, &c.MunicipalityCode, &c.SimplesNacional,
		&c.Email, &c.Phone, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}
