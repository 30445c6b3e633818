package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

var (
	_ repository.PayerRepository = (*PayerRepo)(nil)
	_ repository.PayerWriter     = (*PayerRepo)(nil)
)

const payerColumns = `id, tenant_id, name, tax_id, email, phone, municipality_code, address, postal_code,
		       created_at, updated_at`

// PayerRepo implementación de PayerRepository (usable con pool o tx).
type PayerRepo struct {
	q Querier
}

// NewPayerRepository construye el adaptador. Pasar pool o tx (Querier).
func NewPayerRepository(q Querier) *PayerRepo {
	return &PayerRepo{q: q}
}

// Create persiste un tomador. Un tax_id repetido en el mismo tenant devuelve domain.ErrDuplicate.
func (r *PayerRepo) Create(ctx context.Context, p *entity.Payer) error {
	query := `
		INSERT INTO payers (id, tenant_id, name, tax_id, email, phone, municipality_code, address, postal_code,
		                    created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.Exec(ctx, query,
		p.ID, p.TenantID, p.Name, p.TaxID, p.Email, p.Phone, p.MunicipalityCode, p.Address, p.PostalCode,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert payer: %w", err)
	}
	return nil
}

// GetByID obtiene un tomador por ID.
func (r *PayerRepo) GetByID(ctx context.Context, id string) (*entity.Payer, error) {
	query := `SELECT ` + payerColumns + ` FROM payers WHERE id = $1`
	p, err := scanPayer(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payer: %w", err)
	}
	return p, nil
}

// GetByTenantAndTaxID busca un tomador del tenant por CPF/CNPJ.
func (r *PayerRepo) GetByTenantAndTaxID(ctx context.Context, tenantID, taxID string) (*entity.Payer, error) {
	query := `SELECT ` + payerColumns + ` FROM payers WHERE tenant_id = $1 AND tax_id = $2`
	p, err := scanPayer(r.q.QueryRow(ctx, query, tenantID, taxID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payer by tax_id: %w", err)
	}
	return p, nil
}

// ListByTenant lista los tomadores del tenant ordenados por nombre.
func (r *PayerRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*entity.Payer, error) {
	query := `SELECT ` + payerColumns + `
		FROM payers WHERE tenant_id = $1
		ORDER BY name, id
		LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list payers: %w", err)
	}
	defer rows.Close()
	var list []*entity.Payer
	for rows.Next() {
		p, err := scanPayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payer: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPayer(row pgxScanner) (*entity.Payer, error) {
	var p entity.Payer
	err := row.Scan(
		&p.ID, &p.TenantID, &p.Name, &p.TaxID, &p.Email, &p.Phone, &p.MunicipalityCode, &p.Address, &p.PostalCode,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
