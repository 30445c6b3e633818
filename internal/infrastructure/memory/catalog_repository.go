package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

var (
	_ repository.CompanyRepository      = (*CompanyRepository)(nil)
	_ repository.CompanyWriter          = (*CompanyRepository)(nil)
	_ repository.PayerRepository        = (*PayerRepository)(nil)
	_ repository.PayerWriter            = (*PayerRepository)(nil)
	_ repository.TenantConfigRepository = (*TenantConfigRepository)(nil)
	_ repository.TenantConfigWriter     = (*TenantConfigRepository)(nil)
)

// CompanyRepository empresas emisoras en memoria.
type CompanyRepository struct {
	mu    sync.RWMutex
	items map[string]entity.Company
}

// NewCompanyRepository crea el repositorio vacío.
func NewCompanyRepository() *CompanyRepository {
	return &CompanyRepository{items: make(map[string]entity.Company)}
}

// Put agrega o reemplaza una empresa.
func (r *CompanyRepository) Put(c *entity.Company) {
	r.mu.Lock()
	r.items[c.ID] = *c
	r.mu.Unlock()
}

// Create agrega una empresa; el CNPJ es único.
func (r *CompanyRepository) Create(_ context.Context, c *entity.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.CNPJ == c.CNPJ {
			return domain.ErrDuplicate
		}
	}
	r.items[c.ID] = *c
	return nil
}

func (r *CompanyRepository) GetByID(_ context.Context, id string) (*entity.Company, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// PayerRepository tomadores en memoria.
type PayerRepository struct {
	mu    sync.RWMutex
	items map[string]entity.Payer
}

// NewPayerRepository crea el repositorio vacío.
func NewPayerRepository() *PayerRepository {
	return &PayerRepository{items: make(map[string]entity.Payer)}
}

func (r *PayerRepository) Put(p *entity.Payer) {
	r.mu.Lock()
	r.items[p.ID] = *p
	r.mu.Unlock()
}

func (r *PayerRepository) GetByID(_ context.Context, id string) (*entity.Payer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Create agrega un tomador; el tax_id es único por tenant.
func (r *PayerRepository) Create(_ context.Context, p *entity.Payer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.TenantID == p.TenantID && existing.TaxID == p.TaxID {
			return domain.ErrDuplicate
		}
	}
	r.items[p.ID] = *p
	return nil
}

func (r *PayerRepository) GetByTenantAndTaxID(_ context.Context, tenantID, taxID string) (*entity.Payer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.TenantID == tenantID && p.TaxID == taxID {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// ListByTenant ordena por nombre e id, como la consulta SQL.
func (r *PayerRepository) ListByTenant(_ context.Context, tenantID string, limit, offset int) ([]*entity.Payer, error) {
	r.mu.RLock()
	var list []*entity.Payer
	for _, p := range r.items {
		if p.TenantID == tenantID {
			cp := p
			list = append(list, &cp)
		}
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	if offset >= len(list) {
		return nil, nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// TenantConfigRepository configuraciones de emisión en memoria.
type TenantConfigRepository struct {
	mu    sync.RWMutex
	items map[string]entity.TenantConfig
}

// NewTenantConfigRepository crea el repositorio vacío; solo devuelve configuraciones activas.
func NewTenantConfigRepository() *TenantConfigRepository {
	return &TenantConfigRepository{items: make(map[string]entity.TenantConfig)}
}

func (r *TenantConfigRepository) Put(c *entity.TenantConfig) {
	r.mu.Lock()
	r.items[c.TenantID] = *c
	r.mu.Unlock()
}

// Upsert crea o reemplaza la configuración del tenant.
func (r *TenantConfigRepository) Upsert(_ context.Context, c *entity.TenantConfig) error {
	r.Put(c)
	return nil
}

// GetByTenantID devuelve solo configuraciones activas, como la implementación postgres.
func (r *TenantConfigRepository) GetByTenantID(_ context.Context, tenantID string) (*entity.TenantConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[tenantID]
	if !ok || !c.IsActive {
		return nil, nil
	}
	return &c, nil
}
