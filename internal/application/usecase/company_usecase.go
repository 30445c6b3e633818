package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// CompanyUseCase perfil de la empresa del token y su configuración de emisión.
type CompanyUseCase struct {
	companies repository.CompanyRepository
	configs   repository.TenantConfigRepository
	writer    repository.TenantConfigWriter
}

// NewCompanyUseCase construye el caso de uso con los puertos de persistencia.
func NewCompanyUseCase(companies repository.CompanyRepository, configs repository.TenantConfigRepository, writer repository.TenantConfigWriter) *CompanyUseCase {
	return &CompanyUseCase{companies: companies, configs: configs, writer: writer}
}

// Get devuelve la empresa emisora.
func (uc *CompanyUseCase) Get(ctx context.Context, companyID string) (*dto.CompanyResponse, error) {
	company, err := uc.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}
	return entityToCompanyResponse(company), nil
}

// GetNFSeConfig devuelve la configuración activa. Sin configuración activa: domain.ErrNotFound.
func (uc *CompanyUseCase) GetNFSeConfig(ctx context.Context, companyID string) (*dto.NFSeConfigResponse, error) {
	cfg, err := uc.configs.GetByTenantID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrNotFound
	}
	return entityToNFSeConfigResponse(cfg), nil
}

// SetNFSeConfig crea o reemplaza la configuración de emisión de la empresa.
func (uc *CompanyUseCase) SetNFSeConfig(ctx context.Context, companyID string, in dto.NFSeConfigRequest) (*dto.NFSeConfigResponse, error) {
	company, err := uc.companies.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	cfg := &entity.TenantConfig{
		TenantID:               companyID,
		Provider:               strings.ToUpper(strings.TrimSpace(in.Provider)),
		Environment:            strings.TrimSpace(in.Environment),
		ClientID:               strings.TrimSpace(in.ClientID),
		ClientSecretRef:        strings.TrimSpace(in.ClientSecretRef),
		StaticTokenRef:         strings.TrimSpace(in.StaticTokenRef),
		CertificateRef:         strings.TrimSpace(in.CertificateRef),
		CertificatePasswordRef: strings.TrimSpace(in.CertificatePasswordRef),
		IsActive:               !in.Inactive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := ValidateTenantConfig(cfg); err != nil {
		return nil, err
	}
	if err := uc.writer.Upsert(ctx, cfg); err != nil {
		return nil, fmt.Errorf("guardar configuración: %w", err)
	}
	return entityToNFSeConfigResponse(cfg), nil
}

// ValidateTenantConfig reglas de alta de la configuración: proveedor conocido, ambiente válido y
// las referencias que exige cada autoridad.
func ValidateTenantConfig(cfg *entity.TenantConfig) error {
	if !pkgnfse.ValidProviders[cfg.Provider] {
		return fmt.Errorf("proveedor %q inválido: %w", cfg.Provider, domain.ErrInvalidInput)
	}
	if cfg.Environment != entity.EnvironmentHomologacao && cfg.Environment != entity.EnvironmentProducao {
		return fmt.Errorf("ambiente %q inválido (homologacao|producao): %w", cfg.Environment, domain.ErrInvalidInput)
	}
	switch cfg.Provider {
	case pkgnfse.ProviderNacional:
		if cfg.ClientID == "" || cfg.ClientSecretRef == "" || cfg.CertificateRef == "" {
			return fmt.Errorf("%s requiere client_id, client_secret_ref y certificate_ref: %w", cfg.Provider, domain.ErrInvalidInput)
		}
	case pkgnfse.ProviderGateway:
		if cfg.StaticTokenRef == "" {
			return fmt.Errorf("%s requiere static_token_ref: %w", cfg.Provider, domain.ErrInvalidInput)
		}
	}
	return nil
}

func entityToCompanyResponse(c *entity.Company) *dto.CompanyResponse {
	return &dto.CompanyResponse{
		ID:                    c.ID,
		Name:                  c.Name,
		CNPJ:                  c.CNPJ,
		MunicipalRegistration: c.MunicipalRegistration,
		MunicipalityCode:      c.MunicipalityCode,
		SimplesNacional:       c.SimplesNacional,
		Email:                 c.Email,
		Phone:                 c.Phone,
		Status:                c.Status,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func entityToNFSeConfigResponse(c *entity.TenantConfig) *dto.NFSeConfigResponse {
	return &dto.NFSeConfigResponse{
		Provider:        c.Provider,
		Environment:     c.Environment,
		ClientID:        c.ClientID,
		HasClientSecret: c.ClientSecretRef != "",
		HasStaticToken:  c.StaticTokenRef != "",
		HasCertificate:  c.CertificateRef != "",
		IsActive:        c.IsActive,
		UpdatedAt:       c.UpdatedAt,
	}
}
