package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// PayerUseCase casos de uso para tomadores del servicio.
type PayerUseCase struct {
	repo   repository.PayerRepository
	writer repository.PayerWriter
}

// NewPayerUseCase construye el caso de uso.
func NewPayerUseCase(repo repository.PayerRepository, writer repository.PayerWriter) *PayerUseCase {
	return &PayerUseCase{repo: repo, writer: writer}
}

// Create registra un tomador. El CPF/CNPJ se guarda solo con dígitos y es único por empresa.
func (uc *PayerUseCase) Create(ctx context.Context, companyID string, in dto.CreatePayerRequest) (*dto.PayerResponse, error) {
	name := strings.TrimSpace(in.Name)
	taxID := pkgnfse.OnlyDigits(in.TaxID)
	if name == "" || taxID == "" {
		return nil, fmt.Errorf("name y tax_id son requeridos: %w", domain.ErrInvalidInput)
	}
	if err := pkgnfse.ValidateTaxID(taxID); err != nil {
		return nil, fmt.Errorf("tax_id: %v: %w", err, domain.ErrInvalidInput)
	}
	if in.MunicipalityCode != "" {
		if err := pkgnfse.ValidateMunicipalityCode(in.MunicipalityCode); err != nil {
			return nil, fmt.Errorf("municipality_code: %v: %w", err, domain.ErrInvalidInput)
		}
	}
	existing, err := uc.writer.GetByTenantAndTaxID(ctx, companyID, taxID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("ya existe un tomador con ese CPF/CNPJ: %w", domain.ErrDuplicate)
	}
	now := time.Now().UTC()
	payer := &entity.Payer{
		ID:               uuid.New().String(),
		TenantID:         companyID,
		Name:             name,
		TaxID:            taxID,
		Email:            strings.TrimSpace(in.Email),
		Phone:            strings.TrimSpace(in.Phone),
		MunicipalityCode: in.MunicipalityCode,
		Address:          strings.TrimSpace(in.Address),
		PostalCode:       pkgnfse.OnlyDigits(in.PostalCode),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := uc.writer.Create(ctx, payer); err != nil {
		return nil, err
	}
	return entityToPayerResponse(payer), nil
}

// Get devuelve el tomador si pertenece a la empresa.
func (uc *PayerUseCase) Get(ctx context.Context, companyID, id string) (*dto.PayerResponse, error) {
	p, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	if p.TenantID != companyID {
		return nil, domain.ErrForbidden
	}
	return entityToPayerResponse(p), nil
}

// List lista tomadores de la empresa.
func (uc *PayerUseCase) List(ctx context.Context, companyID string, page dto.PageRequest) (*dto.PayerListResponse, error) {
	page.DefaultPage()
	list, err := uc.writer.ListByTenant(ctx, companyID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	out := &dto.PayerListResponse{
		Items: make([]dto.PayerResponse, 0, len(list)),
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset},
	}
	for _, p := range list {
		out.Items = append(out.Items, *entityToPayerResponse(p))
	}
	return out, nil
}

func entityToPayerResponse(p *entity.Payer) *dto.PayerResponse {
	return &dto.PayerResponse{
		ID:               p.ID,
		TenantID:         p.TenantID,
		Name:             p.Name,
		TaxID:            p.TaxID,
		Email:            p.Email,
		Phone:            p.Phone,
		MunicipalityCode: p.MunicipalityCode,
		Address:          p.Address,
		PostalCode:       p.PostalCode,
	}
}
