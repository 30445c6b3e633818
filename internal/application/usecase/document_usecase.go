package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/nfse"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

const dateLayout = "2006-01-02"

// Issuer operaciones del orquestador expuestas a la capa de peticiones.
type Issuer interface {
	Submit(ctx context.Context, documentID string) (*entity.FiscalDocument, error)
	Poll(ctx context.Context, documentID string) (*entity.FiscalDocument, error)
	Cancel(ctx context.Context, documentID, reasonCode, reason string) (*entity.FiscalDocument, error)
}

// DocumentUseCase aplica el aislamiento por tenant sobre el orquestador y crea borradores.
type DocumentUseCase struct {
	docs   repository.DocumentRepository
	payers repository.PayerRepository
	issuer Issuer
}

// NewDocumentUseCase construye el caso de uso.
func NewDocumentUseCase(docs repository.DocumentRepository, payers repository.PayerRepository, issuer Issuer) *DocumentUseCase {
	return &DocumentUseCase{docs: docs, payers: payers, issuer: issuer}
}

// Create registra una NFS-e en DRAFT para la empresa del token.
func (uc *DocumentUseCase) Create(ctx context.Context, companyID string, in dto.CreateDocumentRequest) (*dto.DocumentResponse, error) {
	doc, err := uc.buildDraft(ctx, companyID, in)
	if err != nil {
		return nil, err
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("crear documento: %w", err)
	}
	return DocumentToResponse(doc), nil
}

// Get devuelve el documento si pertenece a la empresa.
func (uc *DocumentUseCase) Get(ctx context.Context, companyID, id string) (*dto.DocumentResponse, error) {
	doc, err := uc.owned(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	return DocumentToResponse(doc), nil
}

// Submit envía el documento a la autoridad del tenant.
// En un rechazo devuelve el documento REJECTED junto con el error.
func (uc *DocumentUseCase) Submit(ctx context.Context, companyID, id string) (*dto.DocumentResponse, error) {
	if _, err := uc.owned(ctx, companyID, id); err != nil {
		return nil, err
	}
	doc, err := uc.issuer.Submit(ctx, id)
	return DocumentToResponse(doc), err
}

// Poll consulta a la autoridad el estado de un documento SUBMITTED.
func (uc *DocumentUseCase) Poll(ctx context.Context, companyID, id string) (*dto.DocumentResponse, error) {
	if _, err := uc.owned(ctx, companyID, id); err != nil {
		return nil, err
	}
	doc, err := uc.issuer.Poll(ctx, id)
	return DocumentToResponse(doc), err
}

// Cancel solicita la cancelación de una NFS-e AUTHORIZED.
func (uc *DocumentUseCase) Cancel(ctx context.Context, companyID, id string, in dto.CancelDocumentRequest) (*dto.DocumentResponse, error) {
	if _, err := uc.owned(ctx, companyID, id); err != nil {
		return nil, err
	}
	doc, err := uc.issuer.Cancel(ctx, id, strings.TrimSpace(in.ReasonCode), in.Reason)
	return DocumentToResponse(doc), err
}

// owned carga el documento y verifica que la empresa del token sea la emisora.
func (uc *DocumentUseCase) owned(ctx context.Context, companyID, id string) (*entity.FiscalDocument, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidInput
	}
	doc, err := uc.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if doc.TenantID != companyID {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

func (uc *DocumentUseCase) buildDraft(ctx context.Context, companyID string, in dto.CreateDocumentRequest) (*entity.FiscalDocument, error) {
	var errs []error
	add := func(field, msg string) { errs = append(errs, domain.NewValidationError(field, msg)) }

	issueDate, err := time.Parse(dateLayout, in.IssueDate)
	if err != nil {
		add("issue_date", "formato esperado YYYY-MM-DD")
	}
	competence, err := time.Parse(dateLayout, in.Competence)
	if err != nil {
		add("competence", "formato esperado YYYY-MM-DD")
	}
	var dueDate *time.Time
	if in.DueDate != "" {
		d, err := time.Parse(dateLayout, in.DueDate)
		if err != nil {
			add("due_date", "formato esperado YYYY-MM-DD")
		} else {
			dueDate = &d
		}
	}
	if strings.TrimSpace(in.Description) == "" {
		add("description", "obligatoria")
	}
	if err := pkgnfse.ValidateMunicipalityCode(in.MunicipalityCode); err != nil {
		add("municipality_code", err.Error())
	}
	if in.SequenceNumber <= 0 {
		add("sequence_number", "debe ser mayor que cero")
	}

	if in.PayerID != "" {
		payer, err := uc.payers.GetByID(ctx, in.PayerID)
		if err != nil {
			return nil, fmt.Errorf("cargar tomador: %w", err)
		}
		if payer == nil || payer.TenantID != companyID {
			add("payer_id", "tomador no encontrado")
		}
	}

	items := make([]*entity.DocumentItem, 0, len(in.Items))
	sum := decimal.Zero
	for i, it := range in.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Description) == "" {
			add(field+".description", "obligatoria")
		}
		if !it.Quantity.IsPositive() {
			add(field+".quantity", "debe ser mayor que cero")
		}
		if it.UnitValue.IsNegative() {
			add(field+".unit_value", "no puede ser negativo")
		}
		total := nfse.LineTotal(it.Quantity, it.UnitValue)
		sum = sum.Add(total)
		items = append(items, &entity.DocumentItem{
			ID:          uuid.NewString(),
			Code:        strings.TrimSpace(it.Code),
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitValue:   it.UnitValue,
			Total:       total,
			TaxRate:     it.TaxRate,
		})
	}

	serviceValue := in.ServiceValue
	if len(items) > 0 {
		if serviceValue.IsZero() {
			serviceValue = sum
		} else if !serviceValue.Equal(sum) {
			add("service_value", fmt.Sprintf("no coincide con la suma de los ítems (%s)", sum.StringFixed(2)))
		}
	}
	if !serviceValue.IsPositive() {
		add("service_value", "debe ser mayor que cero")
	}

	doc := &entity.FiscalDocument{
		ID:         uuid.NewString(),
		TenantID:   companyID,
		PayerID:    in.PayerID,
		IssueDate:  issueDate,
		Competence: competence,
		DueDate:    dueDate,

		ServiceValue: serviceValue,
		Deductions:   in.Deductions,
		Withholdings: entity.Withholdings{
			ISS:    in.Withholdings.ISS,
			PIS:    in.Withholdings.PIS,
			COFINS: in.Withholdings.COFINS,
			CSLL:   in.Withholdings.CSLL,
			IRRF:   in.Withholdings.IRRF,
			INSS:   in.Withholdings.INSS,
		},
		Description:      strings.TrimSpace(in.Description),
		MunicipalityCode: in.MunicipalityCode,
		ServiceCode:      strings.TrimSpace(in.ServiceCode),
		Series:           strings.TrimSpace(in.Series),
		SequenceNumber:   in.SequenceNumber,
		Items:            items,
		Status:           entity.StatusDraft,
	}
	for _, it := range items {
		it.DocumentID = doc.ID
	}
	// Solo valida los montos; el ValorLiquido se fija en Submit.
	if _, err := nfse.ComputeNetValue(doc); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return doc, nil
}

// DocumentToResponse mapea la entidad a la respuesta HTTP. nil devuelve nil.
func DocumentToResponse(d *entity.FiscalDocument) *dto.DocumentResponse {
	if d == nil {
		return nil
	}
	out := &dto.DocumentResponse{
		ID:               d.ID,
		TenantID:         d.TenantID,
		PayerID:          d.PayerID,
		Status:           string(d.Status),
		IssueDate:        d.IssueDate.Format(dateLayout),
		Competence:       d.Competence.Format(dateLayout),
		ServiceValue:     d.ServiceValue,
		Deductions:       d.Deductions,
		NetValue:         d.NetValue,
		Description:      d.Description,
		MunicipalityCode: d.MunicipalityCode,
		ServiceCode:      d.ServiceCode,
		Series:           d.Series,
		SequenceNumber:   d.SequenceNumber,
		Withholdings: dto.WithholdingsDTO{
			ISS:    d.Withholdings.ISS,
			PIS:    d.Withholdings.PIS,
			COFINS: d.Withholdings.COFINS,
			CSLL:   d.Withholdings.CSLL,
			IRRF:   d.Withholdings.IRRF,
			INSS:   d.Withholdings.INSS,
		},
		Provider:           d.Provider,
		Environment:        d.Environment,
		AuthorityNumber:    d.AuthorityNumber,
		VerificationCode:   d.VerificationCode,
		ReceiptID:          d.ReceiptID,
		RejectionReason:    d.RejectionReason,
		AmbiguousOutcome:   d.AmbiguousOutcome,
		PollAttempts:       d.PollAttempts,
		SubmittedAt:        d.SubmittedAt,
		AuthorizedAt:       d.AuthorizedAt,
		CancelledAt:        d.CancelledAt,
		CancellationReason: d.CancellationReason,
		Version:            d.Version,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		Items:              make([]dto.DocumentItemResponse, 0, len(d.Items)),
	}
	if d.DueDate != nil {
		out.DueDate = d.DueDate.Format(dateLayout)
	}
	for _, it := range d.Items {
		out.Items = append(out.Items, dto.DocumentItemResponse{
			ID:          it.ID,
			Code:        it.Code,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitValue:   it.UnitValue,
			Total:       it.Total,
			TaxRate:     it.TaxRate,
		})
	}
	return out
}
