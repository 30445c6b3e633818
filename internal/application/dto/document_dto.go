package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateDocumentRequest body para POST /api/documents (crea la NFS-e en DRAFT).
// Si hay ítems y service_value viene en cero, el valor del servicio es la suma de las líneas.
type CreateDocumentRequest struct {
	PayerID          string                `json:"payer_id,omitempty"` // vacío = tomador no identificado
	IssueDate        string                `json:"issue_date"`         // YYYY-MM-DD
	Competence       string                `json:"competence"`         // YYYY-MM-DD
	DueDate          string                `json:"due_date,omitempty"`
	ServiceValue     decimal.Decimal       `json:"service_value"`
	Deductions       decimal.Decimal       `json:"deductions"`
	Withholdings     WithholdingsDTO       `json:"withholdings"`
	Description      string                `json:"description"`
	MunicipalityCode string                `json:"municipality_code"`
	ServiceCode      string                `json:"service_code"`
	Series           string                `json:"series"`
	SequenceNumber   int64                 `json:"sequence_number"`
	Items            []DocumentItemRequest `json:"items"`
}

// WithholdingsDTO retenciones por tributo.
type WithholdingsDTO struct {
	ISS    decimal.Decimal `json:"iss"`
	PIS    decimal.Decimal `json:"pis"`
	COFINS decimal.Decimal `json:"cofins"`
	CSLL   decimal.Decimal `json:"csll"`
	IRRF   decimal.Decimal `json:"irrf"`
	INSS   decimal.Decimal `json:"inss"`
}

// DocumentItemRequest línea de servicio.
type DocumentItemRequest struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// CancelDocumentRequest body para POST /api/documents/:id/cancel.
type CancelDocumentRequest struct {
	ReasonCode string `json:"reason_code"` // cMotivo; vacío = erro na emissão
	Reason     string `json:"reason"`
}

// DocumentResponse NFS-e en respuestas. Los campos de autoridad van vacíos hasta la autorización.
type DocumentResponse struct {
	ID                 string                 `json:"id"`
	TenantID           string                 `json:"tenant_id"`
	PayerID            string                 `json:"payer_id,omitempty"`
	Status             string                 `json:"status"`
	IssueDate          string                 `json:"issue_date"`
	Competence         string                 `json:"competence"`
	DueDate            string                 `json:"due_date,omitempty"`
	ServiceValue       decimal.Decimal        `json:"service_value"`
	Deductions         decimal.Decimal        `json:"deductions"`
	Withholdings       WithholdingsDTO        `json:"withholdings"`
	NetValue           decimal.Decimal        `json:"net_value"`
	Description        string                 `json:"description"`
	MunicipalityCode   string                 `json:"municipality_code"`
	ServiceCode        string                 `json:"service_code"`
	Series             string                 `json:"series"`
	SequenceNumber     int64                  `json:"sequence_number"`
	Provider           string                 `json:"provider,omitempty"`
	Environment        string                 `json:"environment,omitempty"`
	AuthorityNumber    string                 `json:"authority_number,omitempty"`
	VerificationCode   string                 `json:"verification_code,omitempty"`
	ReceiptID          string                 `json:"receipt_id,omitempty"`
	RejectionReason    string                 `json:"rejection_reason,omitempty"`
	AmbiguousOutcome   bool                   `json:"ambiguous_outcome"`
	PollAttempts       int                    `json:"poll_attempts"`
	SubmittedAt        *time.Time             `json:"submitted_at,omitempty"`
	AuthorizedAt       *time.Time             `json:"authorized_at,omitempty"`
	CancelledAt        *time.Time             `json:"cancelled_at,omitempty"`
	CancellationReason string                 `json:"cancellation_reason,omitempty"`
	Version            int                    `json:"version"`
	Items              []DocumentItemResponse `json:"items"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// DocumentItemResponse línea en la respuesta.
type DocumentItemResponse struct {
	ID          string          `json:"id"`
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	Total       decimal.Decimal `json:"total"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// DocumentErrorResponse error de la autoridad acompañado del documento (rechazo).
type DocumentErrorResponse struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Document *DocumentResponse `json:"document,omitempty"`
}
