package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus estado del ciclo de vida de una NFS-e.
type DocumentStatus string

// Estados del ciclo de vida.
const (
	StatusDraft      DocumentStatus = "DRAFT"      // Creada por el caller, aún no enviada
	StatusSubmitted  DocumentStatus = "SUBMITTED"  // Recibida por la autoridad, autorización pendiente
	StatusAuthorized DocumentStatus = "AUTHORIZED" // Autorizada: número y código de verificación asignados
	StatusRejected   DocumentStatus = "REJECTED"   // Rechazada por la autoridad (terminal)
	StatusCancelled  DocumentStatus = "CANCELLED"  // Cancelada tras autorización (terminal)
)

// Withholdings retenciones en la fuente discriminadas por tributo.
type Withholdings struct {
	ISS    decimal.Decimal
	PIS    decimal.Decimal
	COFINS decimal.Decimal
	CSLL   decimal.Decimal
	IRRF   decimal.Decimal
	INSS   decimal.Decimal
}

// Total suma de todas las retenciones.
func (w Withholdings) Total() decimal.Decimal {
	return w.ISS.Add(w.PIS).Add(w.COFINS).Add(w.CSLL).Add(w.IRRF).Add(w.INSS)
}

// FiscalDocument representa una nota fiscal de servicio (NFS-e).
// Solo el orquestador modifica los campos de ciclo de vida y de correlación con la autoridad.
type FiscalDocument struct {
	ID       string
	TenantID string // Empresa emisora (prestador)
	PayerID  string // Tomador; vacío = tomador no identificado

	IssueDate        time.Time
	Competence       time.Time  // Período de competencia
	DueDate          *time.Time // nil = sin vencimiento
	ServiceValue     decimal.Decimal
	Deductions       decimal.Decimal
	Withholdings     Withholdings
	NetValue         decimal.Decimal // ValorLiquido; se calcula en Submit
	Description      string          // Discriminación del servicio
	MunicipalityCode string          // Código IBGE del municipio de prestación (7 dígitos)
	ServiceCode      string          // Código de tributación nacional (cTribNac)
	Series           string          // Serie de la DPS
	SequenceNumber   int64           // Número de la DPS
	Items            []*DocumentItem

	// Correlación con la autoridad
	Provider         string // Autoridad usada en el envío (congelada en Submit)
	Environment      string // Ambiente usado en el envío (congelado en Submit)
	AuthorityNumber  string // Numero de la NFS-e
	VerificationCode string // CodigoVerificacao / chave de acesso
	ReceiptID        string // Protocolo / NsNRec devuelto por la autoridad
	AuthorityXML     string // Documento devuelto por la autoridad (forma serializada)
	AuthorityPayload []byte // Documento devuelto por la autoridad (JSON estructurado)
	RejectionReason  string // Texto literal del rechazo

	Status             DocumentStatus
	AmbiguousOutcome   bool // Envío con resultado desconocido; requiere conciliación por consulta
	PollAttempts       int
	LastPolledAt       *time.Time
	SubmittedAt        *time.Time
	AuthorizedAt       *time.Time
	CancelledAt        *time.Time
	CancellationReason string

	Version   int // Control de concurrencia optimista
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone devuelve una copia profunda (snapshot) del documento.
func (d *FiscalDocument) Clone() *FiscalDocument {
	if d == nil {
		return nil
	}
	c := *d
	if d.DueDate != nil {
		t := *d.DueDate
		c.DueDate = &t
	}
	c.LastPolledAt = cloneTime(d.LastPolledAt)
	c.SubmittedAt = cloneTime(d.SubmittedAt)
	c.AuthorizedAt = cloneTime(d.AuthorizedAt)
	c.CancelledAt = cloneTime(d.CancelledAt)
	if d.AuthorityPayload != nil {
		c.AuthorityPayload = append([]byte(nil), d.AuthorityPayload...)
	}
	if d.Items != nil {
		c.Items = make([]*DocumentItem, len(d.Items))
		for i, it := range d.Items {
			cp := *it
			c.Items[i] = &cp
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
