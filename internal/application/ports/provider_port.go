package ports

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// ProviderClient define el puerto de salida hacia una autoridad de NFS-e.
// Cada autoridad (nacional, intermediario, simulada) implementa este contrato; el orquestador
// nunca conoce el protocolo concreto.
//
// Los errores devueltos son siempre tipos de la taxonomía de internal/domain
// (AuthenticationError, AmbiguousOutcomeError, AuthorityRejectedError, TransientNetworkError,
// ConfigurationError). Las implementaciones no guardan estado por documento y son seguras para
// uso concurrente.
type ProviderClient interface {
	// Authority identificador estable de la autoridad (ver pkg/nfse).
	Authority() string
	// Authenticate realiza el intercambio de credenciales y devuelve un token.
	Authenticate(ctx context.Context, creds entity.TenantCredentials) (Token, error)
	// Submit envía el documento.
	Submit(ctx context.Context, req SubmissionRequest, tok Token) (Outcome, error)
	// CheckStatus consulta el resultado de un envío.
	CheckStatus(ctx context.Context, q StatusQuery, tok Token) (Outcome, error)
	// Cancel solicita la cancelación de una NFS-e autorizada.
	Cancel(ctx context.Context, req CancelRequest, tok Token) (Outcome, error)
}

// Token credencial de acceso obtenida de la autoridad. ExpiresAt cero = no expira (token estático).
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// ValidAt indica si el token sigue siendo usable en now dejando margin de seguridad.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// OutcomeKind variante del resultado devuelto por la autoridad.
type OutcomeKind string

const (
	OutcomeAuthorized OutcomeKind = "AUTHORIZED" // NFS-e autorizada (número + código de verificación)
	OutcomePending    OutcomeKind = "PENDING"    // Recibida, en procesamiento
	OutcomeRejected   OutcomeKind = "REJECTED"   // Rechazada por la autoridad
	OutcomeNotFound   OutcomeKind = "NOT_FOUND"  // La autoridad no conoce el envío
	OutcomeCancelled  OutcomeKind = "CANCELLED"  // Cancelación confirmada
)

// Outcome resultado etiquetado de una llamada a la autoridad.
// Los campos que no aplican a Kind quedan vacíos.
type Outcome struct {
	Kind             OutcomeKind
	Number           string // Numero de la NFS-e
	VerificationCode string // CodigoVerificacao / chave de acesso
	ReceiptID        string // Protocolo de recepción
	Code             string // Código de rechazo de la autoridad
	Reason           string // Texto literal del rechazo
	XML              string // Documento devuelto (forma serializada)
	Payload          []byte // Respuesta estructurada (JSON)
}

// SubmissionRequest solicitud de emisión neutral respecto a la autoridad.
// Document es un snapshot con NetValue ya calculado; Payer es nil si el tomador no está identificado.
type SubmissionRequest struct {
	Document    *entity.FiscalDocument
	Issuer      *entity.Company
	Payer       *entity.Payer
	Environment string
	Certificate *tls.Certificate // nil si la autoridad no exige firma
}

// StatusQuery consulta de estado. Si ReceiptID está vacío la autoridad usa su búsqueda alternativa
// a partir de Document e Issuer.
type StatusQuery struct {
	ReceiptID   string
	Document    *entity.FiscalDocument
	Issuer      *entity.Company
	Environment string
}

// CancelRequest solicitud de cancelación de una NFS-e autorizada.
type CancelRequest struct {
	Document         *entity.FiscalDocument
	Issuer           *entity.Company
	AuthorityNumber  string
	VerificationCode string
	ReceiptID        string
	ReasonCode       string // cMotivo (pkg/nfse.CancelReason*)
	Reason           string
	Environment      string
	Certificate      *tls.Certificate
}

// SecretSource entrega secretos descifrados a partir de una referencia.
type SecretSource interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// CertificateSource carga el certificado digital del tenant (PKCS#12) a partir de sus referencias.
type CertificateSource interface {
	Load(ctx context.Context, certRef, passwordRef string) (tls.Certificate, error)
}
