// Package issuance contiene el orquestador de emisión de NFS-e: la máquina de estados que lleva un
// documento de DRAFT a un resultado terminal a través de la autoridad configurada por el tenant.
package issuance

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/credential"
	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/nfse"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// DefaultNotFoundGrace tiempo desde el envío durante el cual un "no encontrado" se considera
// retraso de la autoridad y no rechazo.
const DefaultNotFoundGrace = 24 * time.Hour

// TokenBroker puerto del broker de credenciales.
type TokenBroker interface {
	GetToken(ctx context.Context, cfg *entity.TenantConfig, auth credential.Authenticator) (ports.Token, error)
	Invalidate(tenantID, authority, environment string)
}

// Deps dependencias del orquestador.
type Deps struct {
	Documents repository.DocumentRepository
	Configs   repository.TenantConfigRepository
	Companies repository.CompanyRepository
	Payers    repository.PayerRepository
	Selector  *Selector
	Broker    TokenBroker
	Certs     ports.CertificateSource // nil = ningún tenant firma
	Locker    DocumentLocker
}

// Config parámetros del orquestador.
type Config struct {
	NotFoundGrace time.Duration
	Clock         clockwork.Clock
	Logger        zerolog.Logger
}

// Orchestrator dueño del ciclo de vida de FiscalDocument. Todas las operaciones:
//
//	lock(id) → cargar snapshot → validar estado → llamar autoridad → transición → Save (CAS) → unlock
//
// Nunca ramifica por identidad de la autoridad: solo por Outcome y por tipo de error.
type Orchestrator struct {
	docs      repository.DocumentRepository
	configs   repository.TenantConfigRepository
	companies repository.CompanyRepository
	payers    repository.PayerRepository
	selector  *Selector
	broker    TokenBroker
	certs     ports.CertificateSource
	locker    DocumentLocker
	grace     time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger
}

// NewOrchestrator construye el orquestador. Locker nil usa un MemoryLocker.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if cfg.NotFoundGrace <= 0 {
		cfg.NotFoundGrace = DefaultNotFoundGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		docs:      deps.Documents,
		configs:   deps.Configs,
		companies: deps.Companies,
		payers:    deps.Payers,
		selector:  deps.Selector,
		broker:    deps.Broker,
		certs:     deps.Certs,
		locker:    deps.Locker,
		grace:     cfg.NotFoundGrace,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With().Str("component", "issuance").Logger(),
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Submit
// ═══════════════════════════════════════════════════════════════════════════════

// Submit envía un documento en DRAFT a la autoridad del tenant.
//
//   - Authorized → AUTHORIZED con número, código de verificación y payloads.
//   - Pending → SUBMITTED con el protocolo; la autorización llega por Poll.
//   - Rejected → REJECTED; devuelve el documento y *domain.AuthorityRejectedError.
//   - AuthenticationError → una sola invalidación + reintento; si persiste, DRAFT sin cambios.
//   - TransientNetworkError → DRAFT sin cambios.
//   - AmbiguousOutcomeError → SUBMITTED sin protocolo y con AmbiguousOutcome; no es error para el
//     llamador y nunca se reenvía.
//   - Otro resultado con respuesta 2xx → igual que AmbiguousOutcomeError, conservando el protocolo.
func (o *Orchestrator) Submit(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	unlock, err := o.lock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := o.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := nfse.RequireState(doc, nfse.OpSubmit); err != nil {
		return doc, err
	}

	cfg, err := o.tenantConfig(ctx, doc.TenantID)
	if err != nil {
		return doc, err
	}
	binding, err := o.selector.Select(cfg)
	if err != nil {
		return doc, err
	}
	company, err := o.company(ctx, doc.TenantID)
	if err != nil {
		return doc, err
	}
	payer, err := o.payer(ctx, doc)
	if err != nil {
		return doc, err
	}
	if err := nfse.ValidateForSubmission(doc, company, payer); err != nil {
		return doc, err
	}
	net, err := nfse.ComputeNetValue(doc)
	if err != nil {
		return doc, err
	}

	work := doc.Clone()
	work.NetValue = net
	req := ports.SubmissionRequest{
		Document:    work.Clone(),
		Issuer:      company,
		Payer:       payer,
		Environment: cfg.Environment,
	}
	if req.Certificate, err = o.certificate(ctx, cfg); err != nil {
		return doc, err
	}

	log := o.logger.With().Str("document_id", doc.ID).Str("tenant_id", doc.TenantID).
		Str("provider", binding.Provider).Logger()

	outcome, callErr := o.call(ctx, cfg, binding, func(ctx context.Context, tok ports.Token) (ports.Outcome, error) {
		return binding.Client.Submit(ctx, req, tok)
	})

	now := o.now()
	work.Provider = binding.Provider
	work.Environment = cfg.Environment

	var ambiguous *domain.AmbiguousOutcomeError
	switch {
	case errors.As(callErr, &ambiguous):
		// La solicitud pudo llegar a la autoridad: se marca para conciliación, nunca se reenvía.
		work.ReceiptID = ""
		work.AmbiguousOutcome = true
		if err := nfse.Transition(work, entity.StatusSubmitted, now); err != nil {
			return doc, err
		}
		log.Warn().Err(callErr).Msg("envío con resultado ambiguo, pendiente de conciliación")
		return o.save(ctx, doc, work, log)

	case callErr != nil:
		log.Warn().Err(callErr).Str("kind", string(domain.KindOf(callErr))).Msg("envío fallido, documento sigue en DRAFT")
		return doc, callErr
	}

	var rejected error
	switch outcome.Kind {
	case ports.OutcomeAuthorized:
		applyAuthorization(work, outcome)
		err = nfse.Transition(work, entity.StatusAuthorized, now)
	case ports.OutcomePending:
		work.ReceiptID = outcome.ReceiptID
		if outcome.Payload != nil {
			work.AuthorityPayload = outcome.Payload
		}
		err = nfse.Transition(work, entity.StatusSubmitted, now)
	case ports.OutcomeRejected:
		work.RejectionReason = outcome.Reason
		work.AuthorityPayload = outcome.Payload
		err = nfse.Transition(work, entity.StatusRejected, now)
		rejected = &domain.AuthorityRejectedError{Authority: binding.Client.Authority(), Code: outcome.Code, Reason: outcome.Reason}
	default:
		// La autoridad respondió 2xx con un resultado que no sabemos interpretar: el documento
		// puede existir allá, así que se trata como ambiguo y se concilia por consulta.
		work.ReceiptID = outcome.ReceiptID
		work.AmbiguousOutcome = true
		if outcome.Payload != nil {
			work.AuthorityPayload = outcome.Payload
		}
		err = nfse.Transition(work, entity.StatusSubmitted, now)
		log.Warn().Str("outcome", string(outcome.Kind)).Msg("resultado de envío inesperado, pendiente de conciliación")
	}
	if err != nil {
		return doc, err
	}

	saved, err := o.save(ctx, doc, work, log)
	if err != nil {
		return saved, err
	}
	return saved, rejected
}

// ═══════════════════════════════════════════════════════════════════════════════
// Poll
// ═══════════════════════════════════════════════════════════════════════════════

// Poll consulta el resultado de un documento SUBMITTED con la autoridad y el ambiente congelados
// en el envío. Pending no cambia el estado; NotFound pasado el período de gracia rechaza.
// Cancelled (anulada en la autoridad sin autorización local) rechaza con el motivo recibido.
// Cualquier fallo posterior a la verificación de estado cuenta como intento.
func (o *Orchestrator) Poll(ctx context.Context, documentID string) (*entity.FiscalDocument, error) {
	unlock, err := o.lock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := o.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := nfse.RequireState(doc, nfse.OpPoll); err != nil {
		return doc, err
	}

	log := o.logger.With().Str("document_id", doc.ID).Str("tenant_id", doc.TenantID).
		Str("provider", doc.Provider).Logger()

	cfg, binding, err := o.frozenBinding(ctx, doc)
	if err != nil {
		return o.pollFailed(ctx, doc, err, log)
	}
	company, err := o.company(ctx, doc.TenantID)
	if err != nil {
		return o.pollFailed(ctx, doc, err, log)
	}

	query := ports.StatusQuery{
		ReceiptID:   doc.ReceiptID,
		Document:    doc.Clone(),
		Issuer:      company,
		Environment: cfg.Environment,
	}
	outcome, callErr := o.call(ctx, cfg, binding, func(ctx context.Context, tok ports.Token) (ports.Outcome, error) {
		return binding.Client.CheckStatus(ctx, query, tok)
	})
	if callErr != nil {
		return o.pollFailed(ctx, doc, callErr, log)
	}

	now := o.now()
	work := doc.Clone()
	work.PollAttempts++
	work.LastPolledAt = &now
	work.UpdatedAt = now

	switch outcome.Kind {
	case ports.OutcomeAuthorized:
		applyAuthorization(work, outcome)
		err = nfse.Transition(work, entity.StatusAuthorized, now)
	case ports.OutcomeRejected:
		work.RejectionReason = outcome.Reason
		if outcome.Payload != nil {
			work.AuthorityPayload = outcome.Payload
		}
		err = nfse.Transition(work, entity.StatusRejected, now)
	case ports.OutcomeCancelled:
		// Nunca se autorizó localmente: la nota no tiene efecto fiscal para nosotros.
		work.RejectionReason = cancelledReason(outcome)
		if outcome.Payload != nil {
			work.AuthorityPayload = outcome.Payload
		}
		err = nfse.Transition(work, entity.StatusRejected, now)
	case ports.OutcomePending:
		if work.ReceiptID == "" && outcome.ReceiptID != "" {
			work.ReceiptID = outcome.ReceiptID
			work.AmbiguousOutcome = false
		}
	case ports.OutcomeNotFound:
		if work.SubmittedAt != nil && now.Sub(*work.SubmittedAt) >= o.grace {
			work.RejectionReason = fmt.Sprintf("documento no encontrado en la autoridad tras %s", o.grace)
			err = nfse.Transition(work, entity.StatusRejected, now)
		}
	default:
		return o.pollFailed(ctx, doc,
			fmt.Errorf("issuance: resultado %q inesperado en consulta del documento %s", outcome.Kind, doc.ID), log)
	}
	if err != nil {
		return doc, err
	}
	return o.save(ctx, doc, work, log)
}

// pollFailed registra el intento sin cambiar el estado y devuelve cause. Toda consulta que pasó
// la verificación de estado cuenta para el tope de intentos del conciliador.
func (o *Orchestrator) pollFailed(ctx context.Context, doc *entity.FiscalDocument, cause error, log zerolog.Logger) (*entity.FiscalDocument, error) {
	now := o.now()
	work := doc.Clone()
	work.PollAttempts++
	work.LastPolledAt = &now
	work.UpdatedAt = now

	saved, err := o.save(ctx, doc, work, log)
	if err != nil {
		log.Error().Err(err).Msg("no se pudo registrar el intento de consulta")
		saved = doc
	}
	log.Warn().Err(cause).Str("kind", string(domain.KindOf(cause))).Int("attempt", work.PollAttempts).
		Msg("consulta de estado fallida")
	return saved, cause
}

func cancelledReason(out ports.Outcome) string {
	if out.Reason != "" {
		return "cancelada en la autoridad: " + out.Reason
	}
	return "cancelada en la autoridad antes de la autorización local"
}

// ═══════════════════════════════════════════════════════════════════════════════
// Cancel
// ═══════════════════════════════════════════════════════════════════════════════

// Cancel solicita la cancelación de una NFS-e AUTHORIZED. Solo una confirmación explícita de la
// autoridad lleva a CANCELLED; cualquier otro resultado deja el estado sin cambios.
func (o *Orchestrator) Cancel(ctx context.Context, documentID, reasonCode, reason string) (*entity.FiscalDocument, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "motivo de cancelación obligatorio")
	}
	if reasonCode == "" {
		reasonCode = pkgnfse.CancelReasonErroEmissao
	}
	if !pkgnfse.ValidCancelReasons[reasonCode] {
		return nil, domain.NewValidationError("reason_code", fmt.Sprintf("código de motivo %q inválido", reasonCode))
	}

	unlock, err := o.lock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := o.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := nfse.RequireState(doc, nfse.OpCancel); err != nil {
		return doc, err
	}

	cfg, binding, err := o.frozenBinding(ctx, doc)
	if err != nil {
		return doc, err
	}
	company, err := o.company(ctx, doc.TenantID)
	if err != nil {
		return doc, err
	}
	req := ports.CancelRequest{
		Document:         doc.Clone(),
		Issuer:           company,
		AuthorityNumber:  doc.AuthorityNumber,
		VerificationCode: doc.VerificationCode,
		ReceiptID:        doc.ReceiptID,
		ReasonCode:       reasonCode,
		Reason:           reason,
		Environment:      cfg.Environment,
	}
	if req.Certificate, err = o.certificate(ctx, cfg); err != nil {
		return doc, err
	}

	log := o.logger.With().Str("document_id", doc.ID).Str("tenant_id", doc.TenantID).
		Str("provider", binding.Provider).Logger()

	outcome, err := o.call(ctx, cfg, binding, func(ctx context.Context, tok ports.Token) (ports.Outcome, error) {
		return binding.Client.Cancel(ctx, req, tok)
	})
	if err != nil {
		log.Warn().Err(err).Msg("cancelación fallida, estado sin cambios")
		return doc, err
	}

	switch outcome.Kind {
	case ports.OutcomeCancelled:
	case ports.OutcomeRejected:
		return doc, &domain.AuthorityRejectedError{Authority: binding.Client.Authority(), Code: outcome.Code, Reason: outcome.Reason}
	case ports.OutcomePending:
		return doc, &domain.TransientNetworkError{
			Authority: binding.Client.Authority(),
			Err:       errors.New("cancelación en procesamiento en la autoridad; reintentar"),
		}
	default:
		return doc, fmt.Errorf("issuance: resultado %q inesperado en cancelación del documento %s", outcome.Kind, doc.ID)
	}

	work := doc.Clone()
	work.CancellationReason = reason
	if outcome.Payload != nil {
		work.AuthorityPayload = outcome.Payload
	}
	if err := nfse.Transition(work, entity.StatusCancelled, o.now()); err != nil {
		return doc, err
	}
	return o.save(ctx, doc, work, log)
}

// ═══════════════════════════════════════════════════════════════════════════════
// Expire
// ═══════════════════════════════════════════════════════════════════════════════

// Expire rechaza un documento SUBMITTED que superó el tope de conciliación. No llama a la autoridad.
func (o *Orchestrator) Expire(ctx context.Context, documentID, reason string) (*entity.FiscalDocument, error) {
	unlock, err := o.lock(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := o.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := nfse.RequireState(doc, nfse.OpExpire); err != nil {
		return doc, err
	}
	work := doc.Clone()
	work.RejectionReason = reason
	if err := nfse.Transition(work, entity.StatusRejected, o.now()); err != nil {
		return doc, err
	}
	log := o.logger.With().Str("document_id", doc.ID).Str("tenant_id", doc.TenantID).Logger()
	return o.save(ctx, doc, work, log)
}

// ── helpers privados ──────────────────────────────────────────────────────────

func (o *Orchestrator) now() time.Time { return o.clock.Now().UTC() }

func (o *Orchestrator) lock(ctx context.Context, documentID string) (func(), error) {
	unlock, err := o.locker.Lock(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("issuance: lock del documento %s: %w", documentID, err)
	}
	return unlock, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	doc, err := o.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("issuance: cargar documento %s: %w", id, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("documento %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (o *Orchestrator) tenantConfig(ctx context.Context, tenantID string) (*entity.TenantConfig, error) {
	cfg, err := o.configs.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("issuance: cargar configuración del tenant %s: %w", tenantID, err)
	}
	if cfg == nil {
		return nil, &domain.ConfigurationError{TenantID: tenantID, Message: "tenant sin configuración de emisión"}
	}
	return cfg, nil
}

// frozenBinding usa la autoridad y el ambiente registrados en el documento al enviarlo, con las
// credenciales actuales del tenant.
func (o *Orchestrator) frozenBinding(ctx context.Context, doc *entity.FiscalDocument) (*entity.TenantConfig, Binding, error) {
	cfg, err := o.tenantConfig(ctx, doc.TenantID)
	if err != nil {
		return nil, Binding{}, err
	}
	if doc.Provider == "" {
		b, err := o.selector.Select(cfg)
		return cfg, b, err
	}
	frozen := *cfg
	frozen.Provider = doc.Provider
	if doc.Environment != "" {
		frozen.Environment = doc.Environment
	}
	b, err := o.selector.SelectFor(doc.TenantID, doc.Provider)
	return &frozen, b, err
}

func (o *Orchestrator) company(ctx context.Context, tenantID string) (*entity.Company, error) {
	c, err := o.companies.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("issuance: cargar empresa %s: %w", tenantID, err)
	}
	if c == nil {
		return nil, &domain.ConfigurationError{TenantID: tenantID, Message: "empresa emisora no registrada"}
	}
	return c, nil
}

func (o *Orchestrator) payer(ctx context.Context, doc *entity.FiscalDocument) (*entity.Payer, error) {
	if doc.PayerID == "" || o.payers == nil {
		return nil, nil
	}
	p, err := o.payers.GetByID(ctx, doc.PayerID)
	if err != nil {
		return nil, fmt.Errorf("issuance: cargar tomador %s: %w", doc.PayerID, err)
	}
	if p == nil {
		return nil, domain.NewValidationError("payer_id", fmt.Sprintf("tomador %s no encontrado", doc.PayerID))
	}
	return p, nil
}

func (o *Orchestrator) certificate(ctx context.Context, cfg *entity.TenantConfig) (*tls.Certificate, error) {
	if cfg.CertificateRef == "" || o.certs == nil {
		return nil, nil
	}
	cert, err := o.certs.Load(ctx, cfg.CertificateRef, cfg.CertificatePasswordRef)
	if err != nil {
		return nil, &domain.ConfigurationError{TenantID: cfg.TenantID, Message: "certificado digital no utilizable: " + err.Error()}
	}
	return &cert, nil
}

// call ejecuta op con el token del broker bajo el timeout de la autoridad. Ante un
// AuthenticationError invalida el token y reintenta exactamente una vez.
func (o *Orchestrator) call(
	ctx context.Context,
	cfg *entity.TenantConfig,
	b Binding,
	op func(ctx context.Context, tok ports.Token) (ports.Outcome, error),
) (ports.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	tok, err := o.token(ctx, cfg, b)
	if err != nil {
		return ports.Outcome{}, err
	}
	out, err := op(ctx, tok)

	var authErr *domain.AuthenticationError
	if !errors.As(err, &authErr) {
		return out, err
	}
	o.logger.Info().Str("tenant_id", cfg.TenantID).Str("provider", b.Provider).
		Msg("credencial rechazada por la autoridad, renovando token")
	o.broker.Invalidate(cfg.TenantID, b.Client.Authority(), cfg.Environment)
	if tok, err = o.token(ctx, cfg, b); err != nil {
		return ports.Outcome{}, err
	}
	return op(ctx, tok)
}

// token obtiene el token; si ctx terminó antes de tener credencial, nada se envió.
func (o *Orchestrator) token(ctx context.Context, cfg *entity.TenantConfig, b Binding) (ports.Token, error) {
	tok, err := o.broker.GetToken(ctx, cfg, b.Client)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return tok, &domain.TransientNetworkError{Authority: b.Client.Authority(), Err: err}
	}
	return tok, err
}

// save persiste work con CAS de versión. Usa un contexto desacoplado del llamador: un resultado
// obtenido de la autoridad no se pierde porque el llamador se desconecte.
func (o *Orchestrator) save(ctx context.Context, before, work *entity.FiscalDocument, log zerolog.Logger) (*entity.FiscalDocument, error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.docs.Save(saveCtx, work); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			current := "desconocido"
			if fresh, gErr := o.docs.GetByID(saveCtx, work.ID); gErr == nil && fresh != nil {
				current = string(fresh.Status)
			}
			return before, &domain.StaleStateError{
				DocumentID: work.ID,
				Operation:  "save",
				Current:    current,
				Required:   []string{string(before.Status)},
			}
		}
		log.Error().Err(err).Str("to", string(work.Status)).Msg("no se pudo persistir el documento")
		return before, fmt.Errorf("issuance: guardar documento %s: %w", work.ID, err)
	}
	if before.Status != work.Status {
		log.Info().
			Str("from", string(before.Status)).
			Str("to", string(work.Status)).
			Bool("ambiguous", work.AmbiguousOutcome).
			Str("receipt_id", work.ReceiptID).
			Msg("transición de estado")
	}
	return work, nil
}

func applyAuthorization(doc *entity.FiscalDocument, out ports.Outcome) {
	doc.AuthorityNumber = out.Number
	doc.VerificationCode = out.VerificationCode
	if out.ReceiptID != "" {
		doc.ReceiptID = out.ReceiptID
	}
	doc.AuthorityXML = out.XML
	doc.AuthorityPayload = out.Payload
	doc.RejectionReason = ""
}
