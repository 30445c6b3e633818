// Package simulated autoridad simulada para modo dev: nunca llama a un web service real.
// Respuestas deterministas a partir del id del documento, de modo que reenvíos y consultas de
// respaldo producen siempre el mismo resultado.
package simulated

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// RejectMarker si la descripción del documento lo contiene, la autoridad simulada rechaza.
const RejectMarker = "[rechazar]"

// tokenTTL vida de los tokens simulados.
const tokenTTL = time.Hour

// Config configuración de la autoridad simulada.
type Config struct {
	Async  bool // true = Submit devuelve Pending y la autorización llega por consulta
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Client implementa ports.ProviderClient sin red.
type Client struct {
	async  bool
	clock  clockwork.Clock
	logger zerolog.Logger
}

var _ ports.ProviderClient = (*Client)(nil)

// NewClient construye la autoridad simulada.
func NewClient(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Client{async: cfg.Async, clock: cfg.Clock, logger: cfg.Logger.With().Str("authority", pkgnfse.ProviderSimulated).Logger()}
}

// Authority implementa ports.ProviderClient.
func (c *Client) Authority() string { return pkgnfse.ProviderSimulated }

// Authenticate emite un token de una hora.
func (c *Client) Authenticate(_ context.Context, creds entity.TenantCredentials) (ports.Token, error) {
	return ports.Token{
		AccessToken: "sim-" + creds.TenantID,
		TokenType:   "Bearer",
		ExpiresAt:   c.clock.Now().Add(tokenTTL),
	}, nil
}

// Submit autoriza (o deja pendiente en modo asíncrono).
func (c *Client) Submit(ctx context.Context, req ports.SubmissionRequest, _ ports.Token) (ports.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return ports.Outcome{}, &domain.TransientNetworkError{Authority: c.Authority(), Err: err}
	}
	doc := req.Document
	if doc == nil {
		return ports.Outcome{}, fmt.Errorf("simulated: solicitud sin documento")
	}
	c.logger.Info().Str("document_id", doc.ID).Bool("async", c.async).Msg("[DEV] simulando envío, no se llama a la autoridad")

	if strings.Contains(strings.ToLower(doc.Description), RejectMarker) {
		return rejected(), nil
	}
	if c.async {
		return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: receiptID(doc.ID)}, nil
	}
	return c.authorized(doc), nil
}

// CheckStatus cualquier envío conocido queda autorizado en la primera consulta.
func (c *Client) CheckStatus(ctx context.Context, q ports.StatusQuery, _ ports.Token) (ports.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return ports.Outcome{}, &domain.TransientNetworkError{Authority: c.Authority(), Err: err}
	}
	doc := q.Document
	if doc == nil {
		return ports.Outcome{Kind: ports.OutcomeNotFound}, nil
	}
	if q.ReceiptID != "" && q.ReceiptID != receiptID(doc.ID) {
		return ports.Outcome{Kind: ports.OutcomeNotFound}, nil
	}
	if strings.Contains(strings.ToLower(doc.Description), RejectMarker) {
		return rejected(), nil
	}
	return c.authorized(doc), nil
}

// Cancel siempre confirma.
func (c *Client) Cancel(ctx context.Context, req ports.CancelRequest, _ ports.Token) (ports.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return ports.Outcome{}, &domain.TransientNetworkError{Authority: c.Authority(), Err: err}
	}
	if req.AuthorityNumber == "" {
		return ports.Outcome{}, domain.NewValidationError("authority_number", "número de la NFS-e ausente")
	}
	return ports.Outcome{Kind: ports.OutcomeCancelled}, nil
}

func (c *Client) authorized(doc *entity.FiscalDocument) ports.Outcome {
	sum := sha256.Sum256([]byte(doc.ID))
	return ports.Outcome{
		Kind:             ports.OutcomeAuthorized,
		Number:           fmt.Sprintf("%d%09d", c.clock.Now().Year(), doc.SequenceNumber),
		VerificationCode: strings.ToUpper(hex.EncodeToString(sum[:4])),
		ReceiptID:        receiptID(doc.ID),
	}
}

func rejected() ports.Outcome {
	return ports.Outcome{Kind: ports.OutcomeRejected, Code: "SIM-001", Reason: "Rechazo simulado solicitado en la descripción"}
}

// receiptID protocolo determinista (UUID v5 sobre el id del documento).
func receiptID(documentID string) string {
	return "SIM-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("nfse:"+documentID)).String()
}
