// Package nacional implementa el cliente de la autoridad nacional de NFS-e (Sefin Nacional):
// OAuth2 client-credentials, DPS firmada (XMLDSig) comprimida en GZip+Base64, recepción
// asíncrona con protocolo y consulta por protocolo o por Id de la DPS.
package nacional

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// Endpoints URLs de un ambiente.
type Endpoints struct {
	TokenURL string
	BaseURL  string // sin barra final, p. ej. https://sefin.producaorestrita.nfse.gov.br/SefinNacional
}

// Config configuración del cliente.
type Config struct {
	Homologacao Endpoints
	Producao    Endpoints
	Scopes      []string
	AppVersion  string
	Signer      pkgnfse.Signer
	Transport   provider.Options
	Now         func() time.Time
}

// Client implementa ports.ProviderClient para la autoridad nacional.
type Client struct {
	cfg Config
	t   *provider.Transport
}

var _ ports.ProviderClient = (*Client)(nil)

// NewClient construye el cliente.
func NewClient(cfg Config) *Client {
	if cfg.AppVersion == "" {
		cfg.AppVersion = "nfse-emissor"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{cfg: cfg, t: provider.NewTransport(pkgnfse.ProviderNacional, cfg.Transport)}
}

// Authority implementa ports.ProviderClient.
func (c *Client) Authority() string { return pkgnfse.ProviderNacional }

func (c *Client) endpoints(tenantID, env string) (Endpoints, error) {
	var ep Endpoints
	switch env {
	case entity.EnvironmentProducao:
		ep = c.cfg.Producao
	case entity.EnvironmentHomologacao:
		ep = c.cfg.Homologacao
	default:
		return ep, &domain.ConfigurationError{TenantID: tenantID, Message: fmt.Sprintf("ambiente %q inválido", env)}
	}
	if ep.BaseURL == "" || ep.TokenURL == "" {
		return ep, &domain.ConfigurationError{TenantID: tenantID, Message: "URLs de la autoridad nacional no configuradas para " + env}
	}
	ep.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	return ep, nil
}

// ── Autenticación ─────────────────────────────────────────────────────────────

// Authenticate intercambia client id/secret del tenant por un token OAuth2.
func (c *Client) Authenticate(ctx context.Context, creds entity.TenantCredentials) (ports.Token, error) {
	ep, err := c.endpoints(creds.TenantID, creds.Environment)
	if err != nil {
		return ports.Token{}, err
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return ports.Token{}, &domain.ConfigurationError{TenantID: creds.TenantID, Message: "client id/secret de la autoridad nacional ausentes"}
	}
	if err := c.t.Wait(ctx); err != nil {
		return ports.Token{}, err
	}

	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     ep.TokenURL,
		Scopes:       c.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, c.t.HTTPClient()))
	if err != nil {
		return ports.Token{}, c.authError(err)
	}
	return ports.Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType, ExpiresAt: tok.Expiry}, nil
}

func (c *Client) authError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return &domain.TransientNetworkError{Authority: c.Authority(), Err: err}
		}
		msg := re.ErrorCode
		if re.ErrorDescription != "" {
			msg += ": " + re.ErrorDescription
		}
		if msg == "" {
			msg = "intercambio client-credentials rechazado"
		}
		return &domain.AuthenticationError{Authority: c.Authority(), Message: msg, Err: err}
	}
	return &domain.TransientNetworkError{Authority: c.Authority(), Err: err}
}

// ── Envío ─────────────────────────────────────────────────────────────────────

// Submit firma y envía la DPS.
//
//	201 → Authorized (chave de acesso + XML de la NFS-e)
//	202 → Pending (protocolo)
//	400/422 → Rejected (erros de la autoridad, literales)
func (c *Client) Submit(ctx context.Context, req ports.SubmissionRequest, tok ports.Token) (ports.Outcome, error) {
	tenantID := ""
	if req.Document != nil {
		tenantID = req.Document.TenantID
	}
	ep, err := c.endpoints(tenantID, req.Environment)
	if err != nil {
		return ports.Outcome{}, err
	}
	if req.Certificate == nil || c.cfg.Signer == nil {
		return ports.Outcome{}, &domain.ConfigurationError{TenantID: tenantID, Message: "la autoridad nacional exige certificado digital"}
	}

	xmlBytes, id, err := BuildDPS(req, c.cfg.Now(), c.cfg.AppVersion)
	if err != nil {
		return ports.Outcome{}, err
	}
	signed, err := c.cfg.Signer.Sign(xmlBytes, id, *req.Certificate)
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("nacional: firmar DPS %s: %w", id, err)
	}
	payload, err := gzipB64(signed)
	if err != nil {
		return ports.Outcome{}, err
	}
	body, err := json.Marshal(dpsRequest{DPSXMLGZipB64: payload})
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("nacional: serializar solicitud: %w", err)
	}

	httpReq, err := provider.NewRequest(ctx, http.MethodPost, ep.BaseURL+"/dps", body, tok.AccessToken)
	if err != nil {
		return ports.Outcome{}, err
	}
	resp, err := c.t.Do(ctx, provider.OpSubmit, httpReq)
	if err != nil {
		return ports.Outcome{}, err
	}

	var r dpsResponse
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK, http.StatusAccepted:
		if err := json.Unmarshal(resp.Body, &r); err != nil {
			// La autoridad aceptó pero no se puede leer el resultado.
			return ports.Outcome{}, &domain.AmbiguousOutcomeError{Authority: c.Authority(), Err: fmt.Errorf("respuesta ilegible: %w", err)}
		}
		return c.classify(r, resp.StatusCode == http.StatusAccepted, resp.Body), nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := joinMessages(r.Erros)
		if reason == "" {
			reason = strings.TrimSpace(string(resp.Body))
		}
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, Payload: resp.Body}, nil
	default:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := joinMessages(r.Erros)
		return ports.Outcome{}, c.t.StatusError(provider.OpSubmit, resp, code, reason)
	}
}

// ── Consulta ──────────────────────────────────────────────────────────────────

// CheckStatus consulta por protocolo; sin protocolo busca por el Id determinista de la DPS.
func (c *Client) CheckStatus(ctx context.Context, q ports.StatusQuery, tok ports.Token) (ports.Outcome, error) {
	tenantID := ""
	if q.Document != nil {
		tenantID = q.Document.TenantID
	}
	ep, err := c.endpoints(tenantID, q.Environment)
	if err != nil {
		return ports.Outcome{}, err
	}

	var target string
	if q.ReceiptID != "" {
		target = ep.BaseURL + "/dps/" + url.PathEscape(q.ReceiptID)
	} else {
		if q.Document == nil || q.Issuer == nil {
			return ports.Outcome{}, fmt.Errorf("nacional: consulta sin protocolo requiere documento y emisor")
		}
		id, err := dpsID(q.Document, q.Issuer)
		if err != nil {
			return ports.Outcome{}, err
		}
		target = ep.BaseURL + "/dps/id/" + id
	}

	httpReq, err := provider.NewRequest(ctx, http.MethodGet, target, nil, tok.AccessToken)
	if err != nil {
		return ports.Outcome{}, err
	}
	resp, err := c.t.Do(ctx, provider.OpStatus, httpReq)
	if err != nil {
		return ports.Outcome{}, err
	}

	var r dpsResponse
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(resp.Body, &r); err != nil {
			return ports.Outcome{}, &domain.TransientNetworkError{Authority: c.Authority(), Err: fmt.Errorf("respuesta ilegible: %w", err)}
		}
		return c.classify(r, false, resp.Body), nil
	case http.StatusNotFound:
		return ports.Outcome{Kind: ports.OutcomeNotFound}, nil
	default:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := joinMessages(r.Erros)
		return ports.Outcome{}, c.t.StatusError(provider.OpStatus, resp, code, reason)
	}
}

// ── Cancelación ───────────────────────────────────────────────────────────────

// Cancel registra el evento de cancelación (e101101) sobre la chave de acesso.
func (c *Client) Cancel(ctx context.Context, req ports.CancelRequest, tok ports.Token) (ports.Outcome, error) {
	tenantID := ""
	if req.Document != nil {
		tenantID = req.Document.TenantID
	}
	ep, err := c.endpoints(tenantID, req.Environment)
	if err != nil {
		return ports.Outcome{}, err
	}
	if req.VerificationCode == "" {
		return ports.Outcome{}, domain.NewValidationError("verification_code", "chave de acesso ausente; no se puede cancelar")
	}
	if req.Certificate == nil || c.cfg.Signer == nil {
		return ports.Outcome{}, &domain.ConfigurationError{TenantID: tenantID, Message: "la autoridad nacional exige certificado digital"}
	}

	xmlBytes, id, err := BuildCancelEvent(req, c.cfg.Now(), c.cfg.AppVersion)
	if err != nil {
		return ports.Outcome{}, err
	}
	signed, err := c.cfg.Signer.Sign(xmlBytes, id, *req.Certificate)
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("nacional: firmar evento %s: %w", id, err)
	}
	payload, err := gzipB64(signed)
	if err != nil {
		return ports.Outcome{}, err
	}
	body, err := json.Marshal(eventRequest{PedidoRegistroEventoXMLGZipB64: payload})
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("nacional: serializar evento: %w", err)
	}

	target := ep.BaseURL + "/nfse/" + url.PathEscape(req.VerificationCode) + "/eventos"
	httpReq, err := provider.NewRequest(ctx, http.MethodPost, target, body, tok.AccessToken)
	if err != nil {
		return ports.Outcome{}, err
	}
	resp, err := c.t.Do(ctx, provider.OpCancel, httpReq)
	if err != nil {
		return ports.Outcome{}, err
	}

	var r eventResponse
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return ports.Outcome{Kind: ports.OutcomeCancelled, Payload: resp.Body}, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusNotFound, http.StatusConflict:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := joinMessages(r.Erros)
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, Payload: resp.Body}, nil
	default:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := joinMessages(r.Erros)
		return ports.Outcome{}, c.t.StatusError(provider.OpCancel, resp, code, reason)
	}
}

// classify interpreta una respuesta de DPS según situacao. accepted indica HTTP 202.
func (c *Client) classify(r dpsResponse, accepted bool, raw []byte) ports.Outcome {
	switch {
	case r.Situacao == situacaoRejeitada || (r.ChaveAcesso == "" && len(r.Erros) > 0):
		code, reason := joinMessages(r.Erros)
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, ReceiptID: r.Protocolo, Payload: raw}
	case accepted, r.Situacao == situacaoProcessando, r.ChaveAcesso == "":
		return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: r.Protocolo, Payload: raw}
	default:
		return c.outcomeFrom(r, raw)
	}
}

// outcomeFrom convierte una respuesta con chave de acesso en Authorized. El número de la NFS-e se
// lee del XML devuelto (nNFSe).
func (c *Client) outcomeFrom(r dpsResponse, raw []byte) ports.Outcome {
	out := ports.Outcome{
		Kind:             ports.OutcomeAuthorized,
		VerificationCode: r.ChaveAcesso,
		ReceiptID:        r.Protocolo,
		Payload:          raw,
	}
	if r.NFSeXMLGZipB64 == "" {
		return out
	}
	xmlBytes, err := unGzipB64(r.NFSeXMLGZipB64)
	if err != nil {
		return out
	}
	out.XML = string(xmlBytes)
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err == nil {
		if n := doc.FindElement(".//nNFSe"); n != nil {
			out.Number = strings.TrimSpace(n.Text())
		}
	}
	return out
}
