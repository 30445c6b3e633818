// Package gateway implementa el cliente del intermediario privado de NFS-e: token bearer estático
// por tenant y rutas fijas idénticas en ambos ambientes. La emisión suele responder de forma
// síncrona pero puede quedar en procesamiento.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// Rutas fijas de la API.
const (
	pathIssue    = "/v2/nfse"
	pathCancel   = "/v2/nfse/cancelar"
	pathStatus   = "/v2/nfse/status/"
	pathConsulta = "/v2/nfse/consulta/"
)

// Config configuración del cliente.
type Config struct {
	BaseURL   string
	Transport provider.Options
}

// Client implementa ports.ProviderClient para el intermediario.
type Client struct {
	base string
	t    *provider.Transport
}

var _ ports.ProviderClient = (*Client)(nil)

// NewClient construye el cliente.
func NewClient(cfg Config) *Client {
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		t:    provider.NewTransport(pkgnfse.ProviderGateway, cfg.Transport),
	}
}

// Authority implementa ports.ProviderClient.
func (c *Client) Authority() string { return pkgnfse.ProviderGateway }

// Authenticate no hay intercambio: el token estático del tenant se usa tal cual y nunca expira.
func (c *Client) Authenticate(_ context.Context, creds entity.TenantCredentials) (ports.Token, error) {
	if c.base == "" {
		return ports.Token{}, &domain.ConfigurationError{TenantID: creds.TenantID, Message: "URL del intermediario no configurada"}
	}
	if strings.TrimSpace(creds.StaticToken) == "" {
		return ports.Token{}, &domain.ConfigurationError{TenantID: creds.TenantID, Message: "token del intermediario ausente"}
	}
	return ports.Token{AccessToken: strings.TrimSpace(creds.StaticToken), TokenType: "Bearer"}, nil
}

// Submit emite la NFS-e.
//
//	200/201 AUTORIZADA → Authorized
//	200/201/202 PROCESSANDO → Pending(protocolo)
//	400/422 o REJEITADA → Rejected (mensaje literal)
func (c *Client) Submit(ctx context.Context, req ports.SubmissionRequest, tok ports.Token) (ports.Outcome, error) {
	body, err := buildIssueRequest(req)
	if err != nil {
		return ports.Outcome{}, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("gateway: serializar solicitud: %w", err)
	}
	httpReq, err := provider.NewRequest(ctx, http.MethodPost, c.base+pathIssue, raw, tok.AccessToken)
	if err != nil {
		return ports.Outcome{}, err
	}
	resp, err := c.t.Do(ctx, provider.OpSubmit, httpReq)
	if err != nil {
		return ports.Outcome{}, err
	}

	var r nfseResponse
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if err := json.Unmarshal(resp.Body, &r); err != nil {
			return ports.Outcome{}, &domain.AmbiguousOutcomeError{Authority: c.Authority(), Err: fmt.Errorf("respuesta ilegible: %w", err)}
		}
		return outcomeFrom(r, resp.Body), nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := r.reason()
		if reason == "" {
			reason = strings.TrimSpace(string(resp.Body))
		}
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, Payload: resp.Body}, nil
	default:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := r.reason()
		return ports.Outcome{}, c.t.StatusError(provider.OpSubmit, resp, code, reason)
	}
}

// CheckStatus consulta por protocolo o, sin él, por idIntegracao (= id del documento).
func (c *Client) CheckStatus(ctx context.Context, q ports.StatusQuery, tok ports.Token) (ports.Outcome, error) {
	var target string
	switch {
	case q.ReceiptID != "":
		target = c.base + pathStatus + url.PathEscape(q.ReceiptID)
	case q.Document != nil:
		target = c.base + pathConsulta + url.PathEscape(q.Document.ID)
	default:
		return ports.Outcome{}, fmt.Errorf("gateway: consulta sin protocolo ni documento")
	}

	httpReq, err := provider.NewRequest(ctx, http.MethodGet, target, nil, tok.AccessToken)
	if err != nil {
		return ports.Outcome{}, err
	}
	resp, err := c.t.Do(ctx, provider.OpStatus, httpReq)
	if err != nil {
		return ports.Outcome{}, err
	}

	var r nfseResponse
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.Unmarshal(resp.Body, &r); err != nil {
			return ports.Outcome{}, &domain.TransientNetworkError{Authority: c.Authority(), Err: fmt.Errorf("respuesta ilegible: %w", err)}
		}
		return outcomeFrom(r, resp.Body), nil
	case http.StatusNotFound:
		return ports.Outcome{Kind: ports.OutcomeNotFound}, nil
	default:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := r.reason()
		return ports.Outcome{}, c.t.StatusError(provider.OpStatus, resp, code, reason)
	}
}

// Cancel solicita la cancelación con el número asignado por la autoridad.
func (c *Client) Cancel(ctx context.Context, req ports.CancelRequest, tok ports.Token) (ports.Outcome, error) {
	if req.AuthorityNumber == "" {
		return ports.Outcome{}, domain.NewValidationError("authority_number", "número de la NFS-e ausente; no se puede cancelar")
	}
	body := cancelRequest{
		Protocolo:         req.ReceiptID,
		Numero:            req.AuthorityNumber,
		CodigoVerificacao: req.VerificationCode,
		CodigoMotivo:      req.ReasonCode,
		Motivo:            pkgnfse.SanitizeText(req.Reason, 255),
	}
	if req.Document != nil {
		body.IDIntegracao = req.Document.ID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ports.Outcome{}, fmt.Errorf("gateway: serializar cancelación: %w", err)
	}
	httpReq, err := provider.NewRequest(ctx, http.MethodPost, c.base+pathCancel, raw, tok.AccessToken)
	if err != nil {
		return ports.Outcome{}, err
	}
	resp, err := c.t.Do(ctx, provider.OpCancel, httpReq)
	if err != nil {
		return ports.Outcome{}, err
	}

	var r nfseResponse
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		_ = json.Unmarshal(resp.Body, &r)
		switch r.Situacao {
		case situacaoCancelada, "":
			if resp.StatusCode == http.StatusAccepted {
				return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: r.Protocolo, Payload: resp.Body}, nil
			}
			return ports.Outcome{Kind: ports.OutcomeCancelled, Payload: resp.Body}, nil
		case situacaoProcessando:
			return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: r.Protocolo, Payload: resp.Body}, nil
		default:
			code, reason := r.reason()
			return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, Payload: resp.Body}, nil
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := r.reason()
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, Payload: resp.Body}, nil
	default:
		_ = json.Unmarshal(resp.Body, &r)
		code, reason := r.reason()
		return ports.Outcome{}, c.t.StatusError(provider.OpCancel, resp, code, reason)
	}
}

// outcomeFrom interpreta la situacao. Una respuesta sin situacao pero con número es una autorización.
func outcomeFrom(r nfseResponse, raw []byte) ports.Outcome {
	switch {
	case r.Situacao == situacaoRejeitada:
		code, reason := r.reason()
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: code, Reason: reason, ReceiptID: r.Protocolo, Payload: raw}
	case r.Situacao == situacaoCancelada:
		return ports.Outcome{Kind: ports.OutcomeCancelled, ReceiptID: r.Protocolo, Payload: raw}
	case r.Situacao == situacaoAutorizada, r.Situacao == "" && r.Numero != "":
		return ports.Outcome{
			Kind:             ports.OutcomeAuthorized,
			Number:           r.Numero,
			VerificationCode: r.CodigoVerificacao,
			ReceiptID:        r.Protocolo,
			XML:              r.XML,
			Payload:          raw,
		}
	default:
		return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: r.Protocolo, Payload: raw}
	}
}

func buildIssueRequest(req ports.SubmissionRequest) (*issueRequest, error) {
	doc, issuer := req.Document, req.Issuer
	if doc == nil || issuer == nil {
		return nil, fmt.Errorf("gateway: faltan documento o emisor en la solicitud")
	}
	simples := issuer.SimplesNacional
	w := doc.Withholdings
	out := &issueRequest{
		IDIntegracao: doc.ID,
		Ambiente:     req.Environment,
		DataEmissao:  doc.IssueDate.Format("2006-01-02"),
		Competencia:  doc.Competence.Format("2006-01-02"),
		Serie:        doc.Series,
		Numero:       doc.SequenceNumber,
		Prestador: party{
			CPFCNPJ:            pkgnfse.OnlyDigits(issuer.CNPJ),
			RazaoSocial:        issuer.Name,
			InscricaoMunicipal: issuer.MunicipalRegistration,
			CodigoCidade:       issuer.MunicipalityCode,
			SimplesNacional:    &simples,
			Email:              issuer.Email,
			Telefone:           pkgnfse.OnlyDigits(issuer.Phone),
		},
		Servico: servico{
			Codigo:                 doc.ServiceCode,
			Discriminacao:          pkgnfse.SanitizeText(doc.Description, 2000),
			CodigoCidadeIncidencia: doc.MunicipalityCode,
			Valores: valores{
				Servico:  pkgnfse.FormatAmount(doc.ServiceValue),
				Deducoes: pkgnfse.FormatAmount(doc.Deductions),
				Retencoes: retencoes{
					ISS:    pkgnfse.FormatAmount(w.ISS),
					PIS:    pkgnfse.FormatAmount(w.PIS),
					COFINS: pkgnfse.FormatAmount(w.COFINS),
					CSLL:   pkgnfse.FormatAmount(w.CSLL),
					IRRF:   pkgnfse.FormatAmount(w.IRRF),
					INSS:   pkgnfse.FormatAmount(w.INSS),
				},
				Liquido: pkgnfse.FormatAmount(doc.NetValue),
			},
		},
	}
	if doc.DueDate != nil {
		out.Vencimento = doc.DueDate.Format("2006-01-02")
	}
	for _, it := range doc.Items {
		out.Servico.Itens = append(out.Servico.Itens, item{
			Codigo:        it.Code,
			Descricao:     pkgnfse.SanitizeText(it.Description, 500),
			Quantidade:    it.Quantity.String(),
			ValorUnitario: it.UnitValue.String(),
			ValorTotal:    pkgnfse.FormatAmount(it.Total),
			Aliquota:      it.TaxRate.String(),
		})
	}
	if p := req.Payer; p != nil {
		t := &party{
			CPFCNPJ:      pkgnfse.OnlyDigits(p.TaxID),
			RazaoSocial:  p.Name,
			CodigoCidade: p.MunicipalityCode,
			Email:        p.Email,
			Telefone:     pkgnfse.OnlyDigits(p.Phone),
		}
		if p.Address != "" || p.PostalCode != "" {
			t.Endereco = &address{
				Logradouro:   p.Address,
				CodigoCidade: p.MunicipalityCode,
				CEP:          pkgnfse.OnlyDigits(p.PostalCode),
			}
		}
		out.Tomador = t
	}
	return out, nil
}
