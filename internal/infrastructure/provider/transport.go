// Package provider contiene el transporte HTTP compartido por los clientes de autoridades NFS-e:
// límite de tasa, detección de "solicitud escrita" y normalización de errores a la taxonomía del dominio.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jhoicas/nfse-emissor/internal/domain"
)

// Op tipo de operación; decide cómo se clasifica una falla.
type Op string

const (
	OpAuth   Op = "auth"
	OpSubmit Op = "submit"
	OpStatus Op = "status"
	OpCancel Op = "cancel"
)

// maxBody tope de lectura de respuestas de la autoridad.
const maxBody = 16 << 20

// Response respuesta completa (cuerpo ya leído).
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Options configuración del transporte.
type Options struct {
	HTTPClient *http.Client // nil = cliente con transporte por defecto
	RPS        float64      // llamadas por segundo; <= 0 sin límite
	Burst      int
	Logger     zerolog.Logger
}

// Transport ejecuta solicitudes HTTP hacia una autoridad.
type Transport struct {
	authority string
	http      *http.Client
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// NewTransport crea el transporte de authority.
func NewTransport(authority string, opts Options) *Transport {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Transport{
		authority: authority,
		http:      hc,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    opts.Logger.With().Str("authority", authority).Logger(),
	}
}

// HTTPClient cliente subyacente (para librerías que aceptan *http.Client, p. ej. oauth2).
func (t *Transport) HTTPClient() *http.Client { return t.http }

// Authority identificador de la autoridad.
func (t *Transport) Authority() string { return t.authority }

// Wait espera turno en el limitador. Un fallo aquí significa que nada se envió.
func (t *Transport) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return &domain.TransientNetworkError{Authority: t.authority, Err: err}
	}
	return nil
}

// Do envía req y lee la respuesta completa. Los errores de transporte ya vienen normalizados:
//
//   - la solicitud no llegó a escribirse (dial, DNS, TLS, ctx terminado antes) → TransientNetworkError
//   - se escribió y no hubo respuesta (timeout, reset, ctx cancelado) → AmbiguousOutcomeError en
//     OpSubmit, TransientNetworkError en el resto
//
// Los códigos HTTP no se interpretan aquí: ver StatusError.
func (t *Transport) Do(ctx context.Context, op Op, req *http.Request) (*Response, error) {
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, t.transportError(op, err, wrote.Load())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		// Hubo respuesta pero se perdió el cuerpo: la autoridad procesó algo.
		return nil, t.transportError(op, err, true)
	}

	t.logger.Debug().
		Str("op", string(op)).
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("llamada a la autoridad")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (t *Transport) transportError(op Op, err error, wrote bool) error {
	if wrote && op == OpSubmit {
		t.logger.Warn().Err(err).Msg("solicitud de envío escrita sin respuesta")
		return &domain.AmbiguousOutcomeError{Authority: t.authority, Err: err}
	}
	return &domain.TransientNetworkError{Authority: t.authority, Err: err}
}

// StatusError normaliza un código HTTP no exitoso. detail es el mensaje ya extraído del cuerpo.
//
//	401/403                     → AuthenticationError
//	408/425/429/503             → TransientNetworkError (no procesado)
//	500/502/504 y otros 5xx     → AmbiguousOutcomeError en OpSubmit, TransientNetworkError en el resto
//	otros 4xx                   → AuthorityRejectedError
func (t *Transport) StatusError(op Op, resp *Response, code, detail string) error {
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode, detail)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthenticationError{Authority: t.authority, Message: detail, Err: cause}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		return &domain.TransientNetworkError{Authority: t.authority, Err: cause}
	case resp.StatusCode >= 500:
		if op == OpSubmit {
			return &domain.AmbiguousOutcomeError{Authority: t.authority, Err: cause}
		}
		return &domain.TransientNetworkError{Authority: t.authority, Err: cause}
	case resp.StatusCode >= 400:
		return &domain.AuthorityRejectedError{Authority: t.authority, Code: code, Reason: detail}
	default:
		return fmt.Errorf("%s: respuesta inesperada HTTP %d", t.authority, resp.StatusCode)
	}
}

// NewRequest construye una solicitud con cuerpo JSON opcional y token bearer.
func NewRequest(ctx context.Context, method, url string, body []byte, bearer string) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("provider: construir solicitud: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}
