package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrForbidden    = errors.New("acceso denegado")
	ErrDuplicate    = errors.New("registro duplicado")

	// ErrValidation agrupa los errores que nunca se reintentan: contenido inválido
	// o documento fuera del estado exigido por la operación.
	ErrValidation = errors.New("validación fallida")

	// ErrVersionConflict lo devuelve el repositorio cuando falla el compare-and-swap de versión.
	ErrVersionConflict = errors.New("documento modificado concurrentemente")
)

// ErrorKind clasifica un error dentro de la taxonomía del orquestador.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidation        ErrorKind = "VALIDATION"
	KindStaleState        ErrorKind = "STALE_STATE"
	KindAuthentication    ErrorKind = "AUTHENTICATION"
	KindAmbiguousOutcome  ErrorKind = "AMBIGUOUS_OUTCOME"
	KindAuthorityRejected ErrorKind = "AUTHORITY_REJECTED"
	KindTransientNetwork  ErrorKind = "TRANSIENT_NETWORK"
	KindConfiguration     ErrorKind = "CONFIGURATION"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInternal          ErrorKind = "INTERNAL"
)

// ── Tipos de la taxonomía ────────────────────────────────────────────────────────

// ValidationError contenido del documento inválido para emisión.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validación: " + e.Message
	}
	return fmt.Sprintf("validación: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError construye un ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StaleStateError la operación exige un estado de partida que el documento ya no tiene.
// También satisface errors.Is(err, ErrValidation): nunca se reintenta.
type StaleStateError struct {
	DocumentID string
	Operation  string
	Current    string
	Required   []string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("documento %s: %s exige estado %s, estado actual %s",
		e.DocumentID, e.Operation, strings.Join(e.Required, "|"), e.Current)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrValidation }

// AuthenticationError la autoridad rechazó la credencial (expirada o inválida).
type AuthenticationError struct {
	Authority string
	Message   string
	Err       error
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("%s: credencial rechazada: %s", e.Authority, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AmbiguousOutcomeError falla de red durante el envío con efecto desconocido en la autoridad.
// Nunca provoca un reenvío; solo una consulta de estado lo resuelve.
type AmbiguousOutcomeError struct {
	Authority string
	Err       error
}

func (e *AmbiguousOutcomeError) Error() string {
	return fmt.Sprintf("%s: resultado del envío desconocido: %v", e.Authority, e.Err)
}

func (e *AmbiguousOutcomeError) Unwrap() error { return e.Err }

// AuthorityRejectedError la autoridad rechazó el documento. Reason se conserva literal.
type AuthorityRejectedError struct {
	Authority string
	Code      string
	Reason    string
}

func (e *AuthorityRejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: rechazado [%s]: %s", e.Authority, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: rechazado: %s", e.Authority, e.Reason)
}

// TransientNetworkError timeout o fallo de conexión sin efecto en la autoridad
// (o sobre una operación idempotente). Se puede reintentar con backoff.
type TransientNetworkError struct {
	Authority string
	Err       error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: fallo transitorio de red: %v", e.Authority, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ConfigurationError el tenant no tiene configuración de proveedor utilizable. Falla cerrado.
type ConfigurationError struct {
	TenantID string
	Message  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuración del tenant %s: %s", e.TenantID, e.Message)
}

// ── Clasificación ─────────────────────────────────────────────────────────────

// KindOf clasifica err en la taxonomía. nil devuelve KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		stale     *StaleStateError
		valErr    *ValidationError
		authErr   *AuthenticationError
		ambErr    *AmbiguousOutcomeError
		rejErr    *AuthorityRejectedError
		transErr  *TransientNetworkError
		configErr *ConfigurationError
	)
	switch {
	case errors.As(err, &stale):
		return KindStaleState
	case errors.As(err, &valErr), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &ambErr):
		return KindAmbiguousOutcome
	case errors.As(err, &rejErr):
		return KindAuthorityRejected
	case errors.As(err, &transErr):
		return KindTransientNetwork
	case errors.As(err, &configErr):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
