// Package nfse contiene las reglas de dominio de la NFS-e: máquina de estados del ciclo de vida
// e invariantes monetarios. No depende de infraestructura.
package nfse

import (
	"fmt"
	"time"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// Operaciones que mutan el ciclo de vida.
const (
	OpSubmit = "submit"
	OpPoll   = "poll"
	OpCancel = "cancel"
	OpExpire = "expire"
)

// transitions tabla de transiciones permitidas.
//
//	DRAFT → SUBMITTED | AUTHORIZED | REJECTED
//	SUBMITTED → AUTHORIZED | REJECTED
//	AUTHORIZED → CANCELLED
var transitions = map[entity.DocumentStatus][]entity.DocumentStatus{
	entity.StatusDraft:      {entity.StatusSubmitted, entity.StatusAuthorized, entity.StatusRejected},
	entity.StatusSubmitted:  {entity.StatusAuthorized, entity.StatusRejected},
	entity.StatusAuthorized: {entity.StatusCancelled},
}

// requiredState estado de partida exigido por cada operación.
var requiredState = map[string]entity.DocumentStatus{
	OpSubmit: entity.StatusDraft,
	OpPoll:   entity.StatusSubmitted,
	OpCancel: entity.StatusAuthorized,
	OpExpire: entity.StatusSubmitted,
}

// CanTransition indica si from → to es una transición válida.
func CanTransition(from, to entity.DocumentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RequireState devuelve *domain.StaleStateError si doc no está en el estado exigido por op.
func RequireState(doc *entity.FiscalDocument, op string) error {
	want, ok := requiredState[op]
	if !ok {
		return fmt.Errorf("nfse: operación desconocida %q", op)
	}
	if doc.Status != want {
		return &domain.StaleStateError{
			DocumentID: doc.ID,
			Operation:  op,
			Current:    string(doc.Status),
			Required:   []string{string(want)},
		}
	}
	return nil
}

// Transition aplica from → to sobre doc. Nunca deja el documento en un estado no previsto.
func Transition(doc *entity.FiscalDocument, to entity.DocumentStatus, now time.Time) error {
	if !CanTransition(doc.Status, to) {
		return fmt.Errorf("nfse: transición inválida %s → %s (documento %s)", doc.Status, to, doc.ID)
	}
	doc.Status = to
	doc.UpdatedAt = now
	switch to {
	case entity.StatusSubmitted:
		doc.SubmittedAt = &now
	case entity.StatusAuthorized:
		doc.AuthorizedAt = &now
		doc.AmbiguousOutcome = false
	case entity.StatusRejected:
		doc.AmbiguousOutcome = false
	case entity.StatusCancelled:
		doc.CancelledAt = &now
	}
	return nil
}
