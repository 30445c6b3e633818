package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// DocumentRepository define el puerto de persistencia para FiscalDocument e ítems.
// GetByID devuelve (nil, nil) si el documento no existe.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.FiscalDocument) error
	GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error)

	// Save persiste el documento de forma atómica respecto a los campos de ciclo de vida.
	// Compare-and-swap sobre doc.Version: si la versión almacenada difiere devuelve
	// domain.ErrVersionConflict. En éxito incrementa doc.Version.
	Save(ctx context.Context, doc *entity.FiscalDocument) error

	// ListSubmitted devuelve documentos en SUBMITTED enviados antes de submittedBefore,
	// del más antiguo al más reciente (consulta del bucle de conciliación).
	ListSubmitted(ctx context.Context, submittedBefore time.Time, limit int) ([]*entity.FiscalDocument, error)

	// ListAmbiguous devuelve documentos SUBMITTED marcados con resultado ambiguo (revisión manual).
	ListAmbiguous(ctx context.Context, limit int) ([]*entity.FiscalDocument, error)
}
