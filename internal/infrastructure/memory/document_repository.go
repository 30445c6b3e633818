// Package memory implementa los repositorios en memoria (modo dev y tests).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepository)(nil)

// DocumentRepository almacena snapshots de FiscalDocument; nunca entrega punteros internos.
type DocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]*entity.FiscalDocument
}

// NewDocumentRepository crea un repositorio vacío.
func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{docs: make(map[string]*entity.FiscalDocument)}
}

// Create persiste un documento nuevo con Version 1. Asigna ID (y de ítems) si vienen vacíos.
func (r *DocumentRepository) Create(_ context.Context, doc *entity.FiscalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	for _, it := range doc.Items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.DocumentID = doc.ID
	}
	if doc.Status == "" {
		doc.Status = entity.StatusDraft
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Version = 1

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; ok {
		return fmt.Errorf("memory: documento %s ya existe", doc.ID)
	}
	r.docs[doc.ID] = doc.Clone()
	return nil
}

// GetByID devuelve una copia del documento o (nil, nil).
func (r *DocumentRepository) GetByID(_ context.Context, id string) (*entity.FiscalDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[id].Clone(), nil
}

// Save compare-and-swap sobre Version.
func (r *DocumentRepository) Save(_ context.Context, doc *entity.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.docs[doc.ID]
	if !ok {
		return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrNotFound)
	}
	if cur.Version != doc.Version {
		return domain.ErrVersionConflict
	}
	doc.Version++
	r.docs[doc.ID] = doc.Clone()
	return nil
}

// ListSubmitted documentos SUBMITTED con SubmittedAt ≤ submittedBefore, más antiguos primero.
func (r *DocumentRepository) ListSubmitted(_ context.Context, submittedBefore time.Time, limit int) ([]*entity.FiscalDocument, error) {
	return r.list(limit, func(d *entity.FiscalDocument) bool {
		return d.SubmittedAt != nil && !d.SubmittedAt.After(submittedBefore)
	}), nil
}

// ListAmbiguous documentos SUBMITTED con resultado ambiguo.
func (r *DocumentRepository) ListAmbiguous(_ context.Context, limit int) ([]*entity.FiscalDocument, error) {
	return r.list(limit, func(d *entity.FiscalDocument) bool { return d.AmbiguousOutcome }), nil
}

func (r *DocumentRepository) list(limit int, match func(*entity.FiscalDocument) bool) []*entity.FiscalDocument {
	r.mu.RLock()
	out := make([]*entity.FiscalDocument, 0)
	for _, d := range r.docs {
		if d.Status == entity.StatusSubmitted && match(d) {
			out = append(out, d.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SubmittedAt, out[j].SubmittedAt
		switch {
		case ti == nil:
			return tj != nil
		case tj == nil:
			return false
		case ti.Equal(*tj):
			return out[i].ID < out[j].ID
		default:
			return ti.Before(*tj)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
