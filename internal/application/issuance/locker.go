package issuance

import (
	"context"
	"sync"
)

// DocumentLocker ámbito de exclusión por documento: como máximo una operación que muta el ciclo
// de vida en vuelo por id. Lock bloquea hasta obtener el candado o hasta que ctx termine.
type DocumentLocker interface {
	Lock(ctx context.Context, documentID string) (unlock func(), err error)
}

// MemoryLocker candado por clave dentro del proceso. Suficiente con una sola instancia;
// con varias instancias usar postgres.AdvisoryLocker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewMemoryLocker crea un MemoryLocker vacío.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*lockEntry)}
}

// Lock implementa DocumentLocker.
func (l *MemoryLocker) Lock(ctx context.Context, documentID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[documentID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[documentID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(documentID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(documentID, e)
		})
	}, nil
}

func (l *MemoryLocker) release(documentID string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, documentID)
	}
	l.mu.Unlock()
}
