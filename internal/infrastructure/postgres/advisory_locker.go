package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// lockNamespace prefijo de las claves de advisory lock de documentos.
const lockNamespace = "nfse:doc:"

// AdvisoryLocker exclusión por documento entre instancias con pg_advisory_lock de sesión.
// Cada candado retiene una conexión del pool hasta el unlock.
type AdvisoryLocker struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewAdvisoryLocker construye el locker.
func NewAdvisoryLocker(pool *pgxpool.Pool, logger zerolog.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, logger: logger}
}

// Lock bloquea hasta obtener el candado del documento o hasta que ctx termine.
func (l *AdvisoryLocker) Lock(ctx context.Context, documentID string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock: acquire conn: %w", err)
	}
	key := lockNamespace + documentID
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		// Si la espera se canceló la sesión puede quedar con el lock: descartar la conexión.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", documentID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			var ok bool
			if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil || !ok {
				l.logger.Error().Err(err).Str("document_id", documentID).Msg("advisory unlock fallido; se descarta la conexión")
				_ = conn.Conn().Close(ctx)
			}
			conn.Release()
		})
	}, nil
}
