package postgres

import (
	"context"
	"fmt"
	"net"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfse-emissor/pkg/config"
)

const (
	defaultMaxConns = 25
	pingTimeout     = 10 * time.Second
)

// NewPool crea el pool PostgreSQL del emisor a partir de DATABASE_URL o de DB_HOST, DB_PORT, etc.
// Todas las conexiones registran el codec NUMERIC ↔ decimal.Decimal de los montos.
func NewPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolConfig.ConnConfig.DialFunc = dialPreferIPv4
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "nfse-emissor"

	// Cada advisory lock retiene una conexión mientras dura la llamada a la autoridad.
	poolConfig.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("crear pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	return pool, nil
}

// dialPreferIPv4 intenta primero tcp4: en contenedores sin IPv6 el host de la base puede
// resolver también a AAAA y el dial por defecto fallaría.
func dialPreferIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if network == "tcp" {
		if conn, err := d.DialContext(ctx, "tcp4", addr); err == nil {
			return conn, nil
		}
	}
	return d.DialContext(ctx, network, addr)
}
