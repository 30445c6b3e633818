// Package credential obtiene y cachea tokens de acceso por tenant, autoridad y ambiente.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// DefaultRefreshMargin renovar el token este tiempo antes de su expiración.
const DefaultRefreshMargin = 60 * time.Second

// Authenticator parte del ProviderClient que el broker necesita.
type Authenticator interface {
	Authority() string
	Authenticate(ctx context.Context, creds entity.TenantCredentials) (ports.Token, error)
}

// Config parámetros del broker.
type Config struct {
	RefreshMargin   time.Duration // 0 = DefaultRefreshMargin
	ExchangeTimeout time.Duration // tope del intercambio; 0 = 30 s
	Clock           clockwork.Clock
	Logger          zerolog.Logger
}

// Broker cachea tokens con clave tenantID|autoridad|ambiente. Garantiza como máximo un intercambio en
// vuelo por clave: los demás llamadores esperan su resultado.
type Broker struct {
	secrets ports.SecretSource
	clock   clockwork.Clock
	margin  time.Duration
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	tokens map[string]ports.Token
	gen    map[string]uint64 // se incrementa en Invalidate; descarta intercambios obsoletos
	group  singleflight.Group
}

// NewBroker construye el broker. secrets resuelve las referencias de la configuración del tenant.
func NewBroker(secrets ports.SecretSource, cfg Config) *Broker {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Broker{
		secrets: secrets,
		clock:   cfg.Clock,
		margin:  cfg.RefreshMargin,
		timeout: cfg.ExchangeTimeout,
		logger:  cfg.Logger.With().Str("component", "credential_broker").Logger(),
		tokens:  make(map[string]ports.Token),
		gen:     make(map[string]uint64),
	}
}

// key separa los ambientes: homologacao y producao tienen endpoints de token distintos.
func key(tenantID, authority, environment string) string {
	return tenantID + "|" + authority + "|" + environment
}

// GetToken devuelve el token cacheado si sigue vigente (con margen); si no, hace el intercambio.
// El intercambio corre desacoplado de ctx para que un llamador que abandona no aborte la espera de
// los demás; ctx solo limita cuánto espera este llamador.
func (b *Broker) GetToken(ctx context.Context, cfg *entity.TenantConfig, auth Authenticator) (ports.Token, error) {
	if cfg == nil {
		return ports.Token{}, &domain.ConfigurationError{Message: "configuración de tenant ausente"}
	}
	k := key(cfg.TenantID, auth.Authority(), cfg.Environment)

	b.mu.Lock()
	tok, ok := b.tokens[k]
	gen := b.gen[k]
	b.mu.Unlock()
	if ok && tok.ValidAt(b.clock.Now(), b.margin) {
		return tok, nil
	}

	ch := b.group.DoChan(k, func() (interface{}, error) {
		return b.exchange(context.WithoutCancel(ctx), k, gen, cfg, auth)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return ports.Token{}, res.Err
		}
		return res.Val.(ports.Token), nil
	case <-ctx.Done():
		return ports.Token{}, ctx.Err()
	}
}

func (b *Broker) exchange(ctx context.Context, k string, gen uint64, cfg *entity.TenantConfig, auth Authenticator) (ports.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Otro vuelo pudo terminar entre la lectura del cache y DoChan.
	b.mu.Lock()
	if tok, ok := b.tokens[k]; ok && b.gen[k] == gen && tok.ValidAt(b.clock.Now(), b.margin) {
		b.mu.Unlock()
		return tok, nil
	}
	b.mu.Unlock()

	creds, err := b.resolve(ctx, cfg)
	if err != nil {
		return ports.Token{}, err
	}
	tok, err := auth.Authenticate(ctx, creds)
	if err != nil {
		b.logger.Warn().Err(err).Str("tenant_id", cfg.TenantID).Str("authority", auth.Authority()).
			Str("environment", cfg.Environment).Msg("intercambio de credenciales fallido")
		return ports.Token{}, err
	}

	b.mu.Lock()
	if b.gen[k] == gen {
		b.tokens[k] = tok
	}
	b.mu.Unlock()

	b.logger.Debug().Str("tenant_id", cfg.TenantID).Str("authority", auth.Authority()).
		Time("expires_at", tok.ExpiresAt).Msg("token obtenido")
	return tok, nil
}

// Invalidate fuerza a que el próximo GetToken para la clave re-autentique.
// El orquestador lo llama tras un AuthenticationError de la autoridad.
func (b *Broker) Invalidate(tenantID, authority, environment string) {
	k := key(tenantID, authority, environment)
	b.mu.Lock()
	delete(b.tokens, k)
	b.gen[k]++
	b.mu.Unlock()
	b.group.Forget(k)
}

// resolve convierte las referencias de la configuración en secretos descifrados.
func (b *Broker) resolve(ctx context.Context, cfg *entity.TenantConfig) (entity.TenantCredentials, error) {
	creds := entity.TenantCredentials{
		TenantID:    cfg.TenantID,
		Environment: cfg.Environment,
		ClientID:    strings.TrimSpace(cfg.ClientID),
	}
	if b.secrets == nil {
		return creds, nil
	}
	var err error
	if creds.ClientSecret, err = b.lookup(ctx, cfg, cfg.ClientSecretRef); err != nil {
		return creds, err
	}
	if creds.StaticToken, err = b.lookup(ctx, cfg, cfg.StaticTokenRef); err != nil {
		return creds, err
	}
	return creds, nil
}

func (b *Broker) lookup(ctx context.Context, cfg *entity.TenantConfig, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	v, err := b.secrets.Resolve(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", &domain.ConfigurationError{TenantID: cfg.TenantID, Message: fmt.Sprintf("secreto %q no disponible", ref)}
		}
		return "", fmt.Errorf("credential: resolver secreto %q: %w", ref, err)
	}
	return v, nil
}
