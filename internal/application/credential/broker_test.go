package credential_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-emissor/internal/application/credential"
	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// countingAuth autenticador de prueba que cuenta intercambios.
type countingAuth struct {
	clock   clockwork.Clock
	ttl     time.Duration
	calls   atomic.Int32
	release chan struct{} // si no es nil, Authenticate espera a que se cierre
	last    entity.TenantCredentials
	mu      sync.Mutex
}

func (a *countingAuth) Authority() string { return "TEST" }

func (a *countingAuth) Authenticate(_ context.Context, creds entity.TenantCredentials) (ports.Token, error) {
	n := a.calls.Add(1)
	a.mu.Lock()
	a.last = creds
	a.mu.Unlock()
	if a.release != nil {
		<-a.release
	}
	tok := ports.Token{AccessToken: "tok-" + string(rune('0'+n))}
	if a.ttl > 0 {
		tok.ExpiresAt = a.clock.Now().Add(a.ttl)
	}
	return tok, nil
}

type mapSecrets map[string]string

func (m mapSecrets) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func tenantCfg() *entity.TenantConfig {
	return &entity.TenantConfig{
		TenantID:        "tenant-1",
		Provider:        "TEST",
		Environment:     entity.EnvironmentHomologacao,
		ClientID:        "client",
		ClientSecretRef: "secret/client",
		IsActive:        true,
	}
}

func newBroker(clock clockwork.Clock) *credential.Broker {
	return credential.NewBroker(mapSecrets{"secret/client": "s3cr3t"}, credential.Config{
		Clock:  clock,
		Logger: zerolog.Nop(),
	})
}

func TestGetToken_CacheYMargen(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	auth := &countingAuth{clock: clock, ttl: 10 * time.Minute}
	b := newBroker(clock)
	ctx := context.Background()

	tok1, err := b.GetToken(ctx, tenantCfg(), auth)
	require.NoError(t, err)
	tok2, err := b.GetToken(ctx, tenantCfg(), auth)
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)
	assert.EqualValues(t, 1, auth.calls.Load())

	auth.mu.Lock()
	assert.Equal(t, "s3cr3t", auth.last.ClientSecret, "el secreto se resuelve antes del intercambio")
	auth.mu.Unlock()

	// Dentro de los 60 s previos a la expiración se renueva.
	clock.Advance(9*time.Minute + 30*time.Second)
	tok3, err := b.GetToken(ctx, tenantCfg(), auth)
	require.NoError(t, err)
	assert.NotEqual(t, tok1.AccessToken, tok3.AccessToken)
	assert.EqualValues(t, 2, auth.calls.Load())
}

func TestGetToken_TokenEstaticoNoExpira(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := &countingAuth{clock: clock}
	b := newBroker(clock)

	_, err := b.GetToken(context.Background(), tenantCfg(), auth)
	require.NoError(t, err)
	clock.Advance(365 * 24 * time.Hour)
	_, err = b.GetToken(context.Background(), tenantCfg(), auth)
	require.NoError(t, err)
	assert.EqualValues(t, 1, auth.calls.Load())
}

func TestInvalidate_ForzaReautenticacion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := &countingAuth{clock: clock, ttl: time.Hour}
	b := newBroker(clock)
	ctx := context.Background()

	_, err := b.GetToken(ctx, tenantCfg(), auth)
	require.NoError(t, err)
	b.Invalidate("tenant-1", "TEST", entity.EnvironmentHomologacao)
	_, err = b.GetToken(ctx, tenantCfg(), auth)
	require.NoError(t, err)
	assert.EqualValues(t, 2, auth.calls.Load())

	// Otro tenant tiene su propia entrada.
	other := tenantCfg()
	other.TenantID = "tenant-2"
	_, err = b.GetToken(ctx, other, auth)
	require.NoError(t, err)
	assert.EqualValues(t, 3, auth.calls.Load())
}

// envAuth devuelve un token distinto por ambiente, como los endpoints de homologacao y producao.
type envAuth struct {
	calls   atomic.Int32
	release chan struct{}
}

func (a *envAuth) Authority() string { return "TEST" }

func (a *envAuth) Authenticate(_ context.Context, creds entity.TenantCredentials) (ports.Token, error) {
	a.calls.Add(1)
	if a.release != nil {
		<-a.release
	}
	return ports.Token{AccessToken: "tok-" + creds.Environment}, nil
}

func TestGetToken_SeparaAmbientes(t *testing.T) {
	b := newBroker(clockwork.NewFakeClock())
	auth := &envAuth{}
	ctx := context.Background()

	hom := tenantCfg()
	prod := tenantCfg()
	prod.Environment = entity.EnvironmentProducao

	tok, err := b.GetToken(ctx, hom, auth)
	require.NoError(t, err)
	assert.Equal(t, "tok-homologacao", tok.AccessToken)

	tok, err = b.GetToken(ctx, prod, auth)
	require.NoError(t, err)
	assert.Equal(t, "tok-producao", tok.AccessToken)
	assert.EqualValues(t, 2, auth.calls.Load())

	// Invalidar un ambiente no toca el otro.
	b.Invalidate("tenant-1", "TEST", entity.EnvironmentProducao)
	tok, err = b.GetToken(ctx, hom, auth)
	require.NoError(t, err)
	assert.Equal(t, "tok-homologacao", tok.AccessToken)
	assert.EqualValues(t, 2, auth.calls.Load())
}

func TestGetToken_AmbientesConcurrentesNoCompartenIntercambio(t *testing.T) {
	b := newBroker(clockwork.NewFakeClock())
	auth := &envAuth{release: make(chan struct{})}

	hom := tenantCfg()
	prod := tenantCfg()
	prod.Environment = entity.EnvironmentProducao

	var wg sync.WaitGroup
	got := make(map[string]string)
	var mu sync.Mutex
	for _, cfg := range []*entity.TenantConfig{hom, prod, hom, prod} {
		wg.Add(1)
		go func(cfg *entity.TenantConfig) {
			defer wg.Done()
			tok, err := b.GetToken(context.Background(), cfg, auth)
			assert.NoError(t, err)
			mu.Lock()
			if prev, ok := got[cfg.Environment]; ok {
				assert.Equal(t, prev, tok.AccessToken)
			}
			got[cfg.Environment] = tok.AccessToken
			mu.Unlock()
		}(cfg)
	}
	require.Eventually(t, func() bool { return auth.calls.Load() == 2 }, time.Second, time.Millisecond)
	close(auth.release)
	wg.Wait()

	assert.EqualValues(t, 2, auth.calls.Load())
	assert.Equal(t, "tok-homologacao", got[entity.EnvironmentHomologacao])
	assert.Equal(t, "tok-producao", got[entity.EnvironmentProducao])
}

func TestGetToken_UnSoloIntercambioConcurrente(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := &countingAuth{clock: clock, ttl: time.Hour, release: make(chan struct{})}
	b := newBroker(clock)

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]ports.Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = b.GetToken(context.Background(), tenantCfg(), auth)
		}(i)
	}

	require.Eventually(t, func() bool { return auth.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(auth.release)
	wg.Wait()

	assert.EqualValues(t, 1, auth.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
}

func TestGetToken_LlamadorAbandona(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := &countingAuth{clock: clock, ttl: time.Hour, release: make(chan struct{})}
	b := newBroker(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.GetToken(ctx, tenantCfg(), auth)
		done <- err
	}()
	require.Eventually(t, func() bool { return auth.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// El intercambio en vuelo termina y queda en cache para el siguiente.
	close(auth.release)
	require.Eventually(t, func() bool {
		_, err := b.GetToken(context.Background(), tenantCfg(), auth)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, auth.calls.Load())
}

func TestGetToken_SecretoAusente(t *testing.T) {
	clock := clockwork.NewFakeClock()
	auth := &countingAuth{clock: clock, ttl: time.Hour}
	b := credential.NewBroker(mapSecrets{}, credential.Config{Clock: clock, Logger: zerolog.Nop()})

	_, err := b.GetToken(context.Background(), tenantCfg(), auth)
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "tenant-1", cfgErr.TenantID)
	assert.EqualValues(t, 0, auth.calls.Load())
}
