package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-emissor/internal/application/credential"
	"github.com/jhoicas/nfse-emissor/internal/application/issuance"
	"github.com/jhoicas/nfse-emissor/internal/application/reconcile"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/memory"
)

// fakePoller registra las llamadas y aplica la contabilidad que haría el orquestador.
type fakePoller struct {
	repo  *memory.DocumentRepository
	clock clockwork.Clock

	mu      sync.Mutex
	polled  []string
	expired map[string]string
}

func newFakePoller(repo *memory.DocumentRepository, clock clockwork.Clock) *fakePoller {
	return &fakePoller{repo: repo, clock: clock, expired: make(map[string]string)}
}

func (p *fakePoller) Poll(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	p.mu.Lock()
	p.polled = append(p.polled, id)
	p.mu.Unlock()

	doc, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := p.clock.Now().UTC()
	doc.PollAttempts++
	doc.LastPolledAt = &now
	return doc, p.repo.Save(ctx, doc)
}

func (p *fakePoller) Expire(ctx context.Context, id, reason string) (*entity.FiscalDocument, error) {
	p.mu.Lock()
	p.expired[id] = reason
	p.mu.Unlock()

	doc, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Status = entity.StatusRejected
	doc.RejectionReason = reason
	return doc, p.repo.Save(ctx, doc)
}

func (p *fakePoller) pollCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, x := range p.polled {
		if x == id {
			n++
		}
	}
	return n
}

func submitted(t *testing.T, repo *memory.DocumentRepository, id, provider string, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &entity.FiscalDocument{
		ID:          id,
		TenantID:    "tenant-1",
		Provider:    provider,
		Status:      entity.StatusSubmitted,
		SubmittedAt: &at,
	}))
}

func newReconciler(repo *memory.DocumentRepository, p *fakePoller, clock clockwork.Clock) *reconcile.Reconciler {
	return reconcile.New(repo, p, reconcile.Config{
		MinAge:         5 * time.Minute,
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
		MaxBackoff:     10 * time.Minute,
		Concurrency:    2,
		Clock:          clock,
	})
}

func TestBackoff_NextDelay(t *testing.T) {
	b := reconcile.Backoff{Initial: time.Minute, Max: 5 * time.Minute}
	assert.Equal(t, time.Minute, b.NextDelay(0))
	assert.Equal(t, time.Minute, b.NextDelay(1))
	assert.Equal(t, 2*time.Minute, b.NextDelay(2))
	assert.Equal(t, 4*time.Minute, b.NextDelay(3))
	assert.Equal(t, 5*time.Minute, b.NextDelay(4))
	assert.Equal(t, 5*time.Minute, b.NextDelay(30))
}

func TestSweep_NuncaConsultaAntesDeLaEdadMinima(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewDocumentRepository()
	submitted(t, repo, "joven", "PROV_A", clock.Now().Add(-time.Minute))
	submitted(t, repo, "viejo", "PROV_A", clock.Now().Add(-10*time.Minute))
	p := newFakePoller(repo, clock)
	r := newReconciler(repo, p, clock)

	stats, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Polled)
	assert.Equal(t, 0, p.pollCount("joven"), "documento más reciente que MinAge")
	assert.Equal(t, 1, p.pollCount("viejo"))

	clock.Advance(4 * time.Minute)
	_, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.pollCount("joven"), "alcanzada la edad mínima se consulta")
}

func TestSweep_RespetaBackoff(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewDocumentRepository()
	submitted(t, repo, "d1", "PROV_A", clock.Now().Add(-time.Hour))
	p := newFakePoller(repo, clock)
	r := newReconciler(repo, p, clock)

	_, err := r.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, p.pollCount("d1"))

	clock.Advance(30 * time.Second) // backoff tras 1 intento = 1 min
	stats, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, p.pollCount("d1"))

	clock.Advance(30 * time.Second)
	_, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.pollCount("d1"))

	clock.Advance(time.Minute) // backoff tras 2 intentos = 2 min
	_, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.pollCount("d1"))
}

func TestSweep_VenceTrasElTopeDeIntentosSinImportarLaAutoridad(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewDocumentRepository()
	submitted(t, repo, "nac", "NFSE_NACIONAL", clock.Now().Add(-time.Hour))
	submitted(t, repo, "gw", "NFSE_GATEWAY", clock.Now().Add(-time.Hour))
	p := newFakePoller(repo, clock)
	r := newReconciler(repo, p, clock)

	for i := 0; i < 3; i++ {
		_, err := r.Sweep(context.Background())
		require.NoError(t, err)
		clock.Advance(10 * time.Minute)
	}
	assert.Equal(t, 3, p.pollCount("nac"))
	assert.Equal(t, 3, p.pollCount("gw"))
	assert.Empty(t, p.expired)

	stats, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Expired)
	assert.Equal(t, 3, p.pollCount("nac"), "superado el tope ya no se consulta")

	for _, id := range []string{"nac", "gw"} {
		doc, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusRejected, doc.Status)
		assert.Contains(t, doc.RejectionReason, "3 consultas")
	}

	stats, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Listed, "los rechazados salen del barrido")
}

// Con el orquestador real: un tenant sin configuración activa hace fallar cada consulta, pero los
// intentos se cuentan y el tope vence el documento aun sin MaxAge.
func TestSweep_ConsultasFallidasAlcanzanElTope(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewDocumentRepository()
	submitted(t, repo, "d1", "PROV_A", clock.Now().Add(-time.Hour))

	orch := issuance.NewOrchestrator(issuance.Deps{
		Documents: repo,
		Configs:   memory.NewTenantConfigRepository(),
		Companies: memory.NewCompanyRepository(),
		Payers:    memory.NewPayerRepository(),
		Selector:  issuance.NewSelector(),
		Broker:    credential.NewBroker(nil, credential.Config{Clock: clock, Logger: zerolog.Nop()}),
	}, issuance.Config{Clock: clock, Logger: zerolog.Nop()})
	r := reconcile.New(repo, orch, reconcile.Config{
		MinAge:         5 * time.Minute,
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
		MaxBackoff:     10 * time.Minute,
		Clock:          clock,
	})

	for i := 1; i <= 3; i++ {
		stats, err := r.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Failed)
		doc, err := repo.GetByID(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, i, doc.PollAttempts)
		clock.Advance(10 * time.Minute)
	}

	stats, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	doc, err := repo.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Contains(t, doc.RejectionReason, "3 consultas")
}

func TestSweep_VencePorEdadMaxima(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	repo := memory.NewDocumentRepository()
	submitted(t, repo, "d1", "PROV_A", clock.Now().Add(-80*time.Hour))
	p := newFakePoller(repo, clock)
	r := reconcile.New(repo, p, reconcile.Config{MinAge: time.Minute, MaxAge: 72 * time.Hour, Clock: clock})

	stats, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Zero(t, p.pollCount("d1"))
}

func TestStartStop(t *testing.T) {
	repo := memory.NewDocumentRepository()
	clock := clockwork.NewRealClock()
	r := reconcile.New(repo, newFakePoller(repo, clock), reconcile.Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx), "no se inicia dos veces")
	r.Stop()
	require.NoError(t, r.Start(ctx), "tras Stop se puede reiniciar")
	r.Stop()
}
