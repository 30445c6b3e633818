package issuance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-emissor/internal/application/credential"
	"github.com/jhoicas/nfse-emissor/internal/application/issuance"
	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Autoridad de prueba con respuestas programables
// ──────────────────────────────────────────────────────────────────────────────

type fakeProvider struct {
	name  string
	clock clockwork.Clock

	mu          sync.Mutex
	authCalls   int
	submitCalls int
	statusCalls int
	cancelCalls int
	lastStatus  ports.StatusQuery
	lastCancel  ports.CancelRequest

	submitFn func(n int) (ports.Outcome, error)
	statusFn func(n int) (ports.Outcome, error)
	cancelFn func(n int) (ports.Outcome, error)
}

func (f *fakeProvider) Authority() string { return f.name }

func (f *fakeProvider) Authenticate(_ context.Context, _ entity.TenantCredentials) (ports.Token, error) {
	f.mu.Lock()
	f.authCalls++
	f.mu.Unlock()
	return ports.Token{AccessToken: "tok", ExpiresAt: f.clock.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) Submit(_ context.Context, _ ports.SubmissionRequest, _ ports.Token) (ports.Outcome, error) {
	f.mu.Lock()
	f.submitCalls++
	n := f.submitCalls
	f.mu.Unlock()
	return f.submitFn(n)
}

func (f *fakeProvider) CheckStatus(_ context.Context, q ports.StatusQuery, _ ports.Token) (ports.Outcome, error) {
	f.mu.Lock()
	f.statusCalls++
	n := f.statusCalls
	f.lastStatus = q
	f.mu.Unlock()
	return f.statusFn(n)
}

func (f *fakeProvider) Cancel(_ context.Context, req ports.CancelRequest, _ ports.Token) (ports.Outcome, error) {
	f.mu.Lock()
	f.cancelCalls++
	n := f.cancelCalls
	f.lastCancel = req
	f.mu.Unlock()
	return f.cancelFn(n)
}

func (f *fakeProvider) counts() (auth, submit, status, cancel int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.submitCalls, f.statusCalls, f.cancelCalls
}

// ──────────────────────────────────────────────────────────────────────────────
// Fixture
// ──────────────────────────────────────────────────────────────────────────────

const (
	tenantID = "tenant-1"
	provA    = "PROV_A"
)

type fixture struct {
	orch     *issuance.Orchestrator
	docs     *memory.DocumentRepository
	configs  *memory.TenantConfigRepository
	selector *issuance.Selector
	provider *fakeProvider
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	prov := &fakeProvider{name: provA, clock: clock}

	docs := memory.NewDocumentRepository()
	configs := memory.NewTenantConfigRepository()
	companies := memory.NewCompanyRepository()
	payers := memory.NewPayerRepository()

	companies.Put(&entity.Company{ID: tenantID, Name: "Prestadora Ltda", CNPJ: "11222333000181", MunicipalityCode: "3550308"})
	payers.Put(&entity.Payer{ID: "payer-1", TenantID: tenantID, Name: "Tomador", TaxID: "52998224725"})
	configs.Put(&entity.TenantConfig{
		TenantID:    tenantID,
		Provider:    provA,
		Environment: entity.EnvironmentHomologacao,
		ClientID:    "client",
		IsActive:    true,
	})

	selector := issuance.NewSelector(issuance.Binding{Provider: provA, Client: prov, Timeout: 5 * time.Second})
	broker := credential.NewBroker(nil, credential.Config{Clock: clock, Logger: zerolog.Nop()})

	orch := issuance.NewOrchestrator(issuance.Deps{
		Documents: docs,
		Configs:   configs,
		Companies: companies,
		Payers:    payers,
		Selector:  selector,
		Broker:    broker,
		Locker:    issuance.NewMemoryLocker(),
	}, issuance.Config{
		NotFoundGrace: time.Hour,
		Clock:         clock,
		Logger:        zerolog.Nop(),
	})

	return &fixture{orch: orch, docs: docs, configs: configs, selector: selector, provider: prov, clock: clock}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newDraft persiste un borrador válido y devuelve su id.
func (f *fixture) newDraft(t *testing.T) string {
	t.Helper()
	doc := &entity.FiscalDocument{
		TenantID:         tenantID,
		PayerID:          "payer-1",
		IssueDate:        time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		Competence:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		ServiceValue:     dec("1000.00"),
		Deductions:       dec("100.00"),
		Withholdings:     entity.Withholdings{ISS: dec("50.00")},
		Description:      "Desarrollo de software",
		MunicipalityCode: "3550308",
		ServiceCode:      "010101",
		Series:           "1",
		SequenceNumber:   1,
		Items: []*entity.DocumentItem{
			{Code: "1", Description: "Horas", Quantity: dec("10"), UnitValue: dec("100.00"), Total: dec("1000.00")},
		},
	}
	require.NoError(t, f.docs.Create(context.Background(), doc))
	return doc.ID
}

// withState fuerza un estado directamente en el repositorio (preparación de escenarios).
func (f *fixture) withState(t *testing.T, id string, status entity.DocumentStatus) {
	t.Helper()
	doc, err := f.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	doc.Status = status
	now := f.clock.Now()
	if status != entity.StatusDraft {
		doc.SubmittedAt = &now
		doc.Provider = provA
		doc.Environment = entity.EnvironmentHomologacao
	}
	if status == entity.StatusAuthorized {
		doc.AuthorityNumber = "77"
		doc.VerificationCode = "CHAVE77"
	}
	require.NoError(t, f.docs.Save(context.Background(), doc))
}

func (f *fixture) reload(t *testing.T, id string) *entity.FiscalDocument {
	t.Helper()
	doc, err := f.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func pending(receipt string) func(int) (ports.Outcome, error) {
	return func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: receipt}, nil
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Submit
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmit_AutorizacionSincrona(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeAuthorized, Number: "555", VerificationCode: "VC-1", XML: "<NFSe/>", Payload: []byte(`{"ok":true}`)}, nil
	}
	id := f.newDraft(t)

	doc, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, doc.Status)

	stored := f.reload(t, id)
	assert.Equal(t, entity.StatusAuthorized, stored.Status)
	assert.Equal(t, "555", stored.AuthorityNumber)
	assert.Equal(t, "VC-1", stored.VerificationCode)
	assert.Equal(t, "<NFSe/>", stored.AuthorityXML)
	assert.JSONEq(t, `{"ok":true}`, string(stored.AuthorityPayload))
	assert.Equal(t, "850.00", stored.NetValue.StringFixed(2))
	assert.Equal(t, provA, stored.Provider)
	assert.Equal(t, entity.EnvironmentHomologacao, stored.Environment)
	require.NotNil(t, stored.AuthorizedAt)
}

func TestSubmit_PendingGuardaProtocolo(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R1")
	id := f.newDraft(t)

	doc, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, doc.Status)
	assert.Equal(t, "R1", f.reload(t, id).ReceiptID)
	assert.False(t, f.reload(t, id).AmbiguousOutcome)
}

func TestSubmit_RechazoSincrono(t *testing.T) {
	f := newFixture(t)
	const reason = "E0312 - Código de tributação nacional inexistente"
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeRejected, Code: "E0312", Reason: reason}, nil
	}
	id := f.newDraft(t)

	doc, err := f.orch.Submit(context.Background(), id)
	var rej *domain.AuthorityRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, reason, rej.Reason)
	require.NotNil(t, doc)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Equal(t, reason, f.reload(t, id).RejectionReason, "motivo literal")
}

// Credencial rechazada en el primer envío: una renovación y reintento; exactamente dos intercambios.
func TestSubmit_AuthenticationErrorRenuevaUnaVez(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(n int) (ports.Outcome, error) {
		if n == 1 {
			return ports.Outcome{}, &domain.AuthenticationError{Authority: provA, Message: "token expirado"}
		}
		return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: "R9"}, nil
	}
	id := f.newDraft(t)

	doc, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, doc.Status)

	auth, submit, _, _ := f.provider.counts()
	assert.Equal(t, 2, auth, "intercambio de credenciales exactamente dos veces")
	assert.Equal(t, 2, submit)
}

func TestSubmit_AuthenticationErrorPersistente(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{}, &domain.AuthenticationError{Authority: provA, Message: "credencial inválida"}
	}
	id := f.newDraft(t)
	before := f.reload(t, id)

	_, err := f.orch.Submit(context.Background(), id)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))

	auth, submit, _, _ := f.provider.counts()
	assert.Equal(t, 2, auth)
	assert.Equal(t, 2, submit, "nunca más de un reintento")

	after := f.reload(t, id)
	assert.Equal(t, entity.StatusDraft, after.Status)
	assert.Equal(t, before.Version, after.Version, "el borrador no se modifica")
}

func TestSubmit_TransientDejaDraft(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{}, &domain.TransientNetworkError{Authority: provA, Err: errors.New("connection refused")}
	}
	id := f.newDraft(t)

	_, err := f.orch.Submit(context.Background(), id)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
	doc := f.reload(t, id)
	assert.Equal(t, entity.StatusDraft, doc.Status)
	assert.Empty(t, doc.Provider)
}

// Timeout sin respuesta: SUBMITTED sin protocolo y con bandera de ambigüedad; no es error.
func TestSubmit_ResultadoAmbiguo(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{}, &domain.AmbiguousOutcomeError{Authority: provA, Err: context.DeadlineExceeded}
	}
	id := f.newDraft(t)

	doc, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, doc.Status)

	stored := f.reload(t, id)
	assert.Equal(t, entity.StatusSubmitted, stored.Status)
	assert.Empty(t, stored.ReceiptID)
	assert.True(t, stored.AmbiguousOutcome)

	// Un segundo Submit nunca reenvía.
	_, err = f.orch.Submit(context.Background(), id)
	var stale *domain.StaleStateError
	require.ErrorAs(t, err, &stale)
	_, submit, _, _ := f.provider.counts()
	assert.Equal(t, 1, submit)
}

// 2xx con un resultado no previsto: el documento puede existir en la autoridad, no se reenvía.
func TestSubmit_ResultadoInesperadoQuedaAmbiguo(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeCancelled, ReceiptID: "R9"}, nil
	}
	id := f.newDraft(t)

	doc, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, doc.Status)

	stored := f.reload(t, id)
	assert.Equal(t, entity.StatusSubmitted, stored.Status)
	assert.Equal(t, "R9", stored.ReceiptID)
	assert.True(t, stored.AmbiguousOutcome)

	_, err = f.orch.Submit(context.Background(), id)
	var stale *domain.StaleStateError
	require.ErrorAs(t, err, &stale)
	_, submit, _, _ := f.provider.counts()
	assert.Equal(t, 1, submit)
}

func TestSubmit_ConcurrenteUnSoloEnvio(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		time.Sleep(10 * time.Millisecond)
		return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: "R1"}, nil
	}
	id := f.newDraft(t)

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.Submit(context.Background(), id)
		}(i)
	}
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domain.KindOf(err) == domain.KindStaleState:
			stale++
		default:
			t.Fatalf("error inesperado: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, stale)
	_, submit, _, _ := f.provider.counts()
	assert.Equal(t, 1, submit)
	assert.Equal(t, entity.StatusSubmitted, f.reload(t, id).Status)
}

func TestSubmit_SinConfiguracion(t *testing.T) {
	f := newFixture(t)
	f.configs.Put(&entity.TenantConfig{TenantID: tenantID, Provider: provA, Environment: entity.EnvironmentHomologacao, IsActive: false})
	id := f.newDraft(t)

	_, err := f.orch.Submit(context.Background(), id)
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, entity.StatusDraft, f.reload(t, id).Status)
}

func TestSubmit_ProveedorDesconocidoFallaCerrado(t *testing.T) {
	f := newFixture(t)
	f.configs.Put(&entity.TenantConfig{TenantID: tenantID, Provider: "OTRO", Environment: entity.EnvironmentProducao, IsActive: true})
	id := f.newDraft(t)

	_, err := f.orch.Submit(context.Background(), id)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	_, submit, _, _ := f.provider.counts()
	assert.Zero(t, submit)
}

func TestSubmit_ContenidoInvalido(t *testing.T) {
	f := newFixture(t)
	id := f.newDraft(t)
	doc := f.reload(t, id)
	doc.Deductions = dec("2000.00")
	require.NoError(t, f.docs.Save(context.Background(), doc))

	_, err := f.orch.Submit(context.Background(), id)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, submit, _, _ := f.provider.counts()
	assert.Zero(t, submit)
}

func TestSubmit_DocumentoInexistente(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Submit(context.Background(), "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Poll
// ──────────────────────────────────────────────────────────────────────────────

// Pending("R1") en el envío y Authorized en la tercera consulta: exactamente 3 consultas.
func TestPoll_AutorizadoEnTerceraConsulta(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R1")
	f.provider.statusFn = func(n int) (ports.Outcome, error) {
		if n < 3 {
			return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: "R1"}, nil
		}
		return ports.Outcome{Kind: ports.OutcomeAuthorized, Number: "123", VerificationCode: "ABC"}, nil
	}
	id := f.newDraft(t)

	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	var doc *entity.FiscalDocument
	for doc == nil || doc.Status == entity.StatusSubmitted {
		f.clock.Advance(time.Minute)
		doc, err = f.orch.Poll(context.Background(), id)
		require.NoError(t, err)
	}

	assert.Equal(t, entity.StatusAuthorized, doc.Status)
	assert.Equal(t, "123", doc.AuthorityNumber)
	assert.Equal(t, "ABC", doc.VerificationCode)
	_, _, status, _ := f.provider.counts()
	assert.Equal(t, 3, status)
	assert.Equal(t, "R1", f.provider.lastStatus.ReceiptID)

	stored := f.reload(t, id)
	assert.Equal(t, 3, stored.PollAttempts)
	assert.Equal(t, "123", stored.AuthorityNumber)
}

func TestPoll_RechazoLiteral(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R2")
	f.provider.statusFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeRejected, Reason: "E160 - CNPJ do tomador inválido"}, nil
	}
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	doc, err := f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Equal(t, "E160 - CNPJ do tomador inválido", doc.RejectionReason)
}

func TestPoll_NoEncontradoRespetaGracia(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{}, &domain.AmbiguousOutcomeError{Authority: provA, Err: errors.New("EOF")}
	}
	f.provider.statusFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeNotFound}, nil
	}
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	doc, err := f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, doc.Status, "dentro del período de gracia")
	assert.Empty(t, f.provider.lastStatus.ReceiptID, "sin protocolo: búsqueda alternativa")
	require.NotNil(t, f.provider.lastStatus.Document)
	assert.Equal(t, id, f.provider.lastStatus.Document.ID)

	f.clock.Advance(31 * time.Minute)
	doc, err = f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Contains(t, doc.RejectionReason, "no encontrado")
	assert.False(t, doc.AmbiguousOutcome)
}

func TestPoll_FallaTransitoriaCuentaIntento(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R3")
	f.provider.statusFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{}, &domain.TransientNetworkError{Authority: provA, Err: errors.New("timeout")}
	}
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	_, err = f.orch.Poll(context.Background(), id)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
	stored := f.reload(t, id)
	assert.Equal(t, entity.StatusSubmitted, stored.Status)
	assert.Equal(t, 1, stored.PollAttempts)
	require.NotNil(t, stored.LastPolledAt)
}

// Anulada en la autoridad antes de autorizarse localmente: REJECTED con el motivo recibido.
func TestPoll_CanceladaEnAutoridadRechaza(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R5")
	f.provider.statusFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeCancelled, Reason: "CANCELADA"}, nil
	}
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	doc, err := f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Contains(t, doc.RejectionReason, "CANCELADA")
	assert.Equal(t, 1, f.reload(t, id).PollAttempts)
}

// Sin configuración activa la consulta falla, pero el intento queda registrado.
func TestPoll_SinConfiguracionCuentaIntento(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R6")
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	f.configs.Put(&entity.TenantConfig{TenantID: tenantID, Provider: provA, Environment: entity.EnvironmentHomologacao, IsActive: false})
	for i := 1; i <= 3; i++ {
		_, err = f.orch.Poll(context.Background(), id)
		assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
		stored := f.reload(t, id)
		assert.Equal(t, entity.StatusSubmitted, stored.Status)
		assert.Equal(t, i, stored.PollAttempts)
	}
	_, _, status, _ := f.provider.counts()
	assert.Zero(t, status)
}

// La búsqueda alternativa encuentra el protocolo: el documento deja de ser ambiguo.
func TestPoll_ProtocoloEncontradoLimpiaAmbiguo(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{}, &domain.AmbiguousOutcomeError{Authority: provA, Err: errors.New("EOF")}
	}
	f.provider.statusFn = func(n int) (ports.Outcome, error) {
		if n == 1 {
			return ports.Outcome{Kind: ports.OutcomePending, ReceiptID: "R7"}, nil
		}
		return ports.Outcome{Kind: ports.OutcomePending}, nil
	}
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)
	require.True(t, f.reload(t, id).AmbiguousOutcome)

	doc, err := f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusSubmitted, doc.Status)
	assert.Equal(t, "R7", doc.ReceiptID)
	assert.False(t, doc.AmbiguousOutcome)

	_, err = f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "R7", f.provider.lastStatus.ReceiptID, "la siguiente consulta usa el protocolo")
}

func TestPoll_UsaProveedorCongelado(t *testing.T) {
	f := newFixture(t)
	f.provider.submitFn = pending("R4")
	id := f.newDraft(t)
	_, err := f.orch.Submit(context.Background(), id)
	require.NoError(t, err)

	other := &fakeProvider{name: "PROV_B", clock: f.clock}
	f.selector.Register(issuance.Binding{Provider: "PROV_B", Client: other})
	f.configs.Put(&entity.TenantConfig{TenantID: tenantID, Provider: "PROV_B", Environment: entity.EnvironmentProducao, IsActive: true})

	f.provider.statusFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeAuthorized, Number: "9", VerificationCode: "Z"}, nil
	}
	doc, err := f.orch.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusAuthorized, doc.Status)
	assert.Equal(t, entity.EnvironmentHomologacao, f.provider.lastStatus.Environment)
	_, _, otherStatus, _ := other.counts()
	assert.Zero(t, otherStatus)
}

func TestPoll_EstadoIncorrecto(t *testing.T) {
	f := newFixture(t)
	id := f.newDraft(t)
	_, err := f.orch.Poll(context.Background(), id)
	var stale *domain.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, string(entity.StatusDraft), stale.Current)
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel / Expire
// ──────────────────────────────────────────────────────────────────────────────

// Cancel solo desde AUTHORIZED; desde cualquier otro estado StaleStateError sin cambios.
func TestCancel_SoloDesdeAutorizado(t *testing.T) {
	for _, s := range []entity.DocumentStatus{entity.StatusDraft, entity.StatusSubmitted, entity.StatusRejected, entity.StatusCancelled} {
		t.Run(string(s), func(t *testing.T) {
			f := newFixture(t)
			id := f.newDraft(t)
			f.withState(t, id, s)
			before := f.reload(t, id)

			_, err := f.orch.Cancel(context.Background(), id, "", "Erro na emissão da nota")
			var stale *domain.StaleStateError
			require.ErrorAs(t, err, &stale)
			assert.True(t, errors.Is(err, domain.ErrValidation))

			after := f.reload(t, id)
			assert.Equal(t, s, after.Status)
			assert.Equal(t, before.Version, after.Version)
			_, _, _, cancel := f.provider.counts()
			assert.Zero(t, cancel)
		})
	}
}

func TestCancel_Exito(t *testing.T) {
	f := newFixture(t)
	f.provider.cancelFn = func(int) (ports.Outcome, error) {
		return ports.Outcome{Kind: ports.OutcomeCancelled}, nil
	}
	id := f.newDraft(t)
	f.withState(t, id, entity.StatusAuthorized)

	doc, err := f.orch.Cancel(context.Background(), id, "2", "Serviço não prestado ao tomador")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCancelled, doc.Status)
	assert.Equal(t, "Serviço não prestado ao tomador", doc.CancellationReason)
	require.NotNil(t, doc.CancelledAt)
	assert.Equal(t, "77", f.provider.lastCancel.AuthorityNumber)
	assert.Equal(t, "CHAVE77", f.provider.lastCancel.VerificationCode)
	assert.Equal(t, "2", f.provider.lastCancel.ReasonCode)
}

func TestCancel_FallaNoAsumeExito(t *testing.T) {
	cases := map[string]func(int) (ports.Outcome, error){
		"transitorio": func(int) (ports.Outcome, error) {
			return ports.Outcome{}, &domain.TransientNetworkError{Authority: provA, Err: errors.New("reset")}
		},
		"rechazo": func(int) (ports.Outcome, error) {
			return ports.Outcome{Kind: ports.OutcomeRejected, Reason: "prazo de cancelamento expirado"}, nil
		},
		"en proceso": func(int) (ports.Outcome, error) {
			return ports.Outcome{Kind: ports.OutcomePending}, nil
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.cancelFn = fn
			id := f.newDraft(t)
			f.withState(t, id, entity.StatusAuthorized)

			_, err := f.orch.Cancel(context.Background(), id, "", "Erro na emissão da nota")
			require.Error(t, err)
			assert.Equal(t, entity.StatusAuthorized, f.reload(t, id).Status)
		})
	}
}

func TestCancel_MotivoObligatorio(t *testing.T) {
	f := newFixture(t)
	id := f.newDraft(t)
	_, err := f.orch.Cancel(context.Background(), id, "", "  ")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.orch.Cancel(context.Background(), id, "7", "motivo cualquiera")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	id := f.newDraft(t)
	f.withState(t, id, entity.StatusSubmitted)

	doc, err := f.orch.Expire(context.Background(), id, "sin respuesta de la autoridad")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, doc.Status)
	assert.Equal(t, "sin respuesta de la autoridad", doc.RejectionReason)

	_, err = f.orch.Expire(context.Background(), id, "x")
	assert.Equal(t, domain.KindStaleState, domain.KindOf(err))
}
