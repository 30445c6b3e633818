package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-emissor/internal/application/credential"
	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/application/issuance"
	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/memory"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider/simulated"
	apphttp "github.com/jhoicas/nfse-emissor/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/nfse-emissor/pkg/jwt"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

const (
	otherCompanyID   = "00000000-0000-0000-0000-000000000003"
	unconfiguredID   = "00000000-0000-0000-0000-000000000004"
	testPayerID      = "00000000-0000-0000-0000-0000000000a1"
	testMunicipality = "3550308"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fixture: API completa sobre repositorios en memoria y autoridad simulada
// ──────────────────────────────────────────────────────────────────────────────

func buildDocumentsApp(t *testing.T) *fiber.App {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	docs := memory.NewDocumentRepository()
	configs := memory.NewTenantConfigRepository()
	companies := memory.NewCompanyRepository()
	payers := memory.NewPayerRepository()

	for _, id := range []string{testCompanyID, otherCompanyID, unconfiguredID} {
		companies.Put(&entity.Company{ID: id, Name: "Prestadora " + id[len(id)-1:], CNPJ: "11222333000181", MunicipalityCode: testMunicipality})
	}
	for _, id := range []string{testCompanyID, otherCompanyID} {
		configs.Put(&entity.TenantConfig{
			TenantID:    id,
			Provider:    pkgnfse.ProviderSimulated,
			Environment: entity.EnvironmentHomologacao,
			IsActive:    true,
		})
	}
	payers.Put(&entity.Payer{ID: testPayerID, TenantID: testCompanyID, Name: "Tomador SA", TaxID: "52998224725"})

	sim := simulated.NewClient(simulated.Config{Clock: clock, Logger: zerolog.Nop()})
	orch := issuance.NewOrchestrator(issuance.Deps{
		Documents: docs,
		Configs:   configs,
		Companies: companies,
		Payers:    payers,
		Selector:  issuance.NewSelector(issuance.Binding{Provider: pkgnfse.ProviderSimulated, Client: sim}),
		Broker:    credential.NewBroker(nil, credential.Config{Clock: clock, Logger: zerolog.Nop()}),
	}, issuance.Config{Clock: clock, Logger: zerolog.Nop()})

	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		DocumentUC: usecase.NewDocumentUseCase(docs, payers, orch),
		PayerUC:    usecase.NewPayerUseCase(payers, payers),
		CompanyUC:  usecase.NewCompanyUseCase(companies, configs, configs),
		JWTSecret:  testJWTSecret,
		JWTIssuer:  testIssuer,
		Logger:     zerolog.Nop(),
	})
	return app
}

func bearer(t *testing.T, companyID, role string) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, testIssuer, pkgjwt.Identity{UserID: testUserID, CompanyID: companyID, Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func call(t *testing.T, app *fiber.App, method, path, auth string, body any) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	return resp, buf.Bytes()
}

func draftBody(description string) map[string]any {
	return map[string]any{
		"payer_id":          testPayerID,
		"issue_date":        "2026-03-10",
		"competence":        "2026-03-01",
		"deductions":        "100.00",
		"withholdings":      map[string]any{"iss": "50.00"},
		"description":       description,
		"municipality_code": testMunicipality,
		"service_code":      "010701",
		"series":            "1",
		"sequence_number":   42,
		"items": []map[string]any{
			{"description": "Consultoría", "quantity": "10", "unit_value": "80.00"},
			{"description": "Soporte", "quantity": "1", "unit_value": "200.00"},
		},
	}
}

func createDraft(t *testing.T, app *fiber.App, companyID, description string) dto.DocumentResponse {
	t.Helper()
	resp, body := call(t, app, http.MethodPost, "/api/documents", bearer(t, companyID, pkgjwt.RoleEmissor), draftBody(description))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var doc dto.DocumentResponse
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestDocuments_CreaBorradorConTotales(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")

	assert.Equal(t, "DRAFT", doc.Status)
	assert.Equal(t, testCompanyID, doc.TenantID)
	assert.Equal(t, "1000", doc.ServiceValue.String(), "sin service_value se usa la suma de ítems")
	require.Len(t, doc.Items, 2)
	assert.Equal(t, "800", doc.Items[0].Total.String())
	assert.Equal(t, 1, doc.Version)
}

func TestDocuments_CrearInvalido_Retorna400(t *testing.T) {
	app := buildDocumentsApp(t)
	body := draftBody("")
	body["municipality_code"] = "3550309"
	body["sequence_number"] = 0

	resp, raw := call(t, app, http.MethodPost, "/api/documents", bearer(t, testCompanyID, pkgjwt.RoleEmissor), body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "VALIDATION")
	assert.Contains(t, string(raw), "sequence_number")
}

func TestDocuments_SubmitAutorizaYCalculaLiquido(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")

	resp, raw := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", bearer(t, testCompanyID, pkgjwt.RoleEmissor), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out dto.DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "AUTHORIZED", out.Status)
	assert.Equal(t, "850", out.NetValue.String())
	assert.Equal(t, "2026000000042", out.AuthorityNumber)
	assert.NotEmpty(t, out.VerificationCode)
	assert.Equal(t, pkgnfse.ProviderSimulated, out.Provider)
}

func TestDocuments_SubmitDosVeces_Retorna409(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")
	auth := bearer(t, testCompanyID, pkgjwt.RoleEmissor)

	resp, _ := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", auth, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", auth, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(raw), "STALE_STATE")
}

func TestDocuments_RechazoIncluyeDocumento(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Servicio "+simulated.RejectMarker)

	resp, raw := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", bearer(t, testCompanyID, pkgjwt.RoleEmissor), nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var out dto.DocumentErrorResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "AUTHORITY_REJECTED", out.Code)
	require.NotNil(t, out.Document)
	assert.Equal(t, "REJECTED", out.Document.Status)
	assert.Equal(t, "Rechazo simulado solicitado en la descripción", out.Document.RejectionReason)
}

func TestDocuments_CancelarAutorizado(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")
	auth := bearer(t, testCompanyID, pkgjwt.RoleEmissor)

	// Cancelar un DRAFT es estado obsoleto.
	resp, _ := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/cancel", auth, map[string]string{"reason": "duplicada"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", auth, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/cancel", auth,
		map[string]string{"reason_code": pkgnfse.CancelReasonErroEmissao, "reason": "Emitida en duplicado"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out dto.DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "CANCELLED", out.Status)
	assert.Equal(t, "Emitida en duplicado", out.CancellationReason)
}

func TestDocuments_PollFueraDeSubmitted_Retorna409(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")

	resp, _ := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/poll", bearer(t, testCompanyID, pkgjwt.RoleEmissor), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDocuments_AislamientoPorTenant(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")

	resp, _ := call(t, app, http.MethodGet, "/api/documents/"+doc.ID, bearer(t, otherCompanyID, pkgjwt.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", bearer(t, otherCompanyID, pkgjwt.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = call(t, app, http.MethodGet, "/api/documents/"+doc.ID, bearer(t, testCompanyID, pkgjwt.RoleAuditor), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDocuments_DocumentoInexistente_Retorna404(t *testing.T) {
	app := buildDocumentsApp(t)
	resp, raw := call(t, app, http.MethodGet, "/api/documents/no-existe", bearer(t, testCompanyID, pkgjwt.RoleAuditor), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), "NOT_FOUND")
}

func TestDocuments_AuditorNoPuedeEnviar(t *testing.T) {
	app := buildDocumentsApp(t)
	doc := createDraft(t, app, testCompanyID, "Consultoría marzo")

	resp, _ := call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", bearer(t, testCompanyID, pkgjwt.RoleAuditor), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDocuments_TenantSinConfiguracion_Retorna422(t *testing.T) {
	app := buildDocumentsApp(t)
	body := draftBody("Consultoría marzo")
	delete(body, "payer_id")
	resp, raw := call(t, app, http.MethodPost, "/api/documents", bearer(t, unconfiguredID, pkgjwt.RoleAdmin), body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var doc dto.DocumentResponse
	require.NoError(t, json.Unmarshal(raw, &doc))

	resp, raw = call(t, app, http.MethodPost, "/api/documents/"+doc.ID+"/submit", bearer(t, unconfiguredID, pkgjwt.RoleAdmin), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(raw), "TENANT_CONFIGURATION")
}

func TestDocuments_SinToken_Retorna401(t *testing.T) {
	app := buildDocumentsApp(t)
	resp, _ := call(t, app, http.MethodGet, "/api/documents/x", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
