package http_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	pkgjwt "github.com/jhoicas/nfse-emissor/pkg/jwt"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

func TestPayers_CreateListAndGet(t *testing.T) {
	app := buildDocumentsApp(t)
	auth := bearer(t, testCompanyID, pkgjwt.RoleEmissor)

	resp, body := call(t, app, http.MethodPost, "/api/payers", auth, map[string]any{
		"name":   "Cliente Nuevo Ltda",
		"tax_id": "11.222.333/0001-81",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created dto.PayerResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "11222333000181", created.TaxID)
	assert.Equal(t, testCompanyID, created.TenantID)

	resp, body = call(t, app, http.MethodPost, "/api/payers", auth, map[string]any{
		"name":   "Otro nombre",
		"tax_id": "11222333000181",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, body = call(t, app, http.MethodGet, "/api/payers?limit=10", auth, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var list dto.PayerListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "Cliente Nuevo Ltda", list.Items[0].Name)
	assert.Equal(t, 10, list.Page.Limit)

	resp, _ = call(t, app, http.MethodGet, "/api/payers/"+created.ID, auth, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, app, http.MethodGet, "/api/payers/"+created.ID, bearer(t, otherCompanyID, pkgjwt.RoleEmissor), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPayers_CreateInvalidTaxID(t *testing.T) {
	app := buildDocumentsApp(t)
	auth := bearer(t, testCompanyID, pkgjwt.RoleEmissor)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"sin nombre", map[string]any{"tax_id": "52998224725"}},
		{"dígito verificador", map[string]any{"name": "X", "tax_id": "52998224726"}},
		{"municipio", map[string]any{"name": "X", "tax_id": "11144477735", "municipality_code": "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := call(t, app, http.MethodPost, "/api/payers", auth, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
		})
	}
}

func TestPayers_AuditorCannotCreate(t *testing.T) {
	app := buildDocumentsApp(t)
	resp, _ := call(t, app, http.MethodPost, "/api/payers", bearer(t, testCompanyID, pkgjwt.RoleAuditor), map[string]any{
		"name": "X", "tax_id": "11144477735",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCompany_GetProfile(t *testing.T) {
	app := buildDocumentsApp(t)
	resp, body := call(t, app, http.MethodGet, "/api/company", bearer(t, testCompanyID, pkgjwt.RoleAuditor), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var company dto.CompanyResponse
	require.NoError(t, json.Unmarshal(body, &company))
	assert.Equal(t, testCompanyID, company.ID)
	assert.Equal(t, "11222333000181", company.CNPJ)
}

func TestCompany_NFSeConfig(t *testing.T) {
	app := buildDocumentsApp(t)
	admin := bearer(t, unconfiguredID, pkgjwt.RoleAdmin)

	resp, _ := call(t, app, http.MethodGet, "/api/company/nfse-config", admin, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := call(t, app, http.MethodPut, "/api/company/nfse-config", admin, map[string]any{
		"provider":    pkgnfse.ProviderGateway,
		"environment": "homologacao",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = call(t, app, http.MethodPut, "/api/company/nfse-config", admin, map[string]any{
		"provider":         "nfse_gateway",
		"environment":      "homologacao",
		"static_token_ref": "env:GATEWAY_TOKEN_T4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var cfg dto.NFSeConfigResponse
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, pkgnfse.ProviderGateway, cfg.Provider)
	assert.True(t, cfg.HasStaticToken)
	assert.False(t, cfg.HasCertificate)
	assert.True(t, cfg.IsActive)
	assert.NotContains(t, string(body), "GATEWAY_TOKEN_T4")

	resp, _ = call(t, app, http.MethodGet, "/api/company/nfse-config", admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCompany_NFSeConfigRequiresAdmin(t *testing.T) {
	app := buildDocumentsApp(t)
	resp, _ := call(t, app, http.MethodPut, "/api/company/nfse-config", bearer(t, testCompanyID, pkgjwt.RoleEmissor), map[string]any{
		"provider": pkgnfse.ProviderSimulated, "environment": "homologacao",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
