package dto

// CreatePayerRequest body para POST /api/payers.
type CreatePayerRequest struct {
	Name             string `json:"name"`
	TaxID            string `json:"tax_id"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	MunicipalityCode string `json:"municipality_code,omitempty"`
	Address          string `json:"address,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
}

// PayerResponse tomador en respuestas.
type PayerResponse struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	Name             string `json:"name"`
	TaxID            string `json:"tax_id"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	MunicipalityCode string `json:"municipality_code,omitempty"`
	Address          string `json:"address,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
}

// PayerListResponse lista paginada de tomadores.
type PayerListResponse struct {
	Items []PayerResponse `json:"items"`
	Page  PageResponse    `json:"page"`
}
