package dto

import "time"

// CompanyResponse empresa emisora del token (sin datos sensibles).
type CompanyResponse struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	CNPJ                  string    `json:"cnpj"`
	MunicipalRegistration string    `json:"municipal_registration,omitempty"`
	MunicipalityCode      string    `json:"municipality_code"`
	SimplesNacional       bool      `json:"simples_nacional"`
	Email                 string    `json:"email,omitempty"`
	Phone                 string    `json:"phone,omitempty"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// NFSeConfigRequest body de PUT /api/company/nfse-config.
// Los campos *_ref son referencias (env:VAR, file:/ruta), nunca el secreto.
type NFSeConfigRequest struct {
	Provider               string `json:"provider"`
	Environment            string `json:"environment"`
	ClientID               string `json:"client_id,omitempty"`
	ClientSecretRef        string `json:"client_secret_ref,omitempty"`
	StaticTokenRef         string `json:"static_token_ref,omitempty"`
	CertificateRef         string `json:"certificate_ref,omitempty"`
	CertificatePasswordRef string `json:"certificate_password_ref,omitempty"`
	Inactive               bool   `json:"inactive,omitempty"`
}

// NFSeConfigResponse configuración de emisión. Solo indica qué referencias están cargadas.
type NFSeConfigResponse struct {
	Provider        string    `json:"provider"`
	Environment     string    `json:"environment"`
	ClientID        string    `json:"client_id,omitempty"`
	HasClientSecret bool      `json:"has_client_secret"`
	HasStaticToken  bool      `json:"has_static_token"`
	HasCertificate  bool      `json:"has_certificate"`
	IsActive        bool      `json:"is_active"`
	UpdatedAt       time.Time `json:"updated_at"`
}
