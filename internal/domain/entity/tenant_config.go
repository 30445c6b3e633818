package entity

import "time"

// Ambientes de emisión (por tenant, nunca globales).
const (
	EnvironmentHomologacao = "homologacao" // Pruebas / producción restringida
	EnvironmentProducao    = "producao"
)

// TenantConfig configuración de emisión del tenant: autoridad elegida, ambiente y referencias a
// credenciales. Es propiedad exclusiva del tenant; el orquestador solo la lee.
// Los *Ref son referencias que SecretSource resuelve a secretos descifrados bajo demanda.
type TenantConfig struct {
	TenantID               string
	Provider               string // Identificador de la autoridad (ver pkg/nfse)
	Environment            string // homologacao | producao
	ClientID               string // OAuth2 client id (autoridad nacional)
	ClientSecretRef        string // OAuth2 client secret (autoridad nacional)
	StaticTokenRef         string // Token bearer de larga duración (intermediario)
	CertificateRef         string // Ruta al certificado digital .p12/.pfx
	CertificatePasswordRef string // Contraseña del certificado
	IsActive               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// TenantCredentials secretos ya resueltos para autenticarse ante una autoridad.
type TenantCredentials struct {
	TenantID     string
	Environment  string
	ClientID     string
	ClientSecret string
	StaticToken  string
}
