package entity

import "time"

// Company representa una empresa/tenant emisora de NFS-e (prestador del servicio).
type Company struct {
	ID                    string
	Name                  string
	CNPJ                  string // Solo dígitos
	MunicipalRegistration string // Inscripción municipal
	MunicipalityCode      string // Código IBGE del establecimiento
	SimplesNacional       bool   // Opción por el Simples Nacional
	Email                 string
	Phone                 string
	Status                string // active, suspended, inactive
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Estados de la empresa.
const (
	CompanyStatusActive    = "active"
	CompanyStatusSuspended = "suspended"
	CompanyStatusInactive  = "inactive"
)
