package entity

import "time"

// Payer representa al tomador del servicio (puede no estar identificado en el documento).
type Payer struct {
	ID               string
	TenantID         string
	Name             string
	TaxID            string // CPF o CNPJ (solo dígitos)
	Email            string
	Phone            string
	MunicipalityCode string // Código IBGE del domicilio
	Address          string
	PostalCode       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
