package entity

import "github.com/shopspring/decimal"

// DocumentItem representa una línea de servicio de la NFS-e.
type DocumentItem struct {
	ID          string
	DocumentID  string
	Code        string
	Description string
	Quantity    decimal.Decimal
	UnitValue   decimal.Decimal
	Total       decimal.Decimal // Quantity × UnitValue
	TaxRate     decimal.Decimal // Alícuota (ej: 0.05 = 5 %)
}
