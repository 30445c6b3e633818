package nfse

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// LineTotal total de una línea: cantidad × valor unitario, redondeado a 2 decimales.
func LineTotal(quantity, unitValue decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitValue).Round(2)
}

// ComputeNetValue calcula el ValorLiquido: bruto − deducciones − retenciones.
// Aritmética decimal exacta; sin redondeos intermedios.
func ComputeNetValue(doc *entity.FiscalDocument) (decimal.Decimal, error) {
	money := []struct {
		field string
		value decimal.Decimal
	}{
		{"service_value", doc.ServiceValue},
		{"deductions", doc.Deductions},
		{"withholdings.iss", doc.Withholdings.ISS},
		{"withholdings.pis", doc.Withholdings.PIS},
		{"withholdings.cofins", doc.Withholdings.COFINS},
		{"withholdings.csll", doc.Withholdings.CSLL},
		{"withholdings.irrf", doc.Withholdings.IRRF},
		{"withholdings.inss", doc.Withholdings.INSS},
	}
	for _, m := range money {
		if m.value.IsNegative() {
			return decimal.Zero, domain.NewValidationError(m.field, "no puede ser negativo")
		}
	}
	net := doc.ServiceValue.Sub(doc.Deductions).Sub(doc.Withholdings.Total())
	if net.IsNegative() {
		return decimal.Zero, domain.NewValidationError("net_value",
			fmt.Sprintf("deducciones y retenciones (%s) superan el valor del servicio (%s)",
				doc.Deductions.Add(doc.Withholdings.Total()).String(), doc.ServiceValue.String()))
	}
	return net, nil
}

// ValidateForSubmission valida el documento antes del envío a la autoridad.
// company es el prestador; payer puede ser nil (tomador no identificado).
// Devuelve un error que satisface errors.Is(err, domain.ErrValidation), con todas las fallas unidas.
func ValidateForSubmission(doc *entity.FiscalDocument, company *entity.Company, payer *entity.Payer) error {
	if doc == nil {
		return domain.NewValidationError("document", "documento nulo")
	}
	var errs []error
	add := func(field, msg string) { errs = append(errs, domain.NewValidationError(field, msg)) }

	if company == nil {
		add("tenant_id", "empresa emisora no encontrada")
	} else if err := pkgnfse.ValidateCNPJ(company.CNPJ); err != nil {
		add("tenant.cnpj", err.Error())
	}
	if payer != nil {
		if err := pkgnfse.ValidateTaxID(payer.TaxID); err != nil {
			add("payer.tax_id", err.Error())
		}
	}
	if doc.IssueDate.IsZero() {
		add("issue_date", "obligatoria")
	}
	if doc.Competence.IsZero() {
		add("competence", "obligatoria")
	} else if !doc.IssueDate.IsZero() && doc.Competence.After(doc.IssueDate) {
		add("competence", "no puede ser posterior a la fecha de emisión")
	}
	if doc.DueDate != nil && !doc.IssueDate.IsZero() && doc.DueDate.Before(doc.IssueDate) {
		add("due_date", "anterior a la fecha de emisión")
	}
	if !doc.ServiceValue.IsPositive() {
		add("service_value", "debe ser mayor que cero")
	}
	if strings.TrimSpace(doc.Description) == "" {
		add("description", "obligatoria")
	}
	if err := pkgnfse.ValidateMunicipalityCode(doc.MunicipalityCode); err != nil {
		add("municipality_code", err.Error())
	}
	if doc.SequenceNumber <= 0 {
		add("sequence_number", "debe ser mayor que cero")
	}
	if _, err := ComputeNetValue(doc); err != nil {
		errs = append(errs, err)
	}

	// Totales coherentes con los ítems.
	if len(doc.Items) > 0 {
		sum := decimal.Zero
		for i, it := range doc.Items {
			if !it.Quantity.IsPositive() {
				add(fmt.Sprintf("items[%d].quantity", i), "debe ser mayor que cero")
			}
			if it.UnitValue.IsNegative() {
				add(fmt.Sprintf("items[%d].unit_value", i), "no puede ser negativo")
			}
			if it.TaxRate.IsNegative() {
				add(fmt.Sprintf("items[%d].tax_rate", i), "no puede ser negativa")
			}
			expected := LineTotal(it.Quantity, it.UnitValue)
			if !it.Total.Equal(expected) {
				add(fmt.Sprintf("items[%d].total", i),
					fmt.Sprintf("total (%s) no coincide con cantidad × valor unitario (%s)", it.Total.String(), expected.String()))
			}
			sum = sum.Add(it.Total)
		}
		if !sum.Equal(doc.ServiceValue) {
			add("service_value", fmt.Sprintf("valor del servicio (%s) no coincide con la suma de ítems (%s)",
				doc.ServiceValue.String(), sum.String()))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
