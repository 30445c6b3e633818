package nfse

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DPSIDParams datos que componen el identificador de la DPS (Declaração de Prestação de Serviço).
type DPSIDParams struct {
	MunicipalityCode string // cLocEmi, IBGE 7 dígitos
	IssuerTaxID      string // CNPJ o CPF del prestador
	Series           string // Serie de la DPS (hasta 5 dígitos)
	Number           int64  // Número de la DPS (hasta 15 dígitos)
}

// BuildDPSID genera el identificador determinista de la DPS (45 caracteres):
//
//	"DPS" + cLocEmi(7) + tpInsc(1) + inscFed(14) + serie(5) + nDPS(15)
//
// Al ser determinista, el mismo documento produce siempre el mismo id: la autoridad nacional
// rechaza un segundo envío con el mismo id y permite localizar un envío de resultado ambiguo.
func BuildDPSID(p DPSIDParams) (string, error) {
	if err := ValidateMunicipalityCode(p.MunicipalityCode); err != nil {
		return "", err
	}
	insc := OnlyDigits(p.IssuerTaxID)
	var tpInsc string
	switch len(insc) {
	case 14:
		tpInsc = TpInscCNPJ
	case 11:
		tpInsc = TpInscCPF
	default:
		return "", fmt.Errorf("nfse: inscripción federal del prestador inválida: %q", p.IssuerTaxID)
	}
	serie := OnlyDigits(p.Series)
	if serie == "" {
		serie = "1"
	}
	if len(serie) > 5 {
		return "", fmt.Errorf("nfse: serie de la DPS excede 5 dígitos: %q", p.Series)
	}
	if p.Number <= 0 || p.Number > 999_999_999_999_999 {
		return "", fmt.Errorf("nfse: número de DPS fuera de rango: %d", p.Number)
	}
	return "DPS" + p.MunicipalityCode + tpInsc +
		leftPad(insc, 14) + leftPad(serie, 5) + fmt.Sprintf("%015d", p.Number), nil
}

// FormatAmount formatea un monto para el XML: punto decimal, 2 decimales, sin separador de miles.
func FormatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}
