package nfse

import (
	"fmt"
	"strings"
)

var (
	cnpjWeights1 = [12]int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = [13]int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ valida los dígitos verificadores (módulo 11) de un CNPJ con o sin máscara.
func ValidateCNPJ(cnpj string) error {
	d := OnlyDigits(cnpj)
	if len(d) != 14 {
		return fmt.Errorf("nfse: CNPJ debe tener 14 dígitos, se encontraron %d", len(d))
	}
	if allSame(d) {
		return fmt.Errorf("nfse: CNPJ inválido %s", d)
	}
	dv1 := mod11(d[:12], cnpjWeights1[:])
	dv2 := mod11(d[:13], cnpjWeights2[:])
	if d[12] != dv1 || d[13] != dv2 {
		return fmt.Errorf("nfse: dígitos verificadores del CNPJ inválidos: esperado %c%c, recibido %s", dv1, dv2, d[12:])
	}
	return nil
}

// ValidateCPF valida los dígitos verificadores de un CPF con o sin máscara.
func ValidateCPF(cpf string) error {
	d := OnlyDigits(cpf)
	if len(d) != 11 {
		return fmt.Errorf("nfse: CPF debe tener 11 dígitos, se encontraron %d", len(d))
	}
	if allSame(d) {
		return fmt.Errorf("nfse: CPF inválido %s", d)
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	dv1 := mod11(d[:9], w1)
	dv2 := mod11(d[:10], w2)
	if d[9] != dv1 || d[10] != dv2 {
		return fmt.Errorf("nfse: dígitos verificadores del CPF inválidos: esperado %c%c, recibido %s", dv1, dv2, d[9:])
	}
	return nil
}

// ValidateTaxID valida un CPF (11 dígitos) o un CNPJ (14 dígitos).
func ValidateTaxID(taxID string) error {
	switch len(OnlyDigits(taxID)) {
	case 11:
		return ValidateCPF(taxID)
	case 14:
		return ValidateCNPJ(taxID)
	default:
		return fmt.Errorf("nfse: documento %q no es CPF ni CNPJ", taxID)
	}
}

// ibgeInvalidDV municipios oficiales cuyo código IBGE no cumple el dígito verificador.
var ibgeInvalidDV = map[string]bool{
	"2201919": true, "2201988": true, "2202251": true, "2611533": true,
	"3117836": true, "3152131": true, "4305871": true, "5203939": true, "5203962": true,
}

// ValidateMunicipalityCode valida un código IBGE de municipio (7 dígitos, el último verificador).
func ValidateMunicipalityCode(code string) error {
	if len(code) != 7 || OnlyDigits(code) != code {
		return fmt.Errorf("nfse: código de municipio IBGE debe tener 7 dígitos: %q", code)
	}
	if ibgeInvalidDV[code] {
		return nil
	}
	var sum int
	for i := 0; i < 6; i++ {
		p := int(code[i]-'0') * (1 + i%2)
		sum += p/10 + p%10
	}
	dv := byte('0' + (10-sum%10)%10)
	if code[6] != dv {
		return fmt.Errorf("nfse: dígito verificador IBGE inválido en %s: esperado %c", code, dv)
	}
	return nil
}

func mod11(digits string, weights []int) byte {
	var sum int
	for i := range weights {
		sum += int(digits[i]-'0') * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + (11 - r))
}

func allSame(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}

// OnlyDigits deja solo dígitos 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
