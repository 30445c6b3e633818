package nfse

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeText normaliza a NFC, elimina caracteres de control, colapsa espacios y trunca a max runas
// (max <= 0 = sin límite). Los esquemas de la NFS-e rechazan controles y espacios duplicados.
func SanitizeText(s string, max int) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			if !space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if max > 0 {
		if runes := []rune(out); len(runes) > max {
			out = strings.TrimSpace(string(runes[:max]))
		}
	}
	return out
}

// TpAmb código tpAmb del ambiente del tenant.
func TpAmb(environment string) string {
	if environment == "producao" {
		return TpAmbProducao
	}
	return TpAmbHomologacao
}
