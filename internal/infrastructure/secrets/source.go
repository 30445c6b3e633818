// Package secrets resuelve las referencias a credenciales de la configuración del tenant y carga
// su certificado digital. El almacenamiento real de secretos queda fuera: aquí solo se entregan
// valores descifrados bajo demanda.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
)

// Esquemas de referencia soportados.
const (
	SchemeEnv   = "env:"   // env:NFSE_TENANT1_SECRET → variable de entorno / clave de Viper
	SchemeFile  = "file:"  // file:/run/secrets/tenant1 → contenido del archivo
	SchemePlain = "plain:" // plain:valor → literal (solo desarrollo)
)

// ViperSource implementa ports.SecretSource sobre Viper (env + archivos .env) y archivos montados.
type ViperSource struct {
	v          *viper.Viper
	allowPlain bool
}

var _ ports.SecretSource = (*ViperSource)(nil)

// NewViperSource crea la fuente. allowPlain habilita referencias literales (modo dev).
func NewViperSource(v *viper.Viper, allowPlain bool) *ViperSource {
	return &ViperSource{v: v, allowPlain: allowPlain}
}

// Resolve devuelve el secreto de ref. Un secreto ausente o vacío devuelve domain.ErrNotFound.
func (s *ViperSource) Resolve(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(ref, SchemeEnv):
		key := strings.TrimPrefix(ref, SchemeEnv)
		val := strings.TrimSpace(s.v.GetString(key))
		if val == "" {
			return "", fmt.Errorf("secreto %s: %w", key, domain.ErrNotFound)
		}
		return val, nil
	case strings.HasPrefix(ref, SchemeFile):
		path := strings.TrimPrefix(ref, SchemeFile)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("secreto %s: %w", path, domain.ErrNotFound)
			}
			return "", fmt.Errorf("leer secreto %s: %w", path, err)
		}
		val := strings.TrimSpace(string(data))
		if val == "" {
			return "", fmt.Errorf("secreto %s vacío: %w", path, domain.ErrNotFound)
		}
		return val, nil
	case strings.HasPrefix(ref, SchemePlain):
		if !s.allowPlain {
			return "", fmt.Errorf("referencias literales deshabilitadas fuera de modo dev: %w", domain.ErrInvalidInput)
		}
		return strings.TrimPrefix(ref, SchemePlain), nil
	case ref == "":
		return "", fmt.Errorf("referencia de secreto vacía: %w", domain.ErrNotFound)
	default:
		return "", fmt.Errorf("esquema de referencia desconocido en %q: %w", ref, domain.ErrInvalidInput)
	}
}
