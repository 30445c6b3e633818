package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfse-emissor/internal/bootstrap"
	"github.com/jhoicas/nfse-emissor/pkg/config"
	"github.com/jhoicas/nfse-emissor/pkg/logger"
)

var (
	version = "1.0.0"

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "nfsectl",
	Short: "Operación del emisor de NFS-e",
	Long: `nfsectl opera el orquestador de emisión con la misma configuración que la API
(variables de entorno, .env o config.env).

Sirve para la conciliación manual de documentos con resultado ambiguo, para
reintentar envíos y para dar de alta la configuración de emisión de un tenant.`,
	Example: `  # Documentos enviados sin resultado de la autoridad
  nfsectl pending --ambiguous

  # Consultar a la autoridad un documento SUBMITTED
  nfsectl poll 6f1c...

  # Cancelar una NFS-e autorizada
  nfsectl cancel 6f1c... --reason-code 1 --reason "Emitida en duplicado"`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute ejecuta el comando raíz.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Logs de depuración")
}

// withContainer carga la configuración, arma las dependencias y ejecuta fn.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *bootstrap.Container) error) error {
	v := config.NewViper()
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Env: "development", Level: level, Service: "nfsectl", Output: os.Stderr})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := bootstrap.New(ctx, cfg, v, log.Zerolog())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("serializar salida: %w", err)
	}
	return nil
}
