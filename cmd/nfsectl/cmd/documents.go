package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
	"github.com/jhoicas/nfse-emissor/internal/bootstrap"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

var submitCmd = &cobra.Command{
	Use:   "submit <document-id>",
	Short: "Envía un documento DRAFT a la autoridad del tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIssuance(cmd, func(ctx context.Context, c *bootstrap.Container) (*entity.FiscalDocument, error) {
			return c.Orchestrator.Submit(ctx, args[0])
		})
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll <document-id>",
	Short: "Consulta a la autoridad el resultado de un documento SUBMITTED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIssuance(cmd, func(ctx context.Context, c *bootstrap.Container) (*entity.FiscalDocument, error) {
			return c.Orchestrator.Poll(ctx, args[0])
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <document-id>",
	Short: "Cancela una NFS-e autorizada",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reasonCode, _ := cmd.Flags().GetString("reason-code")
		reason, _ := cmd.Flags().GetString("reason")
		return runIssuance(cmd, func(ctx context.Context, c *bootstrap.Container) (*entity.FiscalDocument, error) {
			return c.Orchestrator.Cancel(ctx, args[0], reasonCode, reason)
		})
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire <document-id>",
	Short: "Rechaza manualmente un documento SUBMITTED sin resultado de la autoridad",
	Long: `Pasa a REJECTED un documento SUBMITTED que la autoridad nunca resolvió.
Úsese solo tras confirmar en el portal de la autoridad que la nota no existe.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return runIssuance(cmd, func(ctx context.Context, c *bootstrap.Container) (*entity.FiscalDocument, error) {
			return c.Orchestrator.Expire(ctx, args[0], reason)
		})
	},
}

func init() {
	rootCmd.AddCommand(submitCmd, pollCmd, cancelCmd, expireCmd)

	cancelCmd.Flags().String("reason-code", "", "Código de motivo (1 erro na emissão, 2 serviço não prestado, 9 outros)")
	cancelCmd.Flags().String("reason", "", "Motivo de la cancelación")
	_ = cancelCmd.MarkFlagRequired("reason")

	expireCmd.Flags().String("reason", "expirado manualmente: sin registro en la autoridad", "Motivo registrado en el documento")
}

// runIssuance ejecuta una operación del orquestador e imprime el documento resultante.
// Un rechazo de la autoridad imprime el documento y devuelve el error.
func runIssuance(cmd *cobra.Command, op func(ctx context.Context, c *bootstrap.Container) (*entity.FiscalDocument, error)) error {
	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		doc, err := op(ctx, c)
		if doc != nil && (err == nil || domain.KindOf(err) == domain.KindAuthorityRejected) {
			if perr := printJSON(cmd.OutOrStdout(), usecase.DocumentToResponse(doc)); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("%s: %w", domain.KindOf(err), err)
		}
		return nil
	})
}
