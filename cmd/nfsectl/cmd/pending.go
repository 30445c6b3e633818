package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfse-emissor/internal/bootstrap"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Lista documentos SUBMITTED pendientes de resultado",
	Long: `Lista documentos en SUBMITTED para conciliación manual.

Con --ambiguous muestra solo los envíos cuyo resultado se desconoce (la solicitud
llegó a la autoridad pero la respuesta se perdió). Esos documentos nunca se
reenvían: se resuelven con "nfsectl poll" o, confirmada su inexistencia, con
"nfsectl expire".`,
	Example: `  nfsectl pending --ambiguous
  nfsectl pending --older-than 1h --limit 20 --json`,
	RunE: runPending,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Ejecuta un barrido de conciliación inmediato",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
			stats, err := c.Reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listados=%d consultados=%d expirados=%d omitidos=%d fallidos=%d\n",
				stats.Listed, stats.Polled, stats.Expired, stats.Skipped, stats.Failed)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pendingCmd, sweepCmd)

	pendingCmd.Flags().Bool("ambiguous", false, "Solo envíos con resultado ambiguo")
	pendingCmd.Flags().Duration("older-than", 0, "Solo enviados hace más de esta duración")
	pendingCmd.Flags().Int("limit", 50, "Máximo de documentos")
	pendingCmd.Flags().Bool("json", false, "Salida JSON")
}

func runPending(cmd *cobra.Command, args []string) error {
	ambiguous, _ := cmd.Flags().GetBool("ambiguous")
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	if limit <= 0 {
		return fmt.Errorf("--limit debe ser positivo")
	}

	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		var (
			docs []*entity.FiscalDocument
			err  error
		)
		if ambiguous {
			docs, err = c.Documents.ListAmbiguous(ctx, limit)
		} else {
			docs, err = c.Documents.ListSubmitted(ctx, time.Now().UTC().Add(-olderThan), limit)
		}
		if err != nil {
			return err
		}

		if asJSON {
			type row struct {
				ID           string     `json:"id"`
				TenantID     string     `json:"tenant_id"`
				Provider     string     `json:"provider"`
				ReceiptID    string     `json:"receipt_id"`
				Ambiguous    bool       `json:"ambiguous_outcome"`
				PollAttempts int        `json:"poll_attempts"`
				SubmittedAt  *time.Time `json:"submitted_at"`
			}
			rows := make([]row, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, row{d.ID, d.TenantID, d.Provider, d.ReceiptID, d.AmbiguousOutcome, d.PollAttempts, d.SubmittedAt})
			}
			return printJSON(cmd.OutOrStdout(), rows)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTENANT\tPROVEEDOR\tPROTOCOLO\tAMBIGUO\tCONSULTAS\tENVIADO")
		for _, d := range docs {
			submitted := "-"
			if d.SubmittedAt != nil {
				submitted = d.SubmittedAt.Format(time.RFC3339)
			}
			receipt := d.ReceiptID
			if receipt == "" {
				receipt = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
				d.ID, d.TenantID, d.Provider, receipt, d.AmbiguousOutcome, d.PollAttempts, submitted)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d documento(s)\n", len(docs))
		return nil
	})
}
