package cmd

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/nfse-emissor/internal/infrastructure/secrets"
	"github.com/jhoicas/nfse-emissor/pkg/config"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// certExpiryWarning antelación con la que se avisa del vencimiento.
const certExpiryWarning = 30 * 24 * time.Hour

var certcheckCmd = &cobra.Command{
	Use:   "certcheck",
	Short: "Diagnostica el certificado digital de un tenant",
	Long: `Abre el certificado (.p12/.pfx o .pem) con su contraseña y muestra titular, emisor,
vigencia y el CNPJ del e-CNPJ. Úsese antes de registrar la ruta con "nfsectl tenant set".`,
	Example: `  nfsectl certcheck --cert /certs/6f1c.p12 --password-ref env:TENANT_6F1C_CERT_PW`,
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath, _ := cmd.Flags().GetString("cert")
		passwordRef, _ := cmd.Flags().GetString("password-ref")

		password := ""
		if passwordRef != "" {
			// Herramienta local: se permiten referencias plain:.
			src := secrets.NewViperSource(config.NewViper(), true)
			var err error
			if password, err = src.Resolve(cmd.Context(), passwordRef); err != nil {
				return fmt.Errorf("contraseña: %w", err)
			}
		}
		return checkCertificate(cmd.OutOrStdout(), certPath, password, time.Now())
	},
}

func init() {
	rootCmd.AddCommand(certcheckCmd)

	certcheckCmd.Flags().String("cert", "", "Ruta al certificado (.p12/.pfx o .pem)")
	certcheckCmd.Flags().String("password-ref", "", "Referencia a la contraseña (env:VAR, file:/ruta, plain:valor)")
	_ = certcheckCmd.MarkFlagRequired("cert")
}

// checkCertificate imprime el diagnóstico y devuelve error si el certificado no sirve para firmar en now.
func checkCertificate(w io.Writer, path, password string, now time.Time) error {
	fmt.Fprintln(w, "DIAGNÓSTICO DE CERTIFICADO NFS-e")
	fmt.Fprintln(w, "--------------------------------")
	fmt.Fprintf(w, "Archivo: %s\n", path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archivo: %w", err)
	}
	fmt.Fprintf(w, "Tamaño: %d bytes\n", info.Size())

	cert, err := secrets.LoadCertificate(path, password)
	if err != nil {
		return fmt.Errorf("contraseña o formato: %w", err)
	}
	leaf := cert.Leaf
	if leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("leer X.509: %w", err)
		}
	}
	if leaf == nil {
		return errors.New("el archivo no contiene certificado")
	}

	fmt.Fprintf(w, "\nTitular:  %s\n", leaf.Subject.String())
	fmt.Fprintf(w, "Emisor:   %s\n", leaf.Issuer.String())
	fmt.Fprintf(w, "Serie:    %s\n", leaf.SerialNumber.String())
	fmt.Fprintf(w, "Vigencia: %s → %s\n", leaf.NotBefore.Format(time.RFC3339), leaf.NotAfter.Format(time.RFC3339))

	// Los e-CNPJ llevan el CNPJ al final del CN ("RAZON SOCIAL:11222333000181").
	if digits := pkgnfse.OnlyDigits(leaf.Subject.CommonName); len(digits) >= 14 {
		cnpj := digits[len(digits)-14:]
		if pkgnfse.ValidateCNPJ(cnpj) == nil {
			fmt.Fprintf(w, "CNPJ:     %s\n", cnpj)
		}
	}

	switch {
	case now.Before(leaf.NotBefore):
		return fmt.Errorf("el certificado aún no es válido (desde %s)", leaf.NotBefore.Format(time.RFC3339))
	case now.After(leaf.NotAfter):
		return fmt.Errorf("el certificado está vencido (%s)", leaf.NotAfter.Format(time.RFC3339))
	case leaf.NotAfter.Sub(now) < certExpiryWarning:
		fmt.Fprintf(w, "\nAVISO: vence en %d días\n", int(leaf.NotAfter.Sub(now).Hours()/24))
	}
	fmt.Fprintln(w, "\nOK: certificado y contraseña correctos.")
	return nil
}
