package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
	"github.com/jhoicas/nfse-emissor/internal/bootstrap"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/pkg/config"
	"github.com/jhoicas/nfse-emissor/pkg/jwt"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Configuración de emisión por tenant",
}

var tenantSetCmd = &cobra.Command{
	Use:   "set <tenant-id>",
	Short: "Crea o reemplaza la configuración de emisión de un tenant",
	Long: `Registra la autoridad, el ambiente y las referencias a secretos de un tenant.
Los secretos nunca se guardan: solo su referencia (env:VAR, file:/ruta).`,
	Example: `  nfsectl tenant set 6f1c... --provider NFSE_NACIONAL --environment homologacao \
    --client-id abc --client-secret-ref env:TENANT_6F1C_SECRET \
    --certificate-ref /certs/6f1c.p12 --certificate-password-ref env:TENANT_6F1C_CERT_PW`,
	Args: cobra.ExactArgs(1),
	RunE: runTenantSet,
}

var tenantCreateCmd = &cobra.Command{
	Use:     "create",
	Short:   "Registra una empresa emisora (prestador)",
	Example: `  nfsectl tenant create --name "Prestadora Ltda" --cnpj 11.222.333/0001-81 --municipality 3550308`,
	RunE:    runTenantCreate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Emite un JWT de acceso a la API para una empresa",
	RunE: func(cmd *cobra.Command, args []string) error {
		company, _ := cmd.Flags().GetString("company")
		user, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		minutes, _ := cmd.Flags().GetInt("minutes")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		switch role {
		case jwt.RoleAdmin, jwt.RoleEmissor, jwt.RoleAuditor:
		default:
			return fmt.Errorf("rol %q inválido (admin|emissor|auditor)", role)
		}
		if minutes <= 0 {
			minutes = cfg.JWT.Expiration
		}
		id := jwt.Identity{UserID: user, CompanyID: company, Role: role}
		tok, err := jwt.Generate(cfg.JWT.Secret, cfg.JWT.Issuer, id, time.Duration(minutes)*time.Minute)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tenantCmd, tokenCmd)
	tenantCmd.AddCommand(tenantCreateCmd, tenantSetCmd)

	cf := tenantCreateCmd.Flags()
	cf.String("id", "", "ID de la empresa (por defecto un UUID nuevo)")
	cf.String("name", "", "Razón social")
	cf.String("cnpj", "", "CNPJ del prestador")
	cf.String("municipal-registration", "", "Inscripción municipal")
	cf.String("municipality", "", "Código IBGE del establecimiento")
	cf.Bool("simples-nacional", false, "Optante por el Simples Nacional")
	cf.String("email", "", "Correo de contacto")
	_ = tenantCreateCmd.MarkFlagRequired("name")
	_ = tenantCreateCmd.MarkFlagRequired("cnpj")
	_ = tenantCreateCmd.MarkFlagRequired("municipality")

	f := tenantSetCmd.Flags()
	f.String("provider", "", "Autoridad: NFSE_NACIONAL | NFSE_GATEWAY | SIMULADO")
	f.String("environment", entity.EnvironmentHomologacao, "Ambiente: homologacao | producao")
	f.String("client-id", "", "Client ID OAuth2 (autoridad nacional)")
	f.String("client-secret-ref", "", "Referencia al client secret")
	f.String("static-token-ref", "", "Referencia al token del intermediario")
	f.String("certificate-ref", "", "Ruta al certificado PKCS#12 del tenant")
	f.String("certificate-password-ref", "", "Referencia a la contraseña del certificado")
	f.Bool("inactive", false, "Registrar la configuración desactivada")
	_ = tenantSetCmd.MarkFlagRequired("provider")

	tokenCmd.Flags().String("company", bootstrap.DevTenantID, "ID de la empresa (tenant)")
	tokenCmd.Flags().String("user", "nfsectl", "ID del usuario")
	tokenCmd.Flags().String("role", jwt.RoleEmissor, "Rol: admin | emissor | auditor")
	tokenCmd.Flags().Int("minutes", 0, "Vigencia en minutos (0 = JWT_EXPIRATION_MINUTES)")
}

func runTenantCreate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	id, _ := f.GetString("id")
	name, _ := f.GetString("name")
	cnpj, _ := f.GetString("cnpj")
	municipality, _ := f.GetString("municipality")

	cnpj = pkgnfse.OnlyDigits(cnpj)
	if err := pkgnfse.ValidateCNPJ(cnpj); err != nil {
		return err
	}
	if err := pkgnfse.ValidateMunicipalityCode(municipality); err != nil {
		return err
	}
	if id == "" {
		id = uuid.New().String()
	} else if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("--id debe ser un UUID: %w", err)
	}

	now := time.Now().UTC()
	company := &entity.Company{
		ID:               id,
		Name:             strings.TrimSpace(name),
		CNPJ:             cnpj,
		MunicipalityCode: municipality,
		Status:           entity.CompanyStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	company.MunicipalRegistration, _ = f.GetString("municipal-registration")
	company.SimplesNacional, _ = f.GetBool("simples-nacional")
	company.Email, _ = f.GetString("email")

	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		if err := c.CompanyWriter.Create(ctx, company); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), company.ID)
		return nil
	})
}

func runTenantSet(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	provider, _ := f.GetString("provider")
	environment, _ := f.GetString("environment")
	inactive, _ := f.GetBool("inactive")

	tc := &entity.TenantConfig{
		TenantID:    args[0],
		Provider:    strings.ToUpper(strings.TrimSpace(provider)),
		Environment: environment,
		IsActive:    !inactive,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	tc.ClientID, _ = f.GetString("client-id")
	tc.ClientSecretRef, _ = f.GetString("client-secret-ref")
	tc.StaticTokenRef, _ = f.GetString("static-token-ref")
	tc.CertificateRef, _ = f.GetString("certificate-ref")
	tc.CertificatePasswordRef, _ = f.GetString("certificate-password-ref")

	if err := usecase.ValidateTenantConfig(tc); err != nil {
		return err
	}

	return withContainer(cmd, func(ctx context.Context, c *bootstrap.Container) error {
		if err := c.ConfigWriter.Upsert(ctx, tc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuración de %s guardada: %s/%s activo=%t\n",
			tc.TenantID, tc.Provider, tc.Environment, tc.IsActive)
		return nil
	})
}
