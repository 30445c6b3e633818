// Package bootstrap arma el grafo de dependencias del emisor a partir de la configuración.
// Lo comparten cmd/api y cmd/nfsectl.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/jhoicas/nfse-emissor/internal/application/credential"
	"github.com/jhoicas/nfse-emissor/internal/application/issuance"
	"github.com/jhoicas/nfse-emissor/internal/application/reconcile"
	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/memory"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/postgres"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider/gateway"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider/nacional"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider/simulated"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/provider/xmldsig"
	"github.com/jhoicas/nfse-emissor/internal/infrastructure/secrets"
	"github.com/jhoicas/nfse-emissor/pkg/config"
	pkgnfse "github.com/jhoicas/nfse-emissor/pkg/nfse"
)

// Tenant de demostración sembrado con NFSE_STORE=memory.
const (
	DevTenantID = "00000000-0000-0000-0000-000000000001"
	DevPayerID  = "00000000-0000-0000-0000-0000000000a1"
)

// Container dependencias ya construidas.
type Container struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Documents     repository.DocumentRepository
	Configs       repository.TenantConfigRepository
	ConfigWriter  repository.TenantConfigWriter
	Companies     repository.CompanyRepository
	CompanyWriter repository.CompanyWriter
	Payers        repository.PayerRepository
	PayerWriter   repository.PayerWriter
	Orchestrator  *issuance.Orchestrator
	Reconciler    *reconcile.Reconciler
	DocumentUC    *usecase.DocumentUseCase
	PayerUC       *usecase.PayerUseCase
	CompanyUC     *usecase.CompanyUseCase

	closers []func()
}

// Close libera los recursos (pool de conexiones).
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// New construye el contenedor. v es la instancia de Viper de la que salió cfg: la fuente de
// secretos lee de ella las referencias env:.
func New(ctx context.Context, cfg *config.Config, v *viper.Viper, log zerolog.Logger) (*Container, error) {
	clock := clockwork.NewRealClock()
	c := &Container{Config: cfg, Logger: log}

	var locker issuance.DocumentLocker
	switch cfg.NFSe.Store {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		c.closers = append(c.closers, pool.Close)
		configs := postgres.NewTenantConfigRepository(pool)
		c.Documents = postgres.NewDocumentRepository(pool)
		c.Configs = configs
		c.ConfigWriter = configs
		companies := postgres.NewCompanyRepository(pool)
		c.Companies = companies
		c.CompanyWriter = companies
		payers := postgres.NewPayerRepository(pool)
		c.Payers = payers
		c.PayerWriter = payers
		if cfg.NFSe.Locker == "postgres" {
			locker = postgres.NewAdvisoryLocker(pool, log)
		}
	default:
		configs := memory.NewTenantConfigRepository()
		companies := memory.NewCompanyRepository()
		payers := memory.NewPayerRepository()
		seedDevTenant(companies, payers, configs)
		c.Documents = memory.NewDocumentRepository()
		c.Configs = configs
		c.ConfigWriter = configs
		c.Companies = companies
		c.CompanyWriter = companies
		c.Payers = payers
		c.PayerWriter = payers
		log.Warn().Str("tenant_id", DevTenantID).Msg("[DEV] almacenamiento en memoria: los datos se pierden al reiniciar")
	}
	if locker == nil {
		locker = issuance.NewMemoryLocker()
	}

	// Las referencias plain: solo se aceptan en modo dev o si se habilitan explícitamente.
	secretSource := secrets.NewViperSource(v, cfg.NFSe.AllowPlainRefs || cfg.NFSe.Mode == config.ModeDev)
	certs := secrets.NewCertificateStore(secretSource, clock)

	selector := issuance.NewSelector(Bindings(cfg, clock, log)...)
	broker := credential.NewBroker(secretSource, credential.Config{
		RefreshMargin:   cfg.Broker.RefreshMargin,
		ExchangeTimeout: cfg.Broker.ExchangeTimeout,
		Clock:           clock,
		Logger:          log,
	})

	c.Orchestrator = issuance.NewOrchestrator(issuance.Deps{
		Documents: c.Documents,
		Configs:   c.Configs,
		Companies: c.Companies,
		Payers:    c.Payers,
		Selector:  selector,
		Broker:    broker,
		Certs:     certs,
		Locker:    locker,
	}, issuance.Config{
		NotFoundGrace: cfg.NFSe.NotFoundGrace,
		Clock:         clock,
		Logger:        log,
	})

	c.Reconciler = reconcile.New(c.Documents, c.Orchestrator, reconcile.Config{
		Interval:       cfg.Reconcile.Interval,
		MinAge:         cfg.Reconcile.MinAge,
		MaxAge:         cfg.Reconcile.MaxAge,
		MaxAttempts:    cfg.Reconcile.MaxAttempts,
		InitialBackoff: cfg.Reconcile.InitialBackoff,
		MaxBackoff:     cfg.Reconcile.MaxBackoff,
		Concurrency:    cfg.Reconcile.Concurrency,
		BatchSize:      cfg.Reconcile.BatchSize,
		Clock:          clock,
		Logger:         log,
	})

	c.DocumentUC = usecase.NewDocumentUseCase(c.Documents, c.Payers, c.Orchestrator)
	c.PayerUC = usecase.NewPayerUseCase(c.Payers, c.PayerWriter)
	c.CompanyUC = usecase.NewCompanyUseCase(c.Companies, c.Configs, c.ConfigWriter)
	return c, nil
}

// Bindings clientes de autoridad según el modo. En dev la autoridad simulada atiende todos los
// identificadores de proveedor, de modo que la configuración real de los tenants sirve tal cual.
func Bindings(cfg *config.Config, clock clockwork.Clock, log zerolog.Logger) []issuance.Binding {
	sim := simulated.NewClient(simulated.Config{Async: cfg.NFSe.SimulatedAsync, Clock: clock, Logger: log})
	if cfg.NFSe.Mode == config.ModeDev {
		log.Warn().Msg("[DEV] NFSE_MODE=dev: ninguna llamada llega a una autoridad real")
		return []issuance.Binding{
			{Provider: pkgnfse.ProviderNacional, Client: sim},
			{Provider: pkgnfse.ProviderGateway, Client: sim},
			{Provider: pkgnfse.ProviderSimulated, Client: sim},
		}
	}

	nac := nacional.NewClient(nacional.Config{
		Homologacao: nacional.Endpoints{TokenURL: cfg.Nacional.HomologacaoTokenURL, BaseURL: cfg.Nacional.HomologacaoBaseURL},
		Producao:    nacional.Endpoints{TokenURL: cfg.Nacional.ProducaoTokenURL, BaseURL: cfg.Nacional.ProducaoBaseURL},
		Scopes:      cfg.Nacional.Scopes(),
		AppVersion:  cfg.App.Name,
		Signer:      xmldsig.NewService(),
		Transport:   provider.Options{RPS: cfg.Nacional.RPS, Burst: cfg.Nacional.Burst, Logger: log},
	})
	gw := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		Transport: provider.Options{RPS: cfg.Gateway.RPS, Burst: cfg.Gateway.Burst, Logger: log},
	})
	return []issuance.Binding{
		{Provider: pkgnfse.ProviderNacional, Client: nac, Timeout: cfg.Nacional.Timeout},
		{Provider: pkgnfse.ProviderGateway, Client: gw, Timeout: cfg.Gateway.Timeout},
		{Provider: pkgnfse.ProviderSimulated, Client: sim},
	}
}

func seedDevTenant(companies *memory.CompanyRepository, payers *memory.PayerRepository, configs *memory.TenantConfigRepository) {
	now := time.Now().UTC()
	companies.Put(&entity.Company{
		ID:               DevTenantID,
		Name:             "Prestadora Demo Ltda",
		CNPJ:             "11222333000181",
		MunicipalityCode: "3550308",
		Status:           entity.CompanyStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	payers.Put(&entity.Payer{
		ID:        DevPayerID,
		TenantID:  DevTenantID,
		Name:      "Tomador Demo",
		TaxID:     "52998224725",
		CreatedAt: now,
		UpdatedAt: now,
	})
	configs.Put(&entity.TenantConfig{
		TenantID:    DevTenantID,
		Provider:    pkgnfse.ProviderSimulated,
		Environment: entity.EnvironmentHomologacao,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}
