package issuance

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jhoicas/nfse-emissor/internal/application/ports"
	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
)

// DefaultProviderTimeout tope de cada llamada a la autoridad si el binding no define uno.
const DefaultProviderTimeout = 30 * time.Second

// Binding cliente registrado para una autoridad y el timeout de sus llamadas.
type Binding struct {
	Provider string // Identificador en la configuración del tenant (pkg/nfse.Provider*)
	Client   ports.ProviderClient
	Timeout  time.Duration
}

// Selector resuelve el ProviderClient a partir de la configuración del tenant.
// Falla cerrado: nunca elige una autoridad por defecto.
type Selector struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewSelector crea un selector con los bindings dados.
func NewSelector(bindings ...Binding) *Selector {
	s := &Selector{bindings: make(map[string]Binding, len(bindings))}
	for _, b := range bindings {
		s.Register(b)
	}
	return s
}

// Register agrega o reemplaza el binding de b.Provider.
func (s *Selector) Register(b Binding) {
	if b.Timeout <= 0 {
		b.Timeout = DefaultProviderTimeout
	}
	s.mu.Lock()
	s.bindings[b.Provider] = b
	s.mu.Unlock()
}

// Select devuelve el binding de la autoridad configurada por el tenant.
func (s *Selector) Select(cfg *entity.TenantConfig) (Binding, error) {
	if cfg == nil {
		return Binding{}, &domain.ConfigurationError{Message: "tenant sin configuración de emisión"}
	}
	if !cfg.IsActive {
		return Binding{}, &domain.ConfigurationError{TenantID: cfg.TenantID, Message: "configuración de emisión inactiva"}
	}
	if err := checkEnvironment(cfg.TenantID, cfg.Environment); err != nil {
		return Binding{}, err
	}
	return s.lookup(cfg.TenantID, cfg.Provider)
}

// SelectFor devuelve el binding de una autoridad concreta (la congelada en el documento al enviarlo).
func (s *Selector) SelectFor(tenantID, provider string) (Binding, error) {
	return s.lookup(tenantID, provider)
}

func (s *Selector) lookup(tenantID, provider string) (Binding, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return Binding{}, &domain.ConfigurationError{TenantID: tenantID, Message: "proveedor no configurado"}
	}
	s.mu.RLock()
	b, ok := s.bindings[provider]
	s.mu.RUnlock()
	if !ok {
		return Binding{}, &domain.ConfigurationError{TenantID: tenantID, Message: fmt.Sprintf("proveedor %q no disponible", provider)}
	}
	return b, nil
}

func checkEnvironment(tenantID, env string) error {
	switch env {
	case entity.EnvironmentHomologacao, entity.EnvironmentProducao:
		return nil
	default:
		return &domain.ConfigurationError{TenantID: tenantID, Message: fmt.Sprintf("ambiente %q inválido (homologacao|producao)", env)}
	}
}
