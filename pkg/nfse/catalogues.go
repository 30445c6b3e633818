// Package nfse contiene catálogos, identificadores y validaciones de la NFS-e (Brasil)
// compartidos por el dominio y los clientes de cada autoridad.
package nfse

// =============================================================================
// Autoridades (proveedores) soportadas
// =============================================================================

const (
	ProviderNacional  = "NFSE_NACIONAL" // Sistema Nacional NFS-e (Sefin Nacional), OAuth2 + DPS
	ProviderGateway   = "NFSE_GATEWAY"  // Intermediario privado, token bearer estático
	ProviderSimulated = "SIMULADO"      // Autoridad simulada (modo dev)
)

// ValidProviders proveedores aceptados en la configuración del tenant.
var ValidProviders = map[string]bool{
	ProviderNacional:  true,
	ProviderGateway:   true,
	ProviderSimulated: true,
}

// =============================================================================
// Tipo de ambiente (tpAmb)
// =============================================================================

const (
	TpAmbProducao    = "1"
	TpAmbHomologacao = "2"
)

// =============================================================================
// Tipo de inscripción federal (tpInsc) en el identificador de la DPS
// =============================================================================

const (
	TpInscCPF  = "1"
	TpInscCNPJ = "2"
)

// =============================================================================
// Retención del ISSQN (tpRetISSQN)
// =============================================================================

const (
	RetISSNaoRetido      = "1"
	RetISSRetidoTomador  = "2"
	RetISSRetidoIntermed = "3"
)

// =============================================================================
// Eventos de la NFS-e
// =============================================================================

const (
	EventCancelamento = "101101" // Cancelación de NFS-e
)

// Motivos de cancelación (cMotivo).
const (
	CancelReasonErroEmissao        = "1" // Error en la emisión
	CancelReasonServicoNaoPrestado = "2" // Servicio no prestado
	CancelReasonOutros             = "9" // Otros
)

// ValidCancelReasons motivos de cancelación aceptados.
var ValidCancelReasons = map[string]bool{
	CancelReasonErroEmissao:        true,
	CancelReasonServicoNaoPrestado: true,
	CancelReasonOutros:             true,
}

// LayoutVersion versión del layout DPS/eventos.
const LayoutVersion = "1.00"
