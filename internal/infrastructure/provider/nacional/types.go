package nacional

import "strings"

// Cuerpos JSON de la API de la Sefin Nacional.

type dpsRequest struct {
	DPSXMLGZipB64 string `json:"dpsXmlGZipB64"`
}

type eventRequest struct {
	PedidoRegistroEventoXMLGZipB64 string `json:"pedidoRegistroEventoXmlGZipB64"`
}

type apiMessage struct {
	Codigo      string `json:"codigo"`
	Descricao   string `json:"descricao"`
	Complemento string `json:"complemento,omitempty"`
}

// dpsResponse respuesta de recepción y de consulta de DPS.
type dpsResponse struct {
	TipoAmbiente          int          `json:"tipoAmbiente"`
	VersaoAplicativo      string       `json:"versaoAplicativo"`
	DataHoraProcessamento string       `json:"dataHoraProcessamento"`
	IDDPS                 string       `json:"idDps"`
	Protocolo             string       `json:"protocolo"`
	Situacao              string       `json:"situacao"`
	ChaveAcesso           string       `json:"chaveAcesso"`
	NFSeXMLGZipB64        string       `json:"nfseXmlGZipB64"`
	Erros                 []apiMessage `json:"erros"`
	Alertas               []apiMessage `json:"alertas"`
}

// eventResponse respuesta del registro de evento.
type eventResponse struct {
	TipoAmbiente          int          `json:"tipoAmbiente"`
	DataHoraProcessamento string       `json:"dataHoraProcessamento"`
	EventoXMLGZipB64      string       `json:"eventoXmlGZipB64"`
	Erros                 []apiMessage `json:"erros"`
}

// Situaciones devueltas por la consulta.
const (
	situacaoAutorizada  = "AUTORIZADA"
	situacaoRejeitada   = "REJEITADA"
	situacaoProcessando = "PROCESSANDO"
)

// joinMessages concatena los mensajes de error conservando el texto de la autoridad.
func joinMessages(msgs []apiMessage) (code, reason string) {
	parts := make([]string, 0, len(msgs))
	for i, m := range msgs {
		if i == 0 {
			code = m.Codigo
		}
		p := m.Descricao
		if m.Codigo != "" {
			p = m.Codigo + " - " + p
		}
		if m.Complemento != "" {
			p += " (" + m.Complemento + ")"
		}
		parts = append(parts, p)
	}
	return code, strings.Join(parts, "; ")
}
